package main

import (
	"os"

	"github.com/villasimius/sitebuild/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
