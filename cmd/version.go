package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/villasimius/sitebuild/internal/version"
)

var (
	versionOutput   = outputFormat("table")
	versionShort    bool
	versionDetailed bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the sitebuild version, commit, build time, Go version and
platform.

Examples:
  sitebuild version              # One line
  sitebuild version --detailed   # Every known field
  sitebuild version -o json      # Machine readable`,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().VarP(&versionOutput, "output", "o", "output format (table|json|yaml)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "show the version only")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "show detailed version information")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch versionOutput {
	case "json":
		return writeJSON(out, info)
	case "yaml":
		return writeYAML(out, info)
	}

	switch {
	case versionShort:
		fmt.Fprintln(out, info.Short())
	case versionDetailed:
		fmt.Fprintln(out, info.Detailed())
	default:
		fmt.Fprintf(out, "sitebuild %s\n", info.Short())
		fmt.Fprintf(out, "Go: %s\nPlatform: %s\n", info.GoVersion, info.Platform)
	}
	return nil
}
