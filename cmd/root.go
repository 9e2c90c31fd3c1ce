// Package cmd provides the sitebuild command line.
//
// Configuration is read, highest priority first, from command-line flags,
// SITEBUILD_ prefixed environment variables (SITEBUILD_RELOAD_PORT=4000),
// the file named by --config or SITEBUILD_CONFIG_FILE, and .sitebuild.yml
// in the working directory. Running sitebuild without a subcommand starts
// the watch loop.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sitebuild",
	Short: "Asset pipeline for static and Middleman-style sites",
	Long: `sitebuild compiles stylesheets, bundles scripts, optimizes images,
generates sprite sheets and icon fonts, and keeps browsers in sync while
you edit.

Quick Start:
  sitebuild                 Build once, then watch and live-reload
  sitebuild build           Production-ready build into the dist directory
  sitebuild run sass        Run individual tasks
  sitebuild tasks           Show every task and its stages`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runWatch,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .sitebuild.yml, can also use SITEBUILD_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.BoolP("production", "p", false, "emit minified, production-ready assets")

	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("production", flags.Lookup("production"))
}

func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("SITEBUILD_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("SITEBUILD_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sitebuild")
	}

	viper.SetEnvPrefix("SITEBUILD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing file falls back to defaults.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
