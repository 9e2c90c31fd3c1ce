package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/site"
)

var buildStrict bool

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build every asset once",
	Long: `Run the build task: clean, optimize images, generate sprites and the
icon font, copy fonts and images, compile stylesheets, bundle scripts.

A failing producer is reported and the build carries on. The exit status is
non-zero only for configuration or task-graph errors, or, with --strict, when
any producer failed.

Examples:
  sitebuild build                 # Development build
  sitebuild build --production    # Minified production build
  sitebuild build --strict        # Fail CI on any producer error`,
	RunE: runBuild,
}

var runCmd = &cobra.Command{
	Use:   "run <task>...",
	Short: "Run the named tasks in order",
	Long: `Run one or more tasks or producers in order, for example

  sitebuild run clean sass browserify
  sitebuild run release --production`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(runCmd)

	buildCmd.Flags().BoolVar(&buildStrict, "strict", false, "exit non-zero when any producer fails")
	runCmd.Flags().BoolVar(&buildStrict, "strict", false, "exit non-zero when any producer fails")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	return runNamed(cmd, []string{site.TaskBuild})
}

func runTasks(cmd *cobra.Command, args []string) error {
	return runNamed(cmd, args)
}

func runNamed(cmd *cobra.Command, names []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	s, err := a.site(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, name := range names {
		if !s.Graph.Has(name) {
			return fmt.Errorf("%q: %w", name, pipeline.ErrUnknownTask)
		}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bc := pipeline.NewBuildContext(a.production, false)
	failures := 0
	for _, name := range names {
		report, err := s.Graph.Run(ctx, bc, name)
		if err != nil {
			return err
		}
		failures += len(report.Failures)
		if report.Interrupted != nil {
			return report.Interrupted
		}
	}

	if failures > 0 && buildStrict {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, fmt.Sprintf("%d producer(s) failed", failures), nil)
	}
	return nil
}

// commandContext is cmd's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
