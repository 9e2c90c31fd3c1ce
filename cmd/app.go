package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/villasimius/sitebuild/internal/config"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/notify"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/site"
)

// app is the per-invocation wiring shared by the subcommands.
type app struct {
	cfg        *config.Config
	logger     logging.Logger
	console    *logging.Console
	production bool
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(viper.GetString("log.level"), viper.GetString("log.format"), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:        cfg,
		logger:     logger,
		console:    logging.NewConsole(cmd.OutOrStdout(), false),
		production: viper.GetBool("production"),
	}, nil
}

func newLogger(level, format string, out io.Writer) (logging.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch format {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("unsupported log format: %s (supported: text, json)", format)
	}
	return logging.NewLogger(&logging.LoggerConfig{Level: lvl, Format: format, Output: out}), nil
}

// site builds the pipeline with failures reported to notifier, or to the
// console and log when notifier is nil.
func (a *app) site(notifier pipeline.Notifier) (*site.Site, error) {
	if notifier == nil {
		notifier = notify.NewLog(a.logger, a.console)
	}
	return site.New(a.cfg, site.Options{
		Logger:   a.logger,
		Console:  a.console,
		Notifier: notifier,
	})
}
