package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/villasimius/sitebuild/internal/dispatch"
	"github.com/villasimius/sitebuild/internal/notify"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/reload"
	"github.com/villasimius/sitebuild/internal/site"
)

var watchNoReload bool

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Build, then rebuild on change and live-reload browsers",
	Long: `Run the initial watch build, start the live-reload proxy in front of the
development server, and re-run the tasks affected by every source change
until interrupted.

Examples:
  sitebuild watch                  # Proxy localhost:4567 on localhost:3000
  sitebuild watch --no-reload      # Rebuild only
  SITEBUILD_RELOAD_PROXY=localhost:9292 sitebuild`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchNoReload, "no-reload", false, "do not start the live-reload server")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifiers := []notify.Notifier{notify.NewLog(a.logger, a.console)}
	if cfg.Notify.Desktop {
		notifiers = append(notifiers, notify.NewDesktop("sitebuild", a.logger))
	}

	var (
		server   *reload.Server
		reloader dispatch.Reloader
	)
	if cfg.Reload.Enabled && !watchNoReload {
		server, err = reload.NewServer(reload.Config{
			Addr:  cfg.ReloadAddress(),
			Proxy: cfg.Reload.Proxy,
			Delay: cfg.Reload.Delay,
		}, a.logger)
		if err != nil {
			return err
		}
		reloader = server
		notifiers = append(notifiers, notify.NewReload(server))
	}

	s, err := a.site(notify.NewMulti(notifiers...))
	if err != nil {
		return err
	}
	defer s.Close()

	bc := pipeline.NewBuildContext(a.production, true)
	serverErr := make(chan error, 1)
	if server != nil {
		addr, err := server.Listen()
		if err != nil {
			return err
		}
		server.SetSession(bc)
		server.SetMetrics(s.Graph.Metrics().Snapshot)
		s.Graph.AddCallback(server.Record)
		go func() { serverErr <- server.Start(ctx) }()
		a.console.Info("Proxying %s at http://%s", cfg.Reload.Proxy, addr)
	}

	d := dispatch.New(s.Graph, s.Rules, reloader,
		dispatch.WithLogger(a.logger),
		dispatch.WithConsole(a.console),
		dispatch.WithWatchRoot(s.Config.Paths.Root, cfg.Watch.Debounce, cfg.Watch.Ignore...),
		dispatch.WithReactionHook(func(r dispatch.Reaction) {
			a.logger.Debug(ctx, "rule reacted", "rule", r.Rule.Name, "paths", strings.Join(r.Paths, ","), "reloaded", r.Reloaded)
		}),
	)

	if err := d.Start(ctx, bc, []string{site.TaskWatchInit}); err != nil {
		return err
	}
	if reloader != nil {
		reloader.NotifyClientsReload(ctx)
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			_ = d.Wait()
			return fmt.Errorf("reload server: %w", err)
		}
	}
	_ = d.Wait()

	if server != nil {
		select {
		case err := <-serverErr:
			if err != nil {
				a.logger.Warn(context.Background(), err, "reload server shutdown")
			}
		case <-time.After(6 * time.Second):
		}
	}
	a.console.Info("Stopped watching")
	return nil
}
