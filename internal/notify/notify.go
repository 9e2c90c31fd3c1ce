// Package notify delivers producer failures to the developer: the console
// and log, the desktop notification center, and the browsers connected to
// the reload server.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/validation"
)

// Notifier is the pipeline failure hook.
type Notifier = pipeline.Notifier

// Summary is the short message shown outside the terminal.
func Summary(failure pipeline.StageError) string {
	return fmt.Sprintf("%s failed, check the logs..", failure.Producer)
}

// Log prints the red failure banner and writes a structured error entry.
type Log struct {
	logger  logging.Logger
	console *logging.Console
}

// NewLog creates a log notifier. Either argument may be nil.
func NewLog(logger logging.Logger, console *logging.Console) *Log {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Log{logger: logger.WithComponent("notify"), console: console}
}

func (l *Log) Notify(ctx context.Context, failure pipeline.StageError) {
	l.console.Failure(failure.Producer, failure.Err)
	l.logger.Error(ctx, failure.Err, "producer failed",
		"task", failure.Task,
		"stage", failure.Stage+1,
		"producer", failure.Producer,
		"kind", string(failure.Kind))
}

// CommandRunner runs an external command. Tests replace it.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Desktop shows a desktop notification through notify-send on Linux or
// osascript on macOS. Repeated failures of one producer inside the cooldown
// window produce a single notification.
type Desktop struct {
	title    string
	goos     string
	run      CommandRunner
	cooldown time.Duration
	timeout  time.Duration
	logger   logging.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// DesktopOption configures a Desktop notifier.
type DesktopOption func(*Desktop)

// WithCommandRunner replaces the process launcher.
func WithCommandRunner(run CommandRunner) DesktopOption {
	return func(d *Desktop) { d.run = run }
}

// WithGOOS overrides the detected operating system.
func WithGOOS(goos string) DesktopOption {
	return func(d *Desktop) { d.goos = goos }
}

// WithCooldown sets the per-producer suppression window.
func WithCooldown(cooldown time.Duration) DesktopOption {
	return func(d *Desktop) { d.cooldown = cooldown }
}

// NewDesktop creates a desktop notifier titled title.
func NewDesktop(title string, logger logging.Logger, opts ...DesktopOption) *Desktop {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	d := &Desktop{
		title:    title,
		goos:     runtime.GOOS,
		run:      execRunner,
		cooldown: 2 * time.Second,
		timeout:  5 * time.Second,
		logger:   logger.WithComponent("notify"),
		last:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// command returns the notification command for the current platform, or ""
// when the platform has none.
func (d *Desktop) command(message string) (string, []string) {
	switch d.goos {
	case "linux", "freebsd", "openbsd":
		return "notify-send", []string{"--app-name", d.title, d.title, message}
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", message, d.title)
		return "osascript", []string{"-e", script}
	default:
		return "", nil
	}
}

func (d *Desktop) Notify(ctx context.Context, failure pipeline.StageError) {
	d.mu.Lock()
	now := time.Now()
	if t, ok := d.last[failure.Producer]; ok && now.Sub(t) < d.cooldown {
		d.mu.Unlock()
		return
	}
	d.last[failure.Producer] = now
	d.mu.Unlock()

	name, args := d.command(Summary(failure))
	if name == "" {
		return
	}
	if err := validation.ValidateCommand(name, validation.ToolCommands); err != nil {
		d.logger.Warn(ctx, err, "desktop notifier rejected", "command", name)
		return
	}

	nctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.run(nctx, name, args...); err != nil {
		// A missing notification daemon must not disturb the build.
		d.logger.Debug(ctx, "desktop notification failed", "command", name, "error", err.Error())
	}
}

// Overlay is the browser side of the reload transport.
type Overlay interface {
	NotifyError(ctx context.Context, task, message string)
}

// Reload shows the failure in every connected browser.
type Reload struct {
	overlay Overlay
}

// NewReload creates a notifier that forwards failures to overlay.
func NewReload(overlay Overlay) *Reload {
	return &Reload{overlay: overlay}
}

func (r *Reload) Notify(ctx context.Context, failure pipeline.StageError) {
	msg := Summary(failure)
	if failure.Err != nil {
		msg = failure.Err.Error()
	}
	r.overlay.NotifyError(ctx, failure.Producer, msg)
}

// Multi fans a failure out to several notifiers in order.
type Multi []Notifier

// NewMulti drops nil entries.
func NewMulti(notifiers ...Notifier) Multi {
	out := make(Multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (m Multi) Notify(ctx context.Context, failure pipeline.StageError) {
	for _, n := range m {
		n.Notify(ctx, failure)
	}
}
