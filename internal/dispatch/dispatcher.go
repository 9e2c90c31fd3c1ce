package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/watcher"
)

// State is the dispatcher lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStaging
	StateWatching
	StateReacting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateWatching:
		return "watching"
	case StateReacting:
		return "reacting"
	default:
		return "unknown"
	}
}

// Runner runs tasks by name. *pipeline.Graph implements it.
type Runner interface {
	Run(ctx context.Context, bc pipeline.BuildContext, name string) (*pipeline.Report, error)
	Has(name string) bool
}

// Reloader is the reload transport.
type Reloader interface {
	NotifyClientsReload(ctx context.Context)
}

// Reaction describes the handling of one matched rule.
type Reaction struct {
	Rule     Rule
	Paths    []string
	Reports  []*pipeline.Report
	Reloaded bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithConsole prints the watching banner to c.
func WithConsole(c *logging.Console) Option {
	return func(d *Dispatcher) { d.console = c }
}

// WithWatchRoot makes Start watch root with fsnotify once staging is done.
// Paths delivered to the rules are relative to root.
func WithWatchRoot(root string, debounce time.Duration, ignore ...string) Option {
	return func(d *Dispatcher) {
		d.watchRoot = root
		d.debounce = debounce
		d.ignore = ignore
	}
}

// WithReactionHook calls fn after every rule reaction.
func WithReactionHook(fn func(Reaction)) Option {
	return func(d *Dispatcher) { d.onReaction = fn }
}

// Dispatcher is the resident watch loop. Change notifications may arrive
// from any goroutine; matched rules collect in a pending set that a single
// reactor goroutine drains, so tasks never run concurrently with each other.
type Dispatcher struct {
	runner   Runner
	rules    Rules
	reloader Reloader
	logger   logging.Logger
	console  *logging.Console

	watchRoot string
	debounce  time.Duration
	ignore    []string
	fw        *watcher.FileWatcher

	onReaction func(Reaction)

	mu      sync.Mutex
	state   State
	pending map[int][]string
	wake    chan struct{}
	done    chan struct{}
	stopped sync.Once
	ctx     context.Context
	bc      pipeline.BuildContext
	started bool
}

// New creates a dispatcher. reloader may be nil when reloading is disabled.
func New(runner Runner, rules Rules, reloader Reloader, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:   runner,
		rules:    rules,
		reloader: reloader,
		logger:   logging.NewNopLogger(),
		pending:  make(map[int][]string),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("dispatch")
	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Start validates the rule table, runs initialTasks in order, and then
// begins reacting to changes until ctx is cancelled. It returns after the
// initial tasks have run. Unknown task names are structural faults and are
// reported before anything runs.
func (d *Dispatcher) Start(ctx context.Context, bc pipeline.BuildContext, initialTasks []string) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errs.NewInternalError(errs.ErrCodeInvalidConfig, "dispatcher already started", nil)
	}
	d.started = true
	d.mu.Unlock()

	if err := d.rules.Validate(); err != nil {
		return errs.Wrap(err, errs.ErrorTypeStructure, errs.ErrCodeInvalidConfig, "watch rules")
	}
	for _, r := range d.rules {
		for _, task := range r.Tasks {
			if !d.runner.Has(task) {
				return fmt.Errorf("watch rule %q runs %q: %w", r.Name, task, pipeline.ErrUnknownTask)
			}
		}
	}
	for _, task := range initialTasks {
		if !d.runner.Has(task) {
			return fmt.Errorf("initial task %q: %w", task, pipeline.ErrUnknownTask)
		}
	}

	d.setState(StateStaging)
	for _, task := range initialTasks {
		if _, err := d.runner.Run(ctx, bc, task); err != nil {
			d.stop()
			return err
		}
		if ctx.Err() != nil {
			d.stop()
			return ctx.Err()
		}
	}

	d.mu.Lock()
	d.ctx = ctx
	d.bc = bc
	d.state = StateWatching
	d.mu.Unlock()

	if d.watchRoot != "" {
		fw, err := watcher.NewFileWatcher(d.watchRoot, d.debounce,
			watcher.WithIgnore(d.ignore...), watcher.WithLogger(d.logger))
		if err != nil {
			d.stop()
			return errs.NewIOError(errs.ErrCodeFilesystem, "create file watcher", err)
		}
		fw.AddFilter(watcher.NoEditorTempFilter)
		fw.AddHandler(func(events []watcher.ChangeEvent) error {
			d.HandleChanges(events)
			return nil
		})
		if err := fw.Start(ctx); err != nil {
			_ = fw.Stop()
			d.stop()
			return errs.NewIOError(errs.ErrCodeFilesystem, "start file watcher", err)
		}
		d.fw = fw
	}

	go d.react(ctx)

	d.logger.Info(ctx, "watching for changes", "rules", len(d.rules), "root", d.watchRoot)
	d.console.Watching()
	return nil
}

// HandleChanges queues the rules matching the changed paths. Events that
// arrive before the initial tasks have finished are dropped.
func (d *Dispatcher) HandleChanges(events []watcher.ChangeEvent) {
	d.mu.Lock()
	if d.state != StateWatching && d.state != StateReacting {
		d.mu.Unlock()
		return
	}
	queued := 0
	for _, ev := range events {
		for _, idx := range d.rules.matchIndexes(ev.Path) {
			d.pending[idx] = append(d.pending[idx], ev.Path)
			queued++
		}
	}
	d.mu.Unlock()

	if queued == 0 {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// takePending empties the pending set and returns it in table order.
func (d *Dispatcher) takePending() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil
	}
	idx := make([]int, 0, len(d.pending))
	for i := range d.pending {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	d.state = StateReacting
	return idx
}

// stop marks the dispatcher as finished and releases Wait.
func (d *Dispatcher) stop() {
	d.stopped.Do(func() {
		if d.fw != nil {
			_ = d.fw.Stop()
		}
		d.setState(StateIdle)
		close(d.done)
	})
}

func (d *Dispatcher) react(ctx context.Context) {
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}

		for {
			batch := d.takePending()
			if len(batch) == 0 {
				break
			}
			d.runBatch(ctx, batch)
			if ctx.Err() != nil {
				return
			}
		}

		d.mu.Lock()
		if len(d.pending) == 0 {
			d.state = StateWatching
		}
		d.mu.Unlock()
	}
}

// runBatch reacts to each pending rule in table order. A task shared by
// several rules of the same batch runs once.
func (d *Dispatcher) runBatch(ctx context.Context, batch []int) {
	ran := make(map[string]bool)
	for _, idx := range batch {
		d.mu.Lock()
		paths := d.pending[idx]
		delete(d.pending, idx)
		d.mu.Unlock()

		rule := d.rules[idx]
		reaction := Reaction{Rule: rule, Paths: paths}
		d.logger.Info(ctx, "change detected", "rule", rule.Name, "paths", len(paths), "first", paths[0])

		for _, task := range rule.Tasks {
			if ran[task] {
				continue
			}
			ran[task] = true
			report, err := d.runner.Run(ctx, d.bc, task)
			if err != nil {
				// Rule tasks are validated in Start; this is unreachable for a
				// static graph.
				d.logger.Error(ctx, err, "watch task failed to start", "rule", rule.Name, "task", task)
				continue
			}
			reaction.Reports = append(reaction.Reports, report)
			if ctx.Err() != nil {
				return
			}
		}

		if rule.Reload && d.reloader != nil {
			d.reloader.NotifyClientsReload(ctx)
			reaction.Reloaded = true
		}
		if d.onReaction != nil {
			d.onReaction(reaction)
		}
	}
}

// Wait blocks until the dispatcher has stopped and returns the context
// error that stopped it. Call it only after Start.
func (d *Dispatcher) Wait() error {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx.Err()
	}
	return nil
}
