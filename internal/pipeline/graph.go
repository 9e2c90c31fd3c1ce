package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/logging"
)

// Structural faults returned by NewGraph and Run. Match them with errors.Is.
var (
	ErrUnknownTask = errs.NewStructureError(errs.ErrCodeUnknownTask, "unknown task")
	ErrCycle       = errs.NewStructureError(errs.ErrCodeCycle, "cyclic task reference")
	ErrDuplicate   = errs.NewStructureError(errs.ErrCodeDuplicate, "duplicate name")
)

// Stage is a barrier-synchronized group of members. Each member names a
// registered producer or another task. Members of a concurrent stage start
// together; otherwise they run one after another in order.
type Stage struct {
	Members    []string `json:"members" yaml:"members"`
	Concurrent bool     `json:"concurrent" yaml:"concurrent"`
}

// Step is a stage with a single member.
func Step(name string) Stage {
	return Stage{Members: []string{name}}
}

// Parallel is a stage whose members run concurrently.
func Parallel(names ...string) Stage {
	return Stage{Members: names, Concurrent: true}
}

func (s Stage) String() string {
	if len(s.Members) == 1 {
		return s.Members[0]
	}
	if s.Concurrent {
		return "[" + strings.Join(s.Members, ", ") + "]"
	}
	return strings.Join(s.Members, " -> ")
}

// Task is a named, ordered sequence of stages.
type Task struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []Stage `json:"stages" yaml:"stages"`
}

type options struct {
	maxParallel int
	timeout     time.Duration
	notifier    Notifier
	logger      logging.Logger
	console     *logging.Console
}

// Option configures a Graph.
type Option func(*options)

// WithMaxParallel bounds how many members of a concurrent stage run at
// once. Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(o *options) { o.maxParallel = n }
}

// WithProducerTimeout fails a producer that runs longer than d. Zero
// disables the timeout.
func WithProducerTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithNotifier sets the notifier that receives producer failures.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConsole prints task start and finish lines to c.
func WithConsole(c *logging.Console) Option {
	return func(o *options) { o.console = c }
}

// Graph is a validated set of producers and tasks.
type Graph struct {
	producers map[string]Producer
	tasks     map[string]Task
	order     []string
	opts      options
	metrics   *Metrics

	callbackMu sync.RWMutex
	callbacks  []RunCallback
}

// NewGraph registers producers and tasks and validates the result: names
// must be unique across producers and tasks, every stage member must
// resolve, and tasks may not reference themselves directly or indirectly.
func NewGraph(producers []Producer, tasks []Task, opts ...Option) (*Graph, error) {
	g := &Graph{
		producers: make(map[string]Producer, len(producers)),
		tasks:     make(map[string]Task, len(tasks)),
		metrics:   NewMetrics(),
		opts: options{
			notifier: NotifierFunc(func(_ context.Context, _ StageError) {}),
			logger:   logging.NewNopLogger(),
		},
	}
	for _, opt := range opts {
		opt(&g.opts)
	}
	g.opts.logger = g.opts.logger.WithComponent("pipeline")

	for _, p := range producers {
		name := p.Name()
		if name == "" {
			return nil, errs.NewStructureError(errs.ErrCodeInvalidConfig, "producer with empty name")
		}
		if _, dup := g.producers[name]; dup {
			return nil, fmt.Errorf("producer %q: %w", name, ErrDuplicate)
		}
		g.producers[name] = p
	}

	for _, t := range tasks {
		if t.Name == "" {
			return nil, errs.NewStructureError(errs.ErrCodeInvalidConfig, "task with empty name")
		}
		if _, dup := g.tasks[t.Name]; dup {
			return nil, fmt.Errorf("task %q: %w", t.Name, ErrDuplicate)
		}
		if _, dup := g.producers[t.Name]; dup {
			return nil, fmt.Errorf("task %q shadows a producer: %w", t.Name, ErrDuplicate)
		}
		g.tasks[t.Name] = t
		g.order = append(g.order, t.Name)
	}

	for _, name := range g.order {
		for i, stage := range g.tasks[name].Stages {
			for _, member := range stage.Members {
				if !g.Has(member) {
					return nil, fmt.Errorf("task %q stage %d references %q: %w", name, i+1, member, ErrUnknownTask)
				}
			}
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycles runs a depth-first search over task references, keeping the
// tasks on the current path in temporary and finished tasks in permanent.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			return fmt.Errorf("%s -> %s: %w", strings.Join(path, " -> "), name, ErrCycle)
		}
		temporary[name] = true
		path = append(path, name)

		for _, stage := range g.tasks[name].Stages {
			for _, member := range stage.Members {
				if _, isTask := g.tasks[member]; isTask {
					if err := visit(member); err != nil {
						return err
					}
				}
			}
		}

		path = path[:len(path)-1]
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether name is a task or a producer.
func (g *Graph) Has(name string) bool {
	if _, ok := g.tasks[name]; ok {
		return true
	}
	_, ok := g.producers[name]
	return ok
}

// Task returns the task called name. A producer name resolves to an
// implicit single-stage task.
func (g *Graph) Task(name string) (Task, bool) {
	if t, ok := g.tasks[name]; ok {
		return t, true
	}
	if p, ok := g.producers[name]; ok {
		return Task{Name: p.Name(), Stages: []Stage{Step(p.Name())}}, true
	}
	return Task{}, false
}

// Tasks returns the declared tasks in declaration order followed by the
// implicit producer tasks sorted by name.
func (g *Graph) Tasks() []Task {
	out := make([]Task, 0, len(g.order)+len(g.producers))
	for _, name := range g.order {
		out = append(out, g.tasks[name])
	}
	names := make([]string, 0, len(g.producers))
	for name := range g.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t, _ := g.Task(name)
		out = append(out, t)
	}
	return out
}

// Metrics returns the graph's run counters.
func (g *Graph) Metrics() *Metrics { return g.metrics }

// AddCallback registers cb to receive every finished Report.
func (g *Graph) AddCallback(cb RunCallback) {
	g.callbackMu.Lock()
	defer g.callbackMu.Unlock()
	g.callbacks = append(g.callbacks, cb)
}

// PlanMember is one resolved stage member.
type PlanMember struct {
	Name    string   `json:"name" yaml:"name"`
	Kind    string   `json:"kind" yaml:"kind"`
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Plan    *Plan    `json:"plan,omitempty" yaml:"plan,omitempty"`
}

// PlanStage is one stage of a Plan.
type PlanStage struct {
	Concurrent bool         `json:"concurrent" yaml:"concurrent"`
	Members    []PlanMember `json:"members" yaml:"members"`
}

// Plan is a task with every nested task expanded.
type Plan struct {
	Task        string      `json:"task" yaml:"task"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []PlanStage `json:"stages" yaml:"stages"`
}

// Producers lists the producers the plan runs, in stage order.
func (p *Plan) Producers() []string {
	var out []string
	for _, stage := range p.Stages {
		for _, m := range stage.Members {
			if m.Plan != nil {
				out = append(out, m.Plan.Producers()...)
				continue
			}
			out = append(out, m.Name)
		}
	}
	return out
}

// Describe expands name into a Plan.
func (g *Graph) Describe(name string) (*Plan, error) {
	t, ok := g.Task(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownTask)
	}
	plan := &Plan{Task: t.Name, Description: t.Description}
	for _, stage := range t.Stages {
		ps := PlanStage{Concurrent: stage.Concurrent}
		for _, member := range stage.Members {
			if p, isProducer := g.producers[member]; isProducer {
				ps.Members = append(ps.Members, PlanMember{Name: member, Kind: "producer", Outputs: p.Outputs()})
				continue
			}
			nested, err := g.Describe(member)
			if err != nil {
				return nil, err
			}
			ps.Members = append(ps.Members, PlanMember{Name: member, Kind: "task", Plan: nested})
		}
		plan.Stages = append(plan.Stages, ps)
	}
	return plan, nil
}
