package pipeline

import "context"

// Producer turns matched source files into build artifacts. Produce must
// honor ctx cancellation where the underlying tool allows it.
type Producer interface {
	Name() string
	// Outputs lists the directories or files the producer writes.
	Outputs() []string
	Produce(ctx context.Context, bc BuildContext) error
}

// ProducerFunc adapts a function into a Producer.
type ProducerFunc struct {
	name    string
	outputs []string
	fn      func(ctx context.Context, bc BuildContext) error
}

// NewProducerFunc wraps fn as a Producer called name.
func NewProducerFunc(name string, fn func(ctx context.Context, bc BuildContext) error, outputs ...string) *ProducerFunc {
	return &ProducerFunc{name: name, outputs: outputs, fn: fn}
}

func (p *ProducerFunc) Name() string      { return p.name }
func (p *ProducerFunc) Outputs() []string { return p.outputs }

func (p *ProducerFunc) Produce(ctx context.Context, bc BuildContext) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, bc)
}

// Notifier receives every producer failure as it happens.
type Notifier interface {
	Notify(ctx context.Context, failure StageError)
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, failure StageError)

func (f NotifierFunc) Notify(ctx context.Context, failure StageError) { f(ctx, failure) }

// RunCallback is called after every completed Run.
type RunCallback func(report *Report)
