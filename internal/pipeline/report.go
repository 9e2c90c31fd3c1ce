package pipeline

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	errs "github.com/villasimius/sitebuild/internal/errors"
)

// FailureKind classifies a producer failure.
type FailureKind string

const (
	// KindTransform is an error from the producer's transform: a compile
	// error, a bad image, a timeout or a panic.
	KindTransform FailureKind = "transform"
	// KindFilesystem is a permission problem or missing path.
	KindFilesystem FailureKind = "filesystem"
)

// StageError records one producer failure inside a task run.
type StageError struct {
	Task     string      `json:"task" yaml:"task"`
	Stage    int         `json:"stage" yaml:"stage"`
	Producer string      `json:"producer" yaml:"producer"`
	Kind     FailureKind `json:"kind" yaml:"kind"`
	Err      error       `json:"-" yaml:"-"`
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s: stage %d: %s (%s): %v", e.Task, e.Stage+1, e.Producer, e.Kind, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

func classify(err error) FailureKind {
	if errs.IsFilesystemFault(err) {
		return KindFilesystem
	}
	return KindTransform
}

// MemberReport describes one stage member. Nested task members carry the
// stage reports of the nested run.
type MemberReport struct {
	Name     string        `json:"name" yaml:"name"`
	Task     bool          `json:"task,omitempty" yaml:"task,omitempty"`
	Started  time.Time     `json:"started" yaml:"started"`
	Finished time.Time     `json:"finished" yaml:"finished"`
	Err      error         `json:"-" yaml:"-"`
	Stages   []StageReport `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// Duration is how long the member ran.
func (m MemberReport) Duration() time.Duration { return m.Finished.Sub(m.Started) }

// StageReport describes one barrier-synchronized stage.
type StageReport struct {
	Index      int            `json:"index" yaml:"index"`
	Concurrent bool           `json:"concurrent" yaml:"concurrent"`
	Started    time.Time      `json:"started" yaml:"started"`
	Finished   time.Time      `json:"finished" yaml:"finished"`
	Members    []MemberReport `json:"members" yaml:"members"`
}

// Report is the outcome of one Graph.Run.
type Report struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Task       string        `json:"task" yaml:"task"`
	Production bool          `json:"production" yaml:"production"`
	Started    time.Time     `json:"started" yaml:"started"`
	Finished   time.Time     `json:"finished" yaml:"finished"`
	Stages     []StageReport `json:"stages" yaml:"stages"`
	Failures   []StageError  `json:"failures,omitempty" yaml:"failures,omitempty"`
	// Interrupted is set when the run stopped early because its context
	// was cancelled.
	Interrupted error `json:"-" yaml:"-"`

	mu sync.Mutex
}

func (r *Report) addFailure(f StageError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, f)
}

// OK reports whether every producer succeeded and the run was not interrupted.
func (r *Report) OK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures) == 0 && r.Interrupted == nil
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Err joins the recorded failures, or returns nil.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Failures) == 0 {
		return r.Interrupted
	}
	joined := make([]error, 0, len(r.Failures)+1)
	for _, f := range r.Failures {
		joined = append(joined, f)
	}
	if r.Interrupted != nil {
		joined = append(joined, r.Interrupted)
	}
	return stderrors.Join(joined...)
}

// FailuresOf returns the failures recorded for producer name.
func (r *Report) FailuresOf(name string) []StageError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StageError
	for _, f := range r.Failures {
		if f.Producer == name {
			out = append(out, f)
		}
	}
	return out
}
