// Package pipeline implements the build task graph: named Tasks made of
// barrier-synchronized Stages whose members are Producers or other Tasks.
//
// A Graph is validated once when it is constructed. Running a task never
// fails because a producer failed; producer failures are reported to the
// configured Notifier and collected in the returned Report, and the graph
// carries on with the remaining members and stages.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// BuildContext carries the per-process build mode. It is built once from the
// command line and passed by value, so producers can read it concurrently but
// cannot change it.
type BuildContext struct {
	production bool
	resident   bool
	runID      string
	started    time.Time
	invocation string
}

// NewBuildContext creates the build context for this process. resident is
// true when the process stays up to react to file changes.
func NewBuildContext(production, resident bool) BuildContext {
	return BuildContext{
		production: production,
		resident:   resident,
		runID:      uuid.NewString(),
		started:    time.Now(),
	}
}

// Production reports whether producers should emit compressed output.
func (bc BuildContext) Production() bool { return bc.production }

// Resident reports whether the process is running in watch mode.
func (bc BuildContext) Resident() bool { return bc.resident }

// RunID identifies the build session of this process.
func (bc BuildContext) RunID() string { return bc.runID }

// Invocation identifies the Graph.Run call the producer is part of. It is
// shared by nested tasks and empty outside a run.
func (bc BuildContext) Invocation() string { return bc.invocation }

func (bc BuildContext) withInvocation(id string) BuildContext {
	bc.invocation = id
	return bc
}

// Started is when the context was created.
func (bc BuildContext) Started() time.Time { return bc.started }

// Mode names the build mode for logs.
func (bc BuildContext) Mode() string {
	if bc.production {
		return "production"
	}
	return "development"
}
