package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	errs "github.com/villasimius/sitebuild/internal/errors"
)

// Run executes the task called name stage by stage and returns its Report.
//
// The only error Run returns is a structural fault for an unknown name.
// Producer failures are notified and recorded in the Report. Cancelling ctx
// stops scheduling further stages; the Report's Interrupted field is set.
func (g *Graph) Run(ctx context.Context, bc BuildContext, name string) (*Report, error) {
	task, ok := g.Task(name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownTask)
	}

	report := &Report{
		RunID:      uuid.NewString(),
		Task:       task.Name,
		Production: bc.Production(),
		Started:    time.Now(),
	}
	bc = bc.withInvocation(report.RunID)
	log := g.opts.logger.With("task", task.Name, "run_id", report.RunID)
	log.Debug(ctx, "task started", "mode", bc.Mode(), "stages", len(task.Stages))
	g.opts.console.Starting(task.Name)

	report.Stages = g.runStages(ctx, bc, task, report)
	report.Finished = time.Now()
	if err := ctx.Err(); err != nil {
		report.Interrupted = err
	}

	g.metrics.recordRun(report)
	if report.Interrupted != nil {
		log.Warn(ctx, report.Interrupted, "task interrupted")
	} else {
		log.Info(ctx, "task finished", "duration", report.Duration(), "failures", len(report.Failures))
		g.opts.console.Finished(task.Name, report.Duration())
	}

	g.callbackMu.RLock()
	callbacks := append([]RunCallback(nil), g.callbacks...)
	g.callbackMu.RUnlock()
	for _, cb := range callbacks {
		cb(report)
	}

	return report, nil
}

// runStages runs the stages of task in order. A stage starts only after
// every member of the previous stage has returned.
func (g *Graph) runStages(ctx context.Context, bc BuildContext, task Task, report *Report) []StageReport {
	stages := make([]StageReport, 0, len(task.Stages))
	for i, stage := range task.Stages {
		if ctx.Err() != nil {
			break
		}
		sr := StageReport{
			Index:      i,
			Concurrent: stage.Concurrent,
			Started:    time.Now(),
			Members:    make([]MemberReport, len(stage.Members)),
		}

		if stage.Concurrent && len(stage.Members) > 1 {
			var eg errgroup.Group
			if g.opts.maxParallel > 0 {
				eg.SetLimit(g.opts.maxParallel)
			}
			for j, member := range stage.Members {
				j, member := j, member
				eg.Go(func() error {
					sr.Members[j] = g.runMember(ctx, bc, task.Name, i, member, report)
					return nil
				})
			}
			_ = eg.Wait()
		} else {
			for j, member := range stage.Members {
				if ctx.Err() != nil {
					sr.Members = sr.Members[:j]
					break
				}
				sr.Members[j] = g.runMember(ctx, bc, task.Name, i, member, report)
			}
		}

		sr.Finished = time.Now()
		stages = append(stages, sr)
	}
	return stages
}

func (g *Graph) runMember(ctx context.Context, bc BuildContext, taskName string, stage int, member string, report *Report) MemberReport {
	mr := MemberReport{Name: member, Started: time.Now()}

	if nested, isTask := g.tasks[member]; isTask {
		mr.Task = true
		mr.Stages = g.runStages(ctx, bc, nested, report)
		mr.Finished = time.Now()
		return mr
	}

	p := g.producers[member]
	log := g.opts.logger.With("task", taskName, "producer", member)
	log.Debug(ctx, "producer started")
	if taskName != member {
		g.opts.console.Starting(member)
	}

	mr.Err = g.produce(ctx, bc, p)
	mr.Finished = time.Now()

	interrupted := mr.Err != nil && ctx.Err() != nil
	g.metrics.recordProducer(mr.Err != nil && !interrupted)

	switch {
	case mr.Err == nil:
		log.Debug(ctx, "producer finished", "duration", mr.Duration())
		if taskName != member {
			g.opts.console.Finished(member, mr.Duration())
		}
	case interrupted:
		log.Debug(ctx, "producer interrupted")
	default:
		failure := StageError{
			Task:     taskName,
			Stage:    stage,
			Producer: member,
			Kind:     classify(mr.Err),
			Err:      mr.Err,
		}
		report.addFailure(failure)
		g.opts.notifier.Notify(ctx, failure)
	}
	return mr
}

// produce calls p with panic recovery and the optional timeout.
func (g *Graph) produce(ctx context.Context, bc BuildContext, p Producer) error {
	if g.opts.timeout <= 0 {
		return safeProduce(ctx, bc, p)
	}

	pctx, cancel := context.WithTimeout(ctx, g.opts.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- safeProduce(pctx, bc, p) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return timeoutError(p, g.opts.timeout, err)
		}
		return err
	case <-pctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The producer ignored cancellation; leave it behind and move on.
		return timeoutError(p, g.opts.timeout, pctx.Err())
	}
}

func timeoutError(p Producer, d time.Duration, cause error) error {
	return errs.NewBuildError(errs.ErrCodeTimeout, fmt.Sprintf("timed out after %s", d), cause).
		WithProducer("", p.Name())
}

func safeProduce(ctx context.Context, bc BuildContext, p Producer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.NewBuildError(errs.ErrCodePanic, fmt.Sprintf("panic: %v", r), nil).
				WithProducer("", p.Name()).
				WithContext("stack", string(debug.Stack()))
		}
	}()
	return p.Produce(ctx, bc)
}
