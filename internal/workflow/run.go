package workflow

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Run tracks the forward progress of a single workflow execution and the
// compensations registered so far.
type Run struct {
	engine   *Engine
	workflow string
	key      string

	mu            sync.Mutex
	compensations []compensation
}

type compensation struct {
	step string
	fn   func(ctx context.Context) error
}

// Step executes forward and, when it succeeds, registers compensate to be
// invoked should a later step fail. A nil compensate marks the step as having
// no rollback action.
func (r *Run) Step(ctx context.Context, name string, forward func(ctx context.Context) error, compensate func(ctx context.Context) error) error {
	if forward == nil {
		return fmt.Errorf("%w: step %s has no forward function", ErrInvalidDefinition, name)
	}

	if err := forward(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if compensate != nil {
		r.mu.Lock()
		r.compensations = append(r.compensations, compensation{step: name, fn: compensate})
		r.mu.Unlock()
	}
	return nil
}

// ParallelStep is one branch of a Parallel invocation.
type ParallelStep struct {
	Name       string
	Forward    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Parallel runs the supplied steps concurrently and waits for all of them.
// Branches succeed or fail independently: a failing branch does not cancel
// its siblings, and compensations are registered for every branch that
// completed. The block reports the first branch error once all have finished.
func (r *Run) Parallel(ctx context.Context, steps ...ParallelStep) error {
	var group errgroup.Group
	for _, step := range steps {
		group.Go(func() error {
			return r.Step(ctx, step.Name, step.Forward, step.Compensate)
		})
	}
	return group.Wait()
}

// unwind invokes registered compensations in reverse registration order.
// Compensation errors are logged and swallowed so every step gets a chance
// to roll back.
func (r *Run) unwind(ctx context.Context, cause error) {
	r.mu.Lock()
	pending := r.compensations
	r.compensations = nil
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	r.engine.logger(ctx, "workflow.compensating", map[string]any{
		"workflow": r.workflow,
		"key":      r.key,
		"steps":    len(pending),
		"cause":    cause.Error(),
	})

	for i := len(pending) - 1; i >= 0; i-- {
		comp := pending[i]
		if err := comp.fn(ctx); err != nil {
			r.engine.logger(ctx, "workflow.compensation_failed", map[string]any{
				"workflow": r.workflow,
				"key":      r.key,
				"step":     comp.step,
				"error":    err.Error(),
			})
		}
	}
}
