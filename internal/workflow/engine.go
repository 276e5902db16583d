package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidDefinition indicates the workflow definition is missing required fields.
	ErrInvalidDefinition = errors.New("workflow: invalid definition")
	// ErrKeyRequired indicates the caller supplied an empty execution key.
	ErrKeyRequired = errors.New("workflow: execution key is required")
	// ErrEngineUnavailable indicates the engine or its store cannot serve the request.
	ErrEngineUnavailable = errors.New("workflow: engine unavailable")
)

// Definition describes a named workflow and its replay behaviour.
type Definition struct {
	Name string
	// Idempotent workflows record their result and replay it when the same
	// execution key is submitted again within RetentionTime.
	Idempotent    bool
	RetentionTime time.Duration
}

// ExecutionRecord captures the outcome of a completed workflow run.
type ExecutionRecord struct {
	WorkflowName string
	Key          string
	Result       []byte
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ExecutionStore persists completed executions for idempotent replay.
// Find returns nil when no record exists for the workflow/key pair.
type ExecutionStore interface {
	Find(ctx context.Context, workflowName, key string) (*ExecutionRecord, error)
	Save(ctx context.Context, record ExecutionRecord) error
	Delete(ctx context.Context, workflowName, key string) error
}

// EngineDeps wires the dependencies required by the workflow engine.
type EngineDeps struct {
	Store  ExecutionStore
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Engine executes workflow definitions with per-key serialisation,
// idempotent replay, and compensation on failure.
type Engine struct {
	store  ExecutionStore
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewEngine constructs an Engine validating required dependencies.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("workflow engine: execution store is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Engine{
		store: deps.Store,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		locks:  make(map[string]*keyLock),
	}, nil
}

// Result reports how an execution concluded.
type Result[T any] struct {
	Value T
	// Replayed is true when the value was served from a prior recorded run
	// instead of executing the workflow body.
	Replayed bool
}

// Execute runs fn under the definition's semantics. At most one run per
// execution key is in flight at a time; concurrent submissions for the same
// key wait for the active run to finish. For idempotent definitions a
// recorded result within the retention window short-circuits execution.
//
// When fn returns an error, registered compensations run in reverse
// registration order before the error is returned. Compensation failures are
// logged and swallowed so the unwind always reaches the oldest step.
func Execute[T any](ctx context.Context, e *Engine, def Definition, key string, fn func(ctx context.Context, run *Run) (T, error)) (Result[T], error) {
	var zero Result[T]
	if e == nil || e.store == nil {
		return zero, ErrEngineUnavailable
	}
	if strings.TrimSpace(def.Name) == "" {
		return zero, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.Idempotent && def.RetentionTime <= 0 {
		return zero, fmt.Errorf("%w: idempotent workflows require a retention time", ErrInvalidDefinition)
	}
	if strings.TrimSpace(key) == "" {
		return zero, ErrKeyRequired
	}
	if fn == nil {
		return zero, fmt.Errorf("%w: body function is required", ErrInvalidDefinition)
	}

	release, err := e.acquire(ctx, def.Name, key)
	if err != nil {
		return zero, err
	}
	defer release()

	if def.Idempotent {
		record, err := e.findCurrent(ctx, def, key)
		if err != nil {
			return zero, err
		}
		if record != nil {
			var value T
			if err := json.Unmarshal(record.Result, &value); err != nil {
				return zero, fmt.Errorf("workflow %s: decode recorded result: %w", def.Name, err)
			}
			e.logger(ctx, "workflow.replayed", map[string]any{
				"workflow": def.Name,
				"key":      key,
			})
			return Result[T]{Value: value, Replayed: true}, nil
		}
	}

	startedAt := e.now()
	run := &Run{engine: e, workflow: def.Name, key: key}

	value, err := fn(ctx, run)
	if err != nil {
		run.unwind(ctx, err)
		return zero, err
	}

	if def.Idempotent {
		payload, err := json.Marshal(value)
		if err != nil {
			return zero, fmt.Errorf("workflow %s: encode result: %w", def.Name, err)
		}
		record := ExecutionRecord{
			WorkflowName: def.Name,
			Key:          key,
			Result:       payload,
			StartedAt:    startedAt,
			FinishedAt:   e.now(),
		}
		if err := e.store.Save(ctx, record); err != nil {
			// The run already succeeded; losing the record only costs
			// replay protection, not correctness.
			e.logger(ctx, "workflow.record_failed", map[string]any{
				"workflow": def.Name,
				"key":      key,
				"error":    err.Error(),
			})
		}
	}

	return Result[T]{Value: value}, nil
}

// findCurrent returns the recorded execution when it is still within the
// retention window. Expired records are deleted opportunistically.
func (e *Engine) findCurrent(ctx context.Context, def Definition, key string) (*ExecutionRecord, error) {
	record, err := e.store.Find(ctx, def.Name, key)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: lookup execution: %w", def.Name, err)
	}
	if record == nil {
		return nil, nil
	}
	if e.now().Sub(record.FinishedAt) > def.RetentionTime {
		if err := e.store.Delete(ctx, def.Name, key); err != nil {
			e.logger(ctx, "workflow.purge_failed", map[string]any{
				"workflow": def.Name,
				"key":      key,
				"error":    err.Error(),
			})
		}
		return nil, nil
	}
	return record, nil
}

func (e *Engine) acquire(ctx context.Context, workflow, key string) (func(), error) {
	lockKey := workflow + "/" + key

	e.mu.Lock()
	lock, ok := e.locks[lockKey]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		e.locks[lockKey] = lock
	}
	lock.refs++
	e.mu.Unlock()

	releaseRef := func() {
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, lockKey)
		}
		e.mu.Unlock()
	}

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		releaseRef()
		return nil, ctx.Err()
	}

	return func() {
		<-lock.sem
		releaseRef()
	}, nil
}
