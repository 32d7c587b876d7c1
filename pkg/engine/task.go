package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/solo/pkg/telemetry"
)

// StepAction is one unit of work inside a phase. Actions of a phase run in order.
type StepAction func(ctx context.Context) error

// Phase is an ordered group of actions executed by a single Step.
type Phase struct {
	Name    string
	Actions []StepAction
}

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskStateNotStarted TaskState = "not_started"
	TaskStateRunning    TaskState = "running"
	TaskStateDone       TaskState = "done"
	TaskStateFailed     TaskState = "failed"
)

// PhaseEvent describes a finished phase.
type PhaseEvent struct {
	Index    int
	Name     string
	Duration time.Duration
	Err      error
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithObserver registers fn to be called after every phase.
func WithObserver(fn func(PhaseEvent)) TaskOption {
	return func(t *Task) {
		t.observers = append(t.observers, fn)
	}
}

// Observe registers fn on an existing task.
func (t *Task) Observe(fn func(PhaseEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// WithTaskMetrics records phase outcomes in m.
func WithTaskMetrics(m *telemetry.Metrics) TaskOption {
	return func(t *Task) {
		t.metrics = m
	}
}

// Task executes phases one at a time so that a caller can poll progress.
// Each phase runs at most once.
type Task struct {
	mu        sync.Mutex
	phases    []Phase
	next      int
	state     TaskState
	err       error
	observers []func(PhaseEvent)
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// NewTask creates a task over the given phases.
func NewTask(phases []Phase, opts ...TaskOption) *Task {
	t := &Task{
		phases: phases,
		state:  TaskStateNotStarted,
		tracer: otel.Tracer(telemetry.InstrumentationName),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start runs the first phase. Calling Start on a started task does nothing.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskStateNotStarted {
		return nil
	}
	return t.start(ctx)
}

func (t *Task) start(ctx context.Context) error {
	t.state = TaskStateRunning
	if len(t.phases) == 0 {
		t.state = TaskStateDone
		return nil
	}
	return t.runNext(ctx)
}

// Step advances the task by exactly one phase and reports whether every
// phase has completed. A task that was never started is started instead.
// A failed task returns its original error on every call.
func (t *Task) Step(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case TaskStateNotStarted:
		if err := t.start(ctx); err != nil {
			return false, err
		}
		return t.state == TaskStateDone, nil
	case TaskStateFailed:
		return false, t.err
	case TaskStateDone:
		return true, nil
	}

	if err := t.runNext(ctx); err != nil {
		return false, err
	}
	return t.state == TaskStateDone, nil
}

// Done reports whether every phase completed successfully.
func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TaskStateDone
}

// Started reports whether Start (or a first Step) has run.
func (t *Task) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != TaskStateNotStarted
}

// State returns the current task state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error that failed the task, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Progress returns the number of completed phases and the total.
func (t *Task) Progress() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next, len(t.phases)
}

// runNext must be called with mu held.
func (t *Task) runNext(ctx context.Context) error {
	index := t.next
	phase := t.phases[index]

	ctx, span := t.tracer.Start(ctx, "task.phase",
		trace.WithAttributes(
			telemetry.AttrPhaseName.String(phase.Name),
			telemetry.AttrPhaseIndex.Int(index),
		),
	)
	defer span.End()

	started := time.Now()
	err := runPhase(ctx, phase)
	duration := time.Since(started)

	t.metrics.RecordPhase(phase.Name, err == nil, duration)

	if err != nil {
		telemetry.RecordError(span, err)
		t.state = TaskStateFailed
		t.err = fmt.Errorf("phase %q failed: %w", phase.Name, err)
	} else {
		telemetry.RecordSuccess(span)
		t.next++
		if t.next == len(t.phases) {
			t.state = TaskStateDone
		}
	}

	event := PhaseEvent{Index: index, Name: phase.Name, Duration: duration, Err: err}
	for _, fn := range t.observers {
		fn(event)
	}

	return t.err
}

func runPhase(ctx context.Context, phase Phase) error {
	for _, action := range phase.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := action(ctx); err != nil {
			return err
		}
	}
	return nil
}
