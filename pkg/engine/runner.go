package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/telemetry"
)

const (
	// DefaultPollInterval is the delay between CheckCreateComplete calls.
	DefaultPollInterval = 5 * time.Second

	// DefaultCreateTimeout bounds the whole create-and-poll cycle.
	DefaultCreateTimeout = time.Hour
)

// Runner drives resources through the create polling protocol and delete.
type Runner struct {
	pollInterval  time.Duration
	createTimeout time.Duration
	store         StateStore
	metrics       *telemetry.Metrics
	tracer        *telemetry.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPollInterval sets the delay between completion checks.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.pollInterval = d
	}
}

// WithCreateTimeout bounds the create cycle. Zero disables the bound.
func WithCreateTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.createTimeout = d
	}
}

// WithStateStore persists status transitions and phase events.
func WithStateStore(s StateStore) RunnerOption {
	return func(r *Runner) {
		r.store = s
	}
}

// WithRunnerMetrics records resource operations in m.
func WithRunnerMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer wraps each resource action in a span.
func WithTracer(t *telemetry.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = t
	}
}

// NewRunner creates a runner with default timings.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		pollInterval:  DefaultPollInterval,
		createTimeout: DefaultCreateTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create provisions res and polls it until every phase completed.
func (r *Runner) Create(ctx context.Context, res Resource) (err error) {
	started := time.Now()
	logger := log.With().
		Str("resource", res.Name()).
		Str("type", res.Type()).
		Logger()

	ctx, finish := r.startSpan(ctx, res, ActionCreate)
	defer func() { finish(err) }()

	if r.createTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.createTimeout)
		defer cancel()
	}

	r.saveStatus(ctx, res, ResourceStatusCreating, "")

	task, err := res.Create(ctx)
	if err != nil {
		if !IsThrottled(err) || res.ResourceID() == "" {
			return r.fail(ctx, res, ActionCreate, started, err)
		}
		logger.Warn().Err(err).Msg("Create throttled, continuing with existing resource")
		r.appendEvent(ctx, res, EventTypeWarning, "", err.Error())
	}

	if task != nil {
		task.Observe(func(ev PhaseEvent) {
			r.recordPhase(ctx, res, ev)
		})
		r.saveStatus(ctx, res, ResourceStatusCreating, "resource id assigned")
	}

	for {
		done, err := res.CheckCreateComplete(ctx, task)
		if err != nil {
			return r.fail(ctx, res, ActionCreate, started, err)
		}
		if done {
			break
		}

		select {
		case <-ctx.Done():
			cause := NewPermanentError("resource did not complete in time", ctx.Err()).
				WithCode(ErrCodeTimeout)
			return r.fail(ctx, res, ActionCreate, started, cause)
		case <-time.After(r.pollInterval):
		}
	}

	r.saveStatus(ctx, res, ResourceStatusReady, "")
	r.metrics.RecordResourceOperation(res.Type(), string(ActionCreate), true, time.Since(started))
	logger.Info().
		Str("resource_id", res.ResourceID()).
		Dur("duration", time.Since(started)).
		Msg("Resource created")
	return nil
}

// Delete removes res. Deleting a resource without a physical ID, or one
// that is already gone, succeeds.
func (r *Runner) Delete(ctx context.Context, res Resource) (err error) {
	started := time.Now()
	logger := log.With().
		Str("resource", res.Name()).
		Str("type", res.Type()).
		Logger()

	if res.ResourceID() == "" {
		r.restoreResourceID(ctx, res)
	}
	if res.ResourceID() == "" {
		logger.Debug().Msg("Resource has no ID, nothing to delete")
		return nil
	}

	ctx, finish := r.startSpan(ctx, res, ActionDelete)
	defer func() { finish(err) }()

	r.saveStatus(ctx, res, ResourceStatusDeleting, "")

	if err := res.Delete(ctx); err != nil {
		if !IsNotFound(err) {
			return r.fail(ctx, res, ActionDelete, started, err)
		}
		logger.Warn().Err(err).Msg("Resource already gone")
	}

	res.SetResourceID("")
	r.saveStatus(ctx, res, ResourceStatusDeleted, "")
	r.metrics.RecordResourceOperation(res.Type(), string(ActionDelete), true, time.Since(started))
	logger.Info().Dur("duration", time.Since(started)).Msg("Resource deleted")
	return nil
}

func (r *Runner) fail(ctx context.Context, res Resource, action Action, started time.Time, err error) error {
	class, code := ClassOf(err)
	r.metrics.RecordResourceOperation(res.Type(), string(action), false, time.Since(started))
	r.metrics.RecordError(string(class), code)

	// Record the failure even when ctx expired.
	storeCtx := context.WithoutCancel(ctx)
	r.saveStatus(storeCtx, res, ResourceStatusError, err.Error())

	log.Error().
		Err(err).
		Str("resource", res.Name()).
		Str("action", string(action)).
		Str("class", string(class)).
		Msg("Resource action failed")

	return &ResourceFailure{Resource: res.Name(), Action: action, Err: err}
}

func (r *Runner) recordPhase(ctx context.Context, res Resource, ev PhaseEvent) {
	logger := log.With().
		Str("resource", res.Name()).
		Str("phase", ev.Name).
		Int("index", ev.Index).
		Dur("duration", ev.Duration).
		Logger()

	if ev.Err != nil {
		logger.Error().Err(ev.Err).Msg("Phase failed")
		r.appendEvent(ctx, res, EventTypePhaseFailed, ev.Name, ev.Err.Error())
		return
	}
	logger.Info().Msg("Phase completed")
	r.appendEvent(ctx, res, EventTypePhaseCompleted, ev.Name,
		fmt.Sprintf("phase %s completed in %s", ev.Name, ev.Duration.Round(time.Millisecond)))
}

func (r *Runner) restoreResourceID(ctx context.Context, res Resource) {
	if r.store == nil {
		return
	}
	rec, err := r.store.GetResource(ctx, res.Name())
	if err != nil {
		if !IsNotFound(err) {
			log.Warn().Err(err).Str("resource", res.Name()).Msg("Failed to load resource state")
		}
		return
	}
	if rec.Status != ResourceStatusDeleted {
		res.SetResourceID(rec.ResourceID)
	}
}

func (r *Runner) saveStatus(ctx context.Context, res Resource, status ResourceStatus, reason string) {
	if r.store == nil {
		return
	}

	now := time.Now().UTC()
	rec := &ResourceRecord{
		Name:         res.Name(),
		Type:         res.Type(),
		ResourceID:   res.ResourceID(),
		Status:       status,
		StatusReason: reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if existing, err := r.store.GetResource(ctx, res.Name()); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if p, ok := res.(PropertiesProvider); ok {
		data, err := json.Marshal(p.Properties())
		if err == nil {
			rec.Properties = data
		}
	}

	if err := r.store.UpsertResource(ctx, rec); err != nil {
		log.Warn().Err(err).Str("resource", res.Name()).Msg("Failed to save resource state")
		return
	}
	r.appendEvent(ctx, res, EventTypeResourceChanged, "", fmt.Sprintf("status changed to %s", status))
}

func (r *Runner) appendEvent(ctx context.Context, res Resource, typ EventType, phase, message string) {
	if r.store == nil {
		return
	}
	ev := &Event{
		ResourceName: res.Name(),
		Type:         typ,
		Phase:        phase,
		Message:      message,
		Timestamp:    time.Now().UTC(),
	}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("resource", res.Name()).Msg("Failed to append event")
	}
}

func (r *Runner) startSpan(ctx context.Context, res Resource, action Action) (context.Context, func(error)) {
	if r.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := r.tracer.StartResourceSpan(ctx, res.Name(), res.Type(), string(action))
	return ctx, func(err error) {
		if err != nil {
			var failure *ResourceFailure
			if errors.As(err, &failure) {
				err = failure.Err
			}
			telemetry.RecordError(span, err)
		} else {
			span.SetAttributes(telemetry.AttrResourceID.String(res.ResourceID()))
			telemetry.RecordSuccess(span)
		}
		span.End()
	}
}
