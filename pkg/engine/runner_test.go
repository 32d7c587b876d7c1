package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/solo/pkg/telemetry"
)

type fakeResource struct {
	name       string
	id         string
	phases     []Phase
	createErr  error
	assignID   bool
	deleteErrs []error
	creates    int
	checks     int
	deletes    int
}

func (r *fakeResource) Name() string            { return r.name }
func (r *fakeResource) Type() string            { return "Test::Resource" }
func (r *fakeResource) ResourceID() string      { return r.id }
func (r *fakeResource) SetResourceID(id string) { r.id = id }
func (r *fakeResource) Properties() any         { return map[string]string{"host": "10.0.0.5"} }

func (r *fakeResource) Create(ctx context.Context) (*Task, error) {
	r.creates++
	if r.assignID {
		r.id = "abc-123"
	}
	if r.createErr != nil {
		return nil, r.createErr
	}
	return NewTask(r.phases), nil
}

func (r *fakeResource) CheckCreateComplete(ctx context.Context, task *Task) (bool, error) {
	r.checks++
	if task == nil {
		return true, nil
	}
	return task.Step(ctx)
}

func (r *fakeResource) Delete(ctx context.Context) error {
	r.deletes++
	if len(r.deleteErrs) == 0 {
		return nil
	}
	err := r.deleteErrs[0]
	r.deleteErrs = r.deleteErrs[1:]
	return err
}

type memoryStore struct {
	mu        sync.Mutex
	resources map[string]*ResourceRecord
	events    []*Event
}

func newMemoryStore() *memoryStore {
	return &memoryStore{resources: make(map[string]*ResourceRecord)}
}

func (s *memoryStore) UpsertResource(ctx context.Context, rec *ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.resources[rec.Name] = &cp
	return nil
}

func (s *memoryStore) GetResource(ctx context.Context, name string) (*ResourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.resources[name]
	if !ok {
		return nil, NewNotFoundError("resource not found", nil).WithResource(name)
	}
	cp := *rec
	return &cp, nil
}

func (s *memoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryStore) eventsOf(typ EventType) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRunner(store StateStore) *Runner {
	return NewRunner(
		WithPollInterval(time.Millisecond),
		WithCreateTimeout(5*time.Second),
		WithStateStore(store),
	)
}

func okPhases(counts map[string]int, names ...string) []Phase {
	phases := make([]Phase, 0, len(names))
	for _, name := range names {
		name := name
		phases = append(phases, Phase{Name: name, Actions: []StepAction{
			func(ctx context.Context) error {
				counts[name]++
				return nil
			},
		}})
	}
	return phases
}

func TestRunnerCreate(t *testing.T) {
	counts := make(map[string]int)
	res := &fakeResource{
		name:     "chef",
		assignID: true,
		phases:   okPhases(counts, "bootstrap", "kitchen", "secrets", "run"),
	}
	store := newMemoryStore()

	if err := newTestRunner(store).Create(context.Background(), res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.creates != 1 {
		t.Errorf("expected 1 create, got %d", res.creates)
	}
	if res.checks != 4 {
		t.Errorf("expected 4 completion checks, got %d", res.checks)
	}
	for name, n := range counts {
		if n != 1 {
			t.Errorf("expected phase %s once, got %d", name, n)
		}
	}

	rec, err := store.GetResource(context.Background(), "chef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != ResourceStatusReady {
		t.Errorf("expected ready, got %s", rec.Status)
	}
	if rec.ResourceID != "abc-123" {
		t.Errorf("expected resource id to be persisted, got %q", rec.ResourceID)
	}
	if string(rec.Properties) != `{"host":"10.0.0.5"}` {
		t.Errorf("unexpected properties: %s", rec.Properties)
	}
	if got := len(store.eventsOf(EventTypePhaseCompleted)); got != 4 {
		t.Errorf("expected 4 phase events, got %d", got)
	}
}

func TestRunnerCreateThrottled(t *testing.T) {
	tests := []struct {
		name      string
		assignID  bool
		createErr error
		wantErr   bool
	}{
		{
			name:      "throttled with id is benign",
			assignID:  true,
			createErr: NewThrottledError("over limit", nil),
		},
		{
			name:      "throttled without id fails",
			createErr: NewThrottledError("over limit", nil),
			wantErr:   true,
		},
		{
			name:      "permanent error fails",
			assignID:  true,
			createErr: NewPermanentError("bad properties", nil),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResource{name: "chef", assignID: tt.assignID, createErr: tt.createErr}
			store := newMemoryStore()

			err := newTestRunner(store).Create(context.Background(), res)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.wantErr && len(store.eventsOf(EventTypeWarning)) != 1 {
				t.Error("expected a warning event for the throttled create")
			}
		})
	}
}

func TestRunnerCreateFailure(t *testing.T) {
	res := &fakeResource{
		name:     "chef",
		assignID: true,
		phases: []Phase{
			{Name: "bootstrap", Actions: []StepAction{func(ctx context.Context) error {
				return errors.New("chef-solo exited with status 1")
			}}},
		},
	}
	store := newMemoryStore()
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	runner := NewRunner(
		WithPollInterval(time.Millisecond),
		WithStateStore(store),
		WithRunnerMetrics(metrics),
	)
	err = runner.Create(context.Background(), res)

	var failure *ResourceFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ResourceFailure, got %v", err)
	}
	if failure.Resource != "chef" || failure.Action != ActionCreate {
		t.Errorf("unexpected failure: %+v", failure)
	}
	if !strings.Contains(err.Error(), "chef-solo exited with status 1") {
		t.Errorf("expected original message in %q", err.Error())
	}

	rec, _ := store.GetResource(context.Background(), "chef")
	if rec.Status != ResourceStatusError {
		t.Errorf("expected error status, got %s", rec.Status)
	}
	if !strings.Contains(rec.StatusReason, "chef-solo exited") {
		t.Errorf("unexpected status reason: %s", rec.StatusReason)
	}
	if got := len(store.eventsOf(EventTypePhaseFailed)); got != 1 {
		t.Errorf("expected 1 phase failure event, got %d", got)
	}
}

func TestRunnerCreateTimeout(t *testing.T) {
	res := &fakeResource{name: "slow", assignID: true}
	res.phases = []Phase{{Name: "wait"}}

	runner := NewRunner(
		WithPollInterval(50*time.Millisecond),
		WithCreateTimeout(10*time.Millisecond),
	)

	never := &neverDone{fakeResource: res}
	err := runner.Create(context.Background(), never)
	if err == nil {
		t.Fatal("expected timeout error")
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != ErrCodeTimeout {
		t.Errorf("expected timeout code, got %v", err)
	}
}

type neverDone struct {
	*fakeResource
}

func (r *neverDone) CheckCreateComplete(ctx context.Context, task *Task) (bool, error) {
	return false, nil
}

func TestRunnerDeleteIsIdempotent(t *testing.T) {
	res := &fakeResource{name: "chef", id: "abc-123"}
	store := newMemoryStore()
	runner := newTestRunner(store)
	ctx := context.Background()

	if err := runner.Delete(ctx, res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := runner.Delete(ctx, res); err != nil {
		t.Fatalf("unexpected error on second delete: %v", err)
	}

	if res.deletes != 1 {
		t.Errorf("expected 1 remote delete, got %d", res.deletes)
	}
	if res.ResourceID() != "" {
		t.Error("expected resource id to be cleared")
	}

	rec, _ := store.GetResource(ctx, "chef")
	if rec.Status != ResourceStatusDeleted {
		t.Errorf("expected deleted, got %s", rec.Status)
	}
}

func TestRunnerDeleteNotFound(t *testing.T) {
	res := &fakeResource{
		name:       "chef",
		id:         "abc-123",
		deleteErrs: []error{NewNotFoundError("kitchen missing", nil)},
	}

	if err := newTestRunner(nil).Delete(context.Background(), res); err != nil {
		t.Fatalf("expected not found to be treated as deleted, got %v", err)
	}
	if res.ResourceID() != "" {
		t.Error("expected resource id to be cleared")
	}
}

func TestRunnerDeleteFailure(t *testing.T) {
	res := &fakeResource{
		name:       "chef",
		id:         "abc-123",
		deleteErrs: []error{errors.New("rm: cannot remove")},
	}

	err := newTestRunner(nil).Delete(context.Background(), res)

	var failure *ResourceFailure
	if !errors.As(err, &failure) || failure.Action != ActionDelete {
		t.Fatalf("expected delete failure, got %v", err)
	}
	if res.ResourceID() != "abc-123" {
		t.Error("expected resource id to be kept after a failed delete")
	}
}

func TestRunnerDeleteRestoresIDFromStore(t *testing.T) {
	store := newMemoryStore()
	_ = store.UpsertResource(context.Background(), &ResourceRecord{
		Name:       "chef",
		ResourceID: "abc-123",
		Status:     ResourceStatusReady,
	})

	res := &fakeResource{name: "chef"}
	if err := newTestRunner(store).Delete(context.Background(), res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.deletes != 1 {
		t.Errorf("expected the stored id to trigger a delete, got %d", res.deletes)
	}
}
