package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Resource is a provisioned object driven through create and delete by a Runner.
type Resource interface {
	// Name is the logical name of the resource in its template.
	Name() string

	// Type is the registered resource type, e.g. "Rackspace::Cloud::ChefSolo".
	Type() string

	// ResourceID is the physical ID assigned on create, empty before that.
	ResourceID() string
	SetResourceID(id string)

	// Create starts provisioning and returns the task to poll.
	Create(ctx context.Context) (*Task, error)

	// CheckCreateComplete advances task and reports whether it finished.
	CheckCreateComplete(ctx context.Context, task *Task) (bool, error)

	// Delete removes the resource. A resource that is already gone
	// returns an error for which IsNotFound is true.
	Delete(ctx context.Context) error
}

// PropertiesProvider is implemented by resources that can report their
// properties for persistence.
type PropertiesProvider interface {
	Properties() any
}

// ResourceRecord is the persisted state of a resource.
type ResourceRecord struct {
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Status       ResourceStatus  `json:"status"`
	StatusReason string          `json:"status_reason,omitempty"`
	Properties   json.RawMessage `json:"properties,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Event is a timeline entry for a resource.
type Event struct {
	ID           int64     `json:"id"`
	ResourceName string    `json:"resource_name"`
	Type         EventType `json:"type"`
	Phase        string    `json:"phase,omitempty"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Level returns the severity of the event.
func (e *Event) Level() string {
	return e.Type.Severity()
}

// StateStore persists resource records and events.
type StateStore interface {
	// UpsertResource creates or replaces a resource record.
	UpsertResource(ctx context.Context, rec *ResourceRecord) error

	// GetResource returns the record for name, or an error for which
	// IsNotFound is true.
	GetResource(ctx context.Context, name string) (*ResourceRecord, error)

	// AppendEvent adds an event to a resource timeline.
	AppendEvent(ctx context.Context, event *Event) error
}
