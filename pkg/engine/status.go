package engine

import (
	"encoding/json"
	"fmt"
)

// Action is a resource lifecycle action.
type Action string

const (
	// ActionCreate creates a resource and polls it to completion.
	ActionCreate Action = "create"

	// ActionDelete removes a resource.
	ActionDelete Action = "delete"
)

// ResourceStatus represents the current status of a resource.
type ResourceStatus string

const (
	// ResourceStatusUnknown indicates the resource state is not yet known.
	ResourceStatusUnknown ResourceStatus = "unknown"

	// ResourceStatusCreating indicates the resource is being created.
	ResourceStatusCreating ResourceStatus = "creating"

	// ResourceStatusReady indicates every creation phase completed.
	ResourceStatusReady ResourceStatus = "ready"

	// ResourceStatusDeleting indicates the resource is being deleted.
	ResourceStatusDeleting ResourceStatus = "deleting"

	// ResourceStatusError indicates the last action failed.
	ResourceStatusError ResourceStatus = "error"

	// ResourceStatusDeleted indicates the resource has been deleted.
	ResourceStatusDeleted ResourceStatus = "deleted"
)

// IsTransitional returns true if the status represents a transitional state.
func (s ResourceStatus) IsTransitional() bool {
	return s == ResourceStatusCreating || s == ResourceStatusDeleting
}

// IsTerminal returns true if the status represents a final state.
func (s ResourceStatus) IsTerminal() bool {
	return s == ResourceStatusReady || s == ResourceStatusError ||
		s == ResourceStatusDeleted
}

// Validate checks if the resource status is valid.
func (s ResourceStatus) Validate() error {
	switch s {
	case ResourceStatusUnknown, ResourceStatusCreating, ResourceStatusReady,
		ResourceStatusDeleting, ResourceStatusError, ResourceStatusDeleted:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ResourceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ResourceStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ResourceStatus(str)
	return s.Validate()
}

// EventType represents the type of event in a resource timeline.
type EventType string

const (
	// EventTypePhaseCompleted indicates a task phase finished successfully.
	EventTypePhaseCompleted EventType = "phase_completed"

	// EventTypePhaseFailed indicates a task phase failed.
	EventTypePhaseFailed EventType = "phase_failed"

	// EventTypeResourceChanged indicates a resource status change.
	EventTypeResourceChanged EventType = "resource_changed"

	// EventTypeWarning indicates a benign problem, such as throttling.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypePhaseFailed:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}
