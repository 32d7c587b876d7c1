package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		transient bool
		throttled bool
		permanent bool
		notFound  bool
		retryable bool
	}{
		{"transient", NewTransientError("connection lost", base), true, false, false, false, true},
		{"throttled", NewThrottledError("over limit", base), false, true, false, false, true},
		{"permanent", NewPermanentError("bad input", base), false, false, true, false, false},
		{"not found", NewNotFoundError("gone", base), false, false, true, true, false},
		{"wrapped transient", fmt.Errorf("step: %w", NewTransientError("eof", base)), true, false, false, false, true},
		{"unclassified", base, false, false, false, false, false},
		{"nil", nil, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsThrottled(tt.err); got != tt.throttled {
				t.Errorf("IsThrottled = %v, want %v", got, tt.throttled)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestEngineErrorContext(t *testing.T) {
	base := errors.New("exit status 1")
	err := NewPermanentError("remote command failed", base).
		WithCode(ErrCodeCommandFailed).
		WithResource("web").
		WithOperation("bootstrap")

	msg := err.Error()
	for _, want := range []string{"[permanent]", "resource=web", "operation=bootstrap", "exit status 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
	if !errors.Is(err, base) {
		t.Error("expected the underlying error to be reachable")
	}

	class, code := ClassOf(fmt.Errorf("phase: %w", err))
	if class != ErrorClassPermanent || code != ErrCodeCommandFailed {
		t.Errorf("unexpected class %s/%s", class, code)
	}
	if class, code := ClassOf(base); class != ErrorClassPermanent || code != "" {
		t.Errorf("expected unclassified errors to be permanent, got %s/%s", class, code)
	}
}

func TestResourceStatusStates(t *testing.T) {
	tests := []struct {
		status       ResourceStatus
		transitional bool
		terminal     bool
	}{
		{ResourceStatusUnknown, false, false},
		{ResourceStatusCreating, true, false},
		{ResourceStatusDeleting, true, false},
		{ResourceStatusReady, false, true},
		{ResourceStatusError, false, true},
		{ResourceStatusDeleted, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTransitional(); got != tt.transitional {
				t.Errorf("IsTransitional = %v, want %v", got, tt.transitional)
			}
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal = %v, want %v", got, tt.terminal)
			}
			if err := tt.status.Validate(); err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}

	if err := ResourceStatus("bogus").Validate(); err == nil {
		t.Error("expected invalid status to fail validation")
	}
}
