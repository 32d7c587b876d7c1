// Package ssh provides the SSH and SFTP transport used to reach provisioned hosts.
package ssh

import (
	"context"
	"io"
	"os"
	"time"
)

// Channel is an open remote file channel.
// Implementations are not safe for concurrent use.
type Channel interface {
	// Mkdir creates a single directory on the remote host.
	Mkdir(path string) error

	// Create opens a remote file for writing, truncating it if it exists.
	Create(path string) (io.WriteCloser, error)

	// Open opens a remote file for reading.
	Open(path string) (io.ReadCloser, error)

	// Chmod sets the permission bits of a remote file.
	Chmod(path string, mode os.FileMode) error

	// Stat returns file info for a remote path.
	Stat(path string) (os.FileInfo, error)

	// Close releases the channel and the underlying SSH connection.
	Close() error

	// Closed reports whether the channel can no longer be used.
	Closed() bool
}

// Dialer opens transports to a single remote host.
type Dialer interface {
	// DialChannel opens a new file channel, retrying until the host answers
	// or the configured attempts are exhausted.
	DialChannel(ctx context.Context) (Channel, error)

	// Run executes cmd over a fresh connection that is closed afterwards.
	// A non-zero exit status is reported in ExecResult, not as an error.
	Run(ctx context.Context, cmd string) (*ExecResult, error)
}

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// Stdout is the standard output from the command
	Stdout string

	// Stderr is the standard error output from the command
	Stderr string

	// ExitCode is the command's exit code
	ExitCode int

	// StartedAt is when the command started executing
	StartedAt time.Time

	// FinishedAt is when the command finished
	FinishedAt time.Time

	// Duration is the total execution time
	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "sftp")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
