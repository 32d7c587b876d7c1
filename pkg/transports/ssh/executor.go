package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Run executes cmd over a dedicated SSH connection.
// The connection is made once; there is no retry loop here.
func (d *SSHDialer) Run(ctx context.Context, cmd string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.CommandTimeout)
	defer cancel()

	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return execute(ctx, client, cmd)
}

// execute runs cmd in a new session on client.
func execute(ctx context.Context, client *ssh.Client, cmd string) (*ExecResult, error) {
	startTime := time.Now()

	log.Debug().
		Str("command", cmd).
		Msg("executing command")

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	finishedAt := time.Now()
	result := &ExecResult{
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		StartedAt:  startTime,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startTime),
	}

	log.Debug().
		Str("command", cmd).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}

		return nil, &TransportError{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return result, nil
}
