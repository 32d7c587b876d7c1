// Package remote manages the connection to a provisioned host and the
// file and command operations performed over it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/telemetry"
	"github.com/openfroyo/solo/pkg/transports/ssh"
)

// Target identifies the host the harness operates on.
type Target struct {
	Host       string
	Username   string
	PrivateKey []byte
}

// SSHConfig builds a key-authenticated transport config for the target.
// Connection tunables are copied from base when it is non-nil.
func (t Target) SSHConfig(base *ssh.Config) *ssh.Config {
	cfg := ssh.DefaultConfig(t.Host, t.Username)
	if base != nil {
		*cfg = *base
		cfg.Host = t.Host
		cfg.User = t.Username
	}
	cfg.AuthMethod = ssh.AuthMethodKey
	cfg.PrivateKey = t.PrivateKey
	cfg.PrivateKeyPath = ""
	return cfg
}

// Remote owns at most one live file channel to its target.
// A Remote is not safe for concurrent use; callers must serialize access.
type Remote struct {
	target  Target
	dialer  ssh.Dialer
	conn    ssh.Channel
	metrics *telemetry.Metrics
}

// Option configures a Remote.
type Option func(*Remote)

// WithMetrics records connection and command metrics on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Remote) {
		r.metrics = m
	}
}

// New creates a Remote for target that opens transports through dialer.
func New(target Target, dialer ssh.Dialer, opts ...Option) *Remote {
	r := &Remote{
		target: target,
		dialer: dialer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Target returns the host description the Remote was created for.
func (r *Remote) Target() Target {
	return r.target
}

// Connection returns the live channel, opening one if none is live.
func (r *Remote) Connection(ctx context.Context) (ssh.Channel, error) {
	if r.conn != nil && !r.conn.Closed() {
		return r.conn, nil
	}
	r.conn = nil

	start := time.Now()
	conn, err := r.dialer.DialChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", r.target.Host, err)
	}

	log.Debug().
		Str("host", r.target.Host).
		Str("user", r.target.Username).
		Dur("duration", time.Since(start)).
		Msg("connected")

	r.metrics.RecordConnectionOpened()
	r.conn = conn
	return conn, nil
}

// Reconnect discards the current channel and opens a new one.
func (r *Remote) Reconnect(ctx context.Context) (ssh.Channel, error) {
	r.Close()
	return r.Connection(ctx)
}

// Close closes the live channel, if any. Closing twice is a no-op.
func (r *Remote) Close() {
	if r.conn == nil {
		return
	}
	if !r.conn.Closed() {
		if err := r.conn.Close(); err != nil {
			log.Debug().Err(err).Str("host", r.target.Host).Msg("error closing connection")
		}
	}
	r.conn = nil
}

// Live reports whether the Remote currently holds an open channel.
func (r *Remote) Live() bool {
	return r.conn != nil && !r.conn.Closed()
}

// ConnOption tunes how WithConnection treats errors and the channel.
type ConnOption func(*connOptions)

type connOptions struct {
	retryOnTransient bool
	closeOnError     bool
	closeAfter       bool
}

// RetryOnTransientError reconnects and retries once when the operation
// fails with a transient connection error.
func RetryOnTransientError() ConnOption {
	return func(o *connOptions) {
		o.retryOnTransient = true
	}
}

// KeepOnError leaves the channel open when the operation fails.
func KeepOnError() ConnOption {
	return func(o *connOptions) {
		o.closeOnError = false
	}
}

// CloseAfter closes the channel when the operation returns, whatever the outcome.
func CloseAfter() ConnOption {
	return func(o *connOptions) {
		o.closeAfter = true
	}
}

// WithConnection runs op against the live channel.
//
// A transient failure is retried exactly once after a reconnect when
// RetryOnTransientError is set; the retried attempt's error is returned as is.
// Without retry a transient failure is returned and the channel is left for
// the next Connection call to replace. Any other failure closes the channel
// unless KeepOnError is set.
func (r *Remote) WithConnection(ctx context.Context, op func(ssh.Channel) error, opts ...ConnOption) error {
	o := connOptions{closeOnError: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.closeAfter {
		defer r.Close()
	}

	conn, err := r.Connection(ctx)
	if err != nil {
		return err
	}

	err = op(conn)
	if err == nil {
		return nil
	}

	if IsTransient(err) {
		if !o.retryOnTransient {
			return err
		}

		log.Warn().
			Err(err).
			Str("host", r.target.Host).
			Msg("transient connection error, reconnecting")

		r.metrics.RecordReconnect()
		conn, rerr := r.Reconnect(ctx)
		if rerr != nil {
			return rerr
		}
		return op(conn)
	}

	if o.closeOnError && r.Live() {
		r.Close()
	}
	return err
}

// IsTransient reports whether err means the connection went away and the
// operation may succeed on a fresh one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}

	var te *ssh.TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}

	var se *sftp.StatusError
	if errors.As(err, &se) {
		return se.FxCode() == sftp.ErrSSHFxConnectionLost || se.FxCode() == sftp.ErrSSHFxNoConnection
	}

	return false
}
