package ssh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// SSHDialer implements Dialer with x/crypto/ssh and pkg/sftp.
type SSHDialer struct {
	config *Config
}

// NewSSHDialer creates a dialer for the host described by config.
func NewSSHDialer(config *Config) (*SSHDialer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &SSHDialer{config: config}, nil
}

// Config returns the dialer configuration.
func (d *SSHDialer) Config() *Config {
	return d.config
}

// DialChannel opens an SSH connection and an SFTP session on top of it.
// A freshly booted server may not accept connections yet, so connection
// failures are retried up to ConnectAttempts times.
func (d *SSHDialer) DialChannel(ctx context.Context) (Channel, error) {
	var lastErr error

	for attempt := 1; attempt <= d.config.ConnectAttempts; attempt++ {
		client, err := d.connect(ctx)
		if err == nil {
			channel, err := newSFTPChannel(client)
			if err != nil {
				_ = client.Close()
				return nil, err
			}

			log.Debug().
				Str("address", d.config.Address()).
				Int("attempt", attempt).
				Msg("SFTP channel established")
			return channel, nil
		}

		lastErr = err
		if te, ok := err.(*TransportError); ok && !te.IsTemporary {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		log.Debug().
			Err(err).
			Str("address", d.config.Address()).
			Int("attempt", attempt).
			Int("max_attempts", d.config.ConnectAttempts).
			Msg("SSH connection attempt failed")

		if attempt == d.config.ConnectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &TransportError{
				Op:          "connect",
				Err:         ctx.Err(),
				IsTemporary: true,
			}
		case <-time.After(d.config.ConnectRetryDelay):
		}
	}

	return nil, &TransportError{
		Op:          "connect",
		Err:         fmt.Errorf("giving up after %d attempts: %w", d.config.ConnectAttempts, lastErr),
		IsTemporary: true,
	}
}

// connect performs a single connection attempt.
func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	clientConfig, err := d.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	address := d.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	resultChan := make(chan dialResult, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		resultChan <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		// Release a connection that completes after cancellation
		go func() {
			if res := <-resultChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, &TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
		}
	case res := <-resultChan:
		if res.err != nil {
			// Auth failures stay temporary: keys may still be injected by cloud-init
			return nil, &TransportError{
				Op:          "connect",
				Err:         res.err,
				IsTemporary: true,
				IsAuthError: isAuthFailure(res.err),
			}
		}
		return res.client, nil
	}
}

type dialResult struct {
	client *ssh.Client
	err    error
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}
