package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod

	// Password for password-based authentication
	Password string

	// PrivateKey is PEM encoded key material. It takes precedence over PrivateKeyPath.
	PrivateKey []byte

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string

	// StrictHostKeyChecking enables strict host key verification.
	// Off by default: freshly booted servers are never in known_hosts.
	StrictHostKeyChecking bool

	// ConnectionTimeout is the timeout for a single connection attempt
	ConnectionTimeout time.Duration

	// CommandTimeout bounds a single remote command
	CommandTimeout time.Duration

	// ConnectAttempts is how many times DialChannel tries before giving up
	ConnectAttempts int

	// ConnectRetryDelay is the pause between connection attempts
	ConnectRetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: false,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        time.Hour,
		ConnectAttempts:       30,
		ConnectRetryDelay:     5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if len(c.PrivateKey) == 0 {
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key or private key path is required for key authentication")
			}
			if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
				return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
			}
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	if c.ConnectAttempts <= 0 {
		return fmt.Errorf("connect attempts must be positive")
	}

	if c.ConnectRetryDelay < 0 {
		return fmt.Errorf("connect retry delay must not be negative")
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for the password prompt
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes := c.PrivateKey
		if len(keyBytes) == 0 {
			var err error
			keyBytes, err = os.ReadFile(c.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key: %w", err)
			}
		}

		signer, err := parseSigner(keyBytes, c.PrivateKeyPassphrase)
		if err != nil {
			return nil, err
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func parseSigner(keyBytes []byte, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
