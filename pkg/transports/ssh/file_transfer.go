package ssh

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// sftpChannel is a Channel backed by an SFTP session.
type sftpChannel struct {
	conn   *ssh.Client
	client *sftp.Client
	closed atomic.Bool
}

// newSFTPChannel opens an SFTP session on an established SSH connection.
func newSFTPChannel(conn *ssh.Client) (*sftpChannel, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp",
			Err:         err,
			IsTemporary: true,
		}
	}

	ch := &sftpChannel{
		conn:   conn,
		client: client,
	}

	// Wait returns once the server side of the session is gone
	go func() {
		err := client.Wait()
		if !ch.closed.Swap(true) {
			log.Debug().Err(err).Msg("SFTP session ended by remote")
		}
	}()

	return ch, nil
}

func (c *sftpChannel) Mkdir(path string) error {
	return c.client.Mkdir(path)
}

func (c *sftpChannel) Create(path string) (io.WriteCloser, error) {
	f, err := c.client.Create(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *sftpChannel) Open(path string) (io.ReadCloser, error) {
	f, err := c.client.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *sftpChannel) Chmod(path string, mode os.FileMode) error {
	return c.client.Chmod(path, mode)
}

func (c *sftpChannel) Stat(path string) (os.FileInfo, error) {
	return c.client.Stat(path)
}

// Close closes the SFTP session and the SSH connection beneath it.
func (c *sftpChannel) Close() error {
	c.closed.Store(true)

	sftpErr := c.client.Close()
	connErr := c.conn.Close()
	if sftpErr != nil {
		return &TransportError{Op: "disconnect", Err: sftpErr}
	}
	if connErr != nil {
		return &TransportError{Op: "disconnect", Err: connErr}
	}
	return nil
}

func (c *sftpChannel) Closed() bool {
	return c.closed.Load()
}
