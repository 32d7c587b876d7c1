package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/solo/pkg/transports/ssh"
)

// CreateRemoteDirectory creates the directory path/name on the target and
// returns the joined path. name may be empty.
//
// Permission failures are returned. Any other mkdir failure, such as the
// directory already existing, is logged and treated as success without
// closing the connection. Transient failures still go through the
// connection's retry rules.
func (r *Remote) CreateRemoteDirectory(ctx context.Context, dir, name string, opts ...ConnOption) (string, error) {
	full := joinRemote(dir, name)

	err := r.WithConnection(ctx, func(conn ssh.Channel) error {
		err := conn.Mkdir(full)
		if err == nil || IsTransient(err) {
			return err
		}
		if isPermissionDenied(err) {
			log.Warn().Err(err).Str("host", r.target.Host).Str("path", full).Msg("permission denied creating remote directory")
			return err
		}

		log.Warn().Err(err).Str("host", r.target.Host).Str("path", full).Msg("remote directory already exists")
		return nil
	}, opts...)
	if err != nil {
		return "", err
	}

	log.Debug().Str("host", r.target.Host).Str("path", full).Msg("remote directory ready")
	return full, nil
}

func isPermissionDenied(err error) bool {
	if errors.Is(err, fs.ErrPermission) {
		return true
	}
	var se *sftp.StatusError
	return errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxPermissionDenied
}

// WriteRemoteFile writes content to path/name and returns the joined path.
// A zero mode leaves the server default permissions in place.
func (r *Remote) WriteRemoteFile(ctx context.Context, dir, name string, content []byte, mode os.FileMode, opts ...ConnOption) (string, error) {
	full := joinRemote(dir, name)

	err := r.WithConnection(ctx, func(conn ssh.Channel) error {
		f, err := conn.Create(full)
		if err != nil {
			return err
		}

		_, werr := f.Write(content)
		cerr := f.Close()
		if werr != nil {
			return werr
		}
		if cerr != nil {
			return cerr
		}

		if mode != 0 {
			return conn.Chmod(full, mode)
		}
		return nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", full, err)
	}

	log.Debug().
		Str("host", r.target.Host).
		Str("path", full).
		Int("bytes", len(content)).
		Msg("wrote remote file")
	return full, nil
}

// WriteRemoteJSON serializes data as JSON and writes it to path/name.
// Map keys are sorted and no trailing newline is added.
func (r *Remote) WriteRemoteJSON(ctx context.Context, dir, name string, data any, opts ...ConnOption) (string, error) {
	content, err := encodeJSON(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", joinRemote(dir, name), err)
	}
	return r.WriteRemoteFile(ctx, dir, name, content, 0, opts...)
}

// ReadRemoteFile returns the lines of the file at p. Each line keeps its
// trailing newline, so joining the lines reproduces the file exactly.
func (r *Remote) ReadRemoteFile(ctx context.Context, p string, opts ...ConnOption) ([]string, error) {
	var lines []string

	err := r.WithConnection(ctx, func(conn ssh.Channel) error {
		lines = nil

		f, err := conn.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		reader := bufio.NewReader(f)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lines = append(lines, line)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	return lines, nil
}

// StatRemote returns file info for p.
func (r *Remote) StatRemote(ctx context.Context, p string, opts ...ConnOption) (os.FileInfo, error) {
	var info os.FileInfo

	err := r.WithConnection(ctx, func(conn ssh.Channel) error {
		var err error
		info, err = conn.Stat(p)
		return err
	}, append([]ConnOption{KeepOnError()}, opts...)...)
	if err != nil {
		return nil, err
	}

	return info, nil
}

// encodeJSON marshals data without HTML escaping or a trailing newline.
func encodeJSON(data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// joinRemote joins remote path elements with forward slashes.
func joinRemote(dir, name string) string {
	if name == "" {
		return dir
	}
	return path.Join(dir, name)
}
