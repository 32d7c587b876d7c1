package chef

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/solo/pkg/transports/ssh"
)

// fakeHost is an in-memory remote host: it serves as the ssh.Dialer and
// every channel it opens shares its filesystem.
type fakeHost struct {
	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string][]byte
	modes    map[string]os.FileMode
	commands []string
	dials    int
	closes   int

	// exitCodes maps a command substring to the exit status Run reports.
	exitCodes map[string]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		dirs:      map[string]bool{"/": true, "/tmp": true},
		files:     make(map[string][]byte),
		modes:     make(map[string]os.FileMode),
		exitCodes: make(map[string]int),
	}
}

func (h *fakeHost) DialChannel(ctx context.Context) (ssh.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	return &fakeHostChannel{host: h}, nil
}

func (h *fakeHost) Run(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)

	for substr, code := range h.exitCodes {
		if strings.Contains(cmd, substr) {
			return &ssh.ExecResult{ExitCode: code, Stderr: "failed"}, nil
		}
	}

	// rm -rf of a directory removes it and everything below.
	if target, ok := strings.CutPrefix(lastLine(cmd), "rm -rf "); ok {
		for d := range h.dirs {
			if d == target || strings.HasPrefix(d, target+"/") {
				delete(h.dirs, d)
			}
		}
		for f := range h.files {
			if strings.HasPrefix(f, target+"/") {
				delete(h.files, f)
			}
		}
	}
	return &ssh.ExecResult{}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

// commandsMatching returns the commands containing substr.
func (h *fakeHost) commandsMatching(substr string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, c := range h.commands {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHost) file(p string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.files[p])
}

type fakeHostChannel struct {
	host   *fakeHost
	closed bool
}

func (c *fakeHostChannel) Mkdir(p string) error {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()

	if c.host.dirs[p] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if !c.host.dirs[path.Dir(p)] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
	}
	c.host.dirs[p] = true
	return nil
}

type hostWriter struct {
	host *fakeHost
	path string
	buf  bytes.Buffer
}

func (w *hostWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *hostWriter) Close() error {
	w.host.mu.Lock()
	defer w.host.mu.Unlock()
	w.host.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func (c *fakeHostChannel) Create(p string) (io.WriteCloser, error) {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	if !c.host.dirs[path.Dir(p)] {
		return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrNotExist}
	}
	return &hostWriter{host: c.host, path: p}, nil
}

func (c *fakeHostChannel) Open(p string) (io.ReadCloser, error) {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	data, ok := c.host.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *fakeHostChannel) Chmod(p string, mode os.FileMode) error {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	c.host.modes[p] = mode
	return nil
}

type hostInfo struct {
	name string
	dir  bool
}

func (i hostInfo) Name() string       { return i.name }
func (i hostInfo) Size() int64        { return 0 }
func (i hostInfo) Mode() os.FileMode  { return 0o755 }
func (i hostInfo) ModTime() time.Time { return time.Time{} }
func (i hostInfo) IsDir() bool        { return i.dir }
func (i hostInfo) Sys() any           { return nil }

func (c *fakeHostChannel) Stat(p string) (os.FileInfo, error) {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	if c.host.dirs[p] {
		return hostInfo{name: path.Base(p), dir: true}, nil
	}
	if _, ok := c.host.files[p]; ok {
		return hostInfo{name: path.Base(p)}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (c *fakeHostChannel) Close() error {
	c.host.mu.Lock()
	defer c.host.mu.Unlock()
	c.host.closes++
	c.closed = true
	return nil
}

func (c *fakeHostChannel) Closed() bool {
	return c.closed
}
