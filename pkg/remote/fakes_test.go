package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/solo/pkg/transports/ssh"
)

// fakeFS is the remote filesystem shared by every channel a fakeDialer opens.
type fakeFS struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte
	modes map[string]os.FileMode
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		dirs:  map[string]bool{"/": true, "/tmp": true},
		files: make(map[string][]byte),
		modes: make(map[string]os.FileMode),
	}
}

// fakeChannel is an in-memory ssh.Channel with per-method error injection.
type fakeChannel struct {
	fs     *fakeFS
	closed bool

	// errs maps a method name to errors returned by successive calls.
	errs map[string][]error

	calls      map[string]int
	closeCalls int
	lastWriter *fakeWriter
}

func newFakeChannel(fsys *fakeFS) *fakeChannel {
	return &fakeChannel{
		fs:    fsys,
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (c *fakeChannel) fail(method string, errs ...error) {
	c.errs[method] = append(c.errs[method], errs...)
}

func (c *fakeChannel) next(method string) error {
	c.calls[method]++
	if c.closed {
		return io.EOF
	}
	if queue := c.errs[method]; len(queue) > 0 {
		c.errs[method] = queue[1:]
		return queue[0]
	}
	return nil
}

func (c *fakeChannel) Mkdir(p string) error {
	if err := c.next("Mkdir"); err != nil {
		return err
	}
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()

	if c.fs.dirs[p] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if !c.fs.dirs[path.Dir(p)] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
	}
	c.fs.dirs[p] = true
	return nil
}

type fakeWriter struct {
	fs     *fakeFS
	path   string
	buf    bytes.Buffer
	closed bool
	err    error
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error {
	w.closed = true
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func (c *fakeChannel) Create(p string) (io.WriteCloser, error) {
	if err := c.next("Create"); err != nil {
		return nil, err
	}
	w := &fakeWriter{fs: c.fs, path: p}
	if queue := c.errs["Write"]; len(queue) > 0 {
		w.err = queue[0]
		c.errs["Write"] = queue[1:]
	}
	c.lastWriter = w
	return w, nil
}

func (c *fakeChannel) Open(p string) (io.ReadCloser, error) {
	if err := c.next("Open"); err != nil {
		return nil, err
	}
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()

	data, ok := c.fs.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *fakeChannel) Chmod(p string, mode os.FileMode) error {
	if err := c.next("Chmod"); err != nil {
		return err
	}
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	c.fs.modes[p] = mode
	return nil
}

type fakeInfo struct {
	name string
	dir  bool
	size int64
	mode os.FileMode
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() os.FileMode  { return i.mode }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return i.dir }
func (i fakeInfo) Sys() any           { return nil }

func (c *fakeChannel) Stat(p string) (os.FileInfo, error) {
	if err := c.next("Stat"); err != nil {
		return nil, err
	}
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()

	if c.fs.dirs[p] {
		return fakeInfo{name: path.Base(p), dir: true, mode: fs.ModeDir | 0755}, nil
	}
	if data, ok := c.fs.files[p]; ok {
		return fakeInfo{name: path.Base(p), size: int64(len(data)), mode: c.fs.modes[p]}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (c *fakeChannel) Close() error {
	c.closeCalls++
	c.closed = true
	return nil
}

func (c *fakeChannel) Closed() bool {
	return c.closed
}

// fakeDialer hands out fakeChannels over one fakeFS and scripts Run results.
type fakeDialer struct {
	fs *fakeFS

	// channels are returned by DialChannel in order before fresh ones are made.
	channels []*fakeChannel
	opened   []*fakeChannel
	dialErrs []error

	// results maps a command substring to the result Run returns for it.
	results  map[string]*ssh.ExecResult
	runErr   error
	commands []string

	// onRun is called with each command before it completes.
	onRun func(cmd string)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		fs:      newFakeFS(),
		results: make(map[string]*ssh.ExecResult),
	}
}

func (d *fakeDialer) DialChannel(ctx context.Context) (ssh.Channel, error) {
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	var ch *fakeChannel
	if len(d.channels) > 0 {
		ch = d.channels[0]
		d.channels = d.channels[1:]
	} else {
		ch = newFakeChannel(d.fs)
	}
	d.opened = append(d.opened, ch)
	return ch, nil
}

func (d *fakeDialer) Run(ctx context.Context, cmd string) (*ssh.ExecResult, error) {
	d.commands = append(d.commands, cmd)
	if d.onRun != nil {
		d.onRun(cmd)
	}
	if d.runErr != nil {
		return nil, d.runErr
	}
	for substr, res := range d.results {
		if strings.Contains(cmd, substr) {
			return res, nil
		}
	}
	return &ssh.ExecResult{}, nil
}

// lastChannel returns the most recently opened channel.
func (d *fakeDialer) lastChannel() *fakeChannel {
	if len(d.opened) == 0 {
		return nil
	}
	return d.opened[len(d.opened)-1]
}

var errBoom = errors.New("boom")
