// Package fileserver serves a jailed directory tree to SFTP clients.
package fileserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/mevdschee/sftpjail/internal/handles"
	"github.com/mevdschee/sftpjail/internal/jail"
	"github.com/mevdschee/sftpjail/internal/metrics"
	"github.com/mevdschee/sftpjail/internal/protocol"
	"github.com/spf13/afero"
)

// MaxDataLength caps the bytes returned by a single READ.
const MaxDataLength = 128 * 1024

var (
	// ErrWrongMode is returned when reading a write-only handle or writing a read-only one.
	ErrWrongMode = errors.New("handle not open for this operation")
	// ErrUnsupported is returned for verbs outside list/open/read/write/close.
	ErrUnsupported = errors.New("operation unsupported")
	// ErrOffsetRange is returned for offsets beyond what the host can address.
	ErrOffsetRange = errors.New("offset out of range")
	// ErrIsDirectory is returned when a directory is opened as a file.
	ErrIsDirectory = errors.New("is a directory")
)

// Dispatcher turns decoded requests into filesystem operations on a jailed tree.
// It holds no per-connection state; handle tables are passed in by the Session.
type Dispatcher struct {
	fs       afero.Fs
	resolver *jail.Resolver
	metrics  metrics.Metrics
}

// NewDispatcher serves fs, which must already be rooted at resolver.Root()
// (or be a standalone tree such as afero.NewMemMapFs in tests).
func NewDispatcher(fs afero.Fs, resolver *jail.Resolver, m metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.Noop()
	}
	return &Dispatcher{fs: fs, resolver: resolver, metrics: m}
}

// NewRootDispatcher serves the host directory root, creating it if missing.
// Files are opened through an os.Root, so a symlink under root that points
// outside it fails instead of being followed. Call Close when done.
func NewRootDispatcher(root string, m metrics.Metrics) (*Dispatcher, error) {
	resolver, err := jail.NewResolver(root)
	if err != nil {
		return nil, err
	}
	rfs, err := newRootFs(resolver.Root())
	if err != nil {
		return nil, err
	}
	return NewDispatcher(rfs, resolver, m), nil
}

// Root returns the absolute root directory.
func (d *Dispatcher) Root() string {
	return d.resolver.Root()
}

// Close releases the backing filesystem if it holds resources.
func (d *Dispatcher) Close() error {
	if c, ok := d.fs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EnsureLayout creates the root and each directory in dirs below it.
func (d *Dispatcher) EnsureLayout(dirs []string) error {
	if err := d.fs.MkdirAll("/", 0755); err != nil {
		return fmt.Errorf("failed to create root %s: %w", d.Root(), err)
	}
	for _, dir := range dirs {
		p, err := d.resolver.Resolve(dir)
		if err != nil {
			return fmt.Errorf("layout directory %q: %w", dir, err)
		}
		if err := d.fs.MkdirAll(p.Virtual, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.Local, err)
		}
	}
	return nil
}

// Dispatch runs one request against table. The response is always valid and
// carries req.ID; cause explains a failure (or a release error on CLOSE) for logs.
func (d *Dispatcher) Dispatch(ctx context.Context, table *handles.Table, req protocol.Request) (resp protocol.Response, cause error) {
	defer func() {
		if r := recover(); r != nil {
			resp = protocol.StatusResponse(req.ID, protocol.StatusFailure, "failure")
			cause = fmt.Errorf("panic in %s: %v", req.Verb, r)
		}
	}()

	switch req.Verb {
	case protocol.VerbRealpath:
		return d.realpath(req)
	case protocol.VerbOpendir:
		return d.opendir(table, req)
	case protocol.VerbReaddir:
		return d.readdir(table, req)
	case protocol.VerbOpen:
		return d.open(table, req)
	case protocol.VerbRead:
		return d.read(table, req)
	case protocol.VerbWrite:
		return d.write(table, req)
	case protocol.VerbClose:
		return d.close(table, req)
	default:
		return fail(req, ErrUnsupported)
	}
}

func (d *Dispatcher) realpath(req protocol.Request) (protocol.Response, error) {
	p, err := d.resolver.Resolve(req.Path)
	if err != nil {
		return fail(req, err)
	}
	return protocol.NameResponse(req.ID, []string{p.Virtual}), nil
}

func (d *Dispatcher) opendir(table *handles.Table, req protocol.Request) (protocol.Response, error) {
	p, err := d.resolver.Resolve(req.Path)
	if err != nil {
		return fail(req, err)
	}
	dir, err := d.fs.Open(p.Virtual)
	if err != nil {
		return fail(req, err)
	}
	names, err := dir.Readdirnames(-1)
	dir.Close()
	if err != nil {
		return fail(req, err)
	}
	sort.Strings(names)
	return protocol.HandleResponse(req.ID, table.AddListing(p.Virtual, names)), nil
}

func (d *Dispatcher) readdir(table *handles.Table, req protocol.Request) (protocol.Response, error) {
	names, err := table.Drain(req.Handle)
	if err != nil {
		return fail(req, err)
	}
	if len(names) == 0 {
		return protocol.StatusResponse(req.ID, protocol.StatusEOF, ""), nil
	}
	return protocol.NameResponse(req.ID, names), nil
}

func (d *Dispatcher) open(table *handles.Table, req protocol.Request) (protocol.Response, error) {
	p, err := d.resolver.Resolve(req.Path)
	if err != nil {
		return fail(req, err)
	}

	mode := protocol.ModeFromFlags(req.Flags)
	var f afero.File
	if mode == protocol.ModeWrite {
		f, err = d.fs.OpenFile(p.Virtual, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	} else {
		f, err = d.fs.OpenFile(p.Virtual, os.O_RDONLY, 0)
	}
	if err != nil {
		return fail(req, err)
	}

	if mode == protocol.ModeRead {
		info, err := f.Stat()
		if err == nil && info.IsDir() {
			err = ErrIsDirectory
		}
		if err != nil {
			f.Close()
			return fail(req, err)
		}
	}
	return protocol.HandleResponse(req.ID, table.AddFile(f, mode, p.Virtual)), nil
}

func (d *Dispatcher) read(table *handles.Table, req protocol.Request) (protocol.Response, error) {
	of, err := table.File(req.Handle)
	if err != nil {
		return fail(req, err)
	}
	if of.Mode != protocol.ModeRead {
		return fail(req, ErrWrongMode)
	}
	if req.Offset > math.MaxInt64 {
		return fail(req, ErrOffsetRange)
	}
	buf := make([]byte, min(req.Length, MaxDataLength))
	n, err := of.File.ReadAt(buf, int64(req.Offset))
	if n > 0 {
		d.metrics.RecordBytes("read", n)
		return protocol.DataResponse(req.ID, buf[:n]), nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return protocol.StatusResponse(req.ID, protocol.StatusEOF, ""), nil
	}
	return fail(req, err)
}

func (d *Dispatcher) write(table *handles.Table, req protocol.Request) (protocol.Response, error) {
	of, err := table.File(req.Handle)
	if err != nil {
		return fail(req, err)
	}
	if of.Mode != protocol.ModeWrite {
		return fail(req, ErrWrongMode)
	}
	if req.Offset > math.MaxInt64-uint64(len(req.Data)) {
		return fail(req, ErrOffsetRange)
	}

	n, err := of.File.WriteAt(req.Data, int64(req.Offset))
	d.metrics.RecordBytes("write", n)
	if err != nil {
		return fail(req, err)
	}
	return protocol.StatusResponse(req.ID, protocol.StatusOK, ""), nil
}

func (d *Dispatcher) close(table *handles.Table, req protocol.Request) (protocol.Response, error) {
	err := table.Close(req.Handle)
	if errors.Is(err, handles.ErrUnknownHandle) {
		return fail(req, err)
	}
	// The handle is gone either way; a failed release is only worth a log line.
	return protocol.StatusResponse(req.ID, protocol.StatusOK, ""), err
}

func fail(req protocol.Request, err error) (protocol.Response, error) {
	return protocol.StatusResponse(req.ID, protocol.StatusFailure, failureMessage(err)), err
}

// failureMessage is the text sent to the client. It never includes host paths.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, jail.ErrEscapesRoot):
		return "path outside root"
	case errors.Is(err, jail.ErrInvalidPath):
		return "invalid path"
	case errors.Is(err, handles.ErrUnknownHandle), errors.Is(err, handles.ErrWrongKind):
		return "invalid handle"
	case errors.Is(err, ErrWrongMode):
		return ErrWrongMode.Error()
	case errors.Is(err, ErrUnsupported):
		return ErrUnsupported.Error()
	case errors.Is(err, ErrIsDirectory):
		return ErrIsDirectory.Error()
	case errors.Is(err, os.ErrNotExist):
		return "no such file"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	default:
		return "failure"
	}
}
