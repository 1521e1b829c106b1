package fileserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/mevdschee/sftpjail/internal/jail"
	"github.com/spf13/afero"
)

// rootFs is an afero.Fs backed by an os.Root. Names are client-visible
// absolute paths; symlinks are followed only while they stay below the root.
type rootFs struct {
	root *os.Root
}

var _ afero.Fs = (*rootFs)(nil)

// newRootFs opens dir as a traversal-resistant root, creating it if missing.
func newRootFs(dir string) (*rootFs, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open root %s: %w", dir, err)
	}
	return &rootFs{root: root}, nil
}

// rel turns a virtual path into a name relative to the root.
func rel(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		return "."
	}
	return name
}

// rootErr maps the unexported os.Root escape error onto jail.ErrEscapesRoot.
func rootErr(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) && pe.Err != nil && pe.Err.Error() == "path escapes from parent" {
		return fmt.Errorf("%w: %s %s", jail.ErrEscapesRoot, pe.Op, pe.Path)
	}
	return err
}

func (r *rootFs) Name() string { return "RootFs" }

func (r *rootFs) Close() error {
	return r.root.Close()
}

func (r *rootFs) Create(name string) (afero.File, error) {
	return r.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (r *rootFs) Open(name string) (afero.File, error) {
	return r.OpenFile(name, os.O_RDONLY, 0)
}

func (r *rootFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := r.root.OpenFile(rel(name), flag, perm)
	if err != nil {
		return nil, rootErr(err)
	}
	return f, nil
}

func (r *rootFs) Mkdir(name string, perm os.FileMode) error {
	return rootErr(r.root.Mkdir(rel(name), perm))
}

func (r *rootFs) MkdirAll(name string, perm os.FileMode) error {
	p := rel(name)
	if p == "." {
		return nil
	}
	dir := ""
	for _, part := range strings.Split(p, "/") {
		dir = path.Join(dir, part)
		err := r.root.Mkdir(dir, perm)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrExist) {
			return rootErr(err)
		}
		info, err := r.root.Stat(dir)
		if err != nil {
			return rootErr(err)
		}
		if !info.IsDir() {
			return &fs.PathError{Op: "mkdir", Path: dir, Err: syscall.ENOTDIR}
		}
	}
	return nil
}

func (r *rootFs) Remove(name string) error {
	return rootErr(r.root.Remove(rel(name)))
}

func (r *rootFs) Stat(name string) (os.FileInfo, error) {
	info, err := r.root.Stat(rel(name))
	if err != nil {
		return nil, rootErr(err)
	}
	return info, nil
}

func (r *rootFs) RemoveAll(name string) error {
	return unsupported("removeall", name)
}

func (r *rootFs) Rename(oldname, newname string) error {
	return unsupported("rename", oldname)
}

func (r *rootFs) Chmod(name string, mode os.FileMode) error {
	return unsupported("chmod", name)
}

func (r *rootFs) Chown(name string, uid, gid int) error {
	return unsupported("chown", name)
}

func (r *rootFs) Chtimes(name string, atime, mtime time.Time) error {
	return unsupported("chtimes", name)
}

func unsupported(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: ErrUnsupported}
}
