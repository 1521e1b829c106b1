// Package handles issues and tracks the opaque handles a session hands out for
// open files and directory listings.
package handles

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mevdschee/sftpjail/internal/protocol"
	"github.com/spf13/afero"
)

var (
	// ErrUnknownHandle covers handles that were never issued and handles already closed.
	ErrUnknownHandle = errors.New("unknown handle")
	// ErrWrongKind is returned when a file handle is used as a listing or vice versa.
	ErrWrongKind = errors.New("wrong handle kind")
)

// Kind tags what a handle refers to.
type Kind int

const (
	KindFile Kind = iota
	KindListing
)

func (k Kind) String() string {
	if k == KindListing {
		return "listing"
	}
	return "file"
}

// OpenFile is an open descriptor and the mode it was opened with.
type OpenFile struct {
	File afero.File
	Mode protocol.OpenMode
	Path string
}

// Listing is a directory snapshot taken when the directory was opened.
type Listing struct {
	Path    string
	names   []string
	drained bool
}

type entry struct {
	kind    Kind
	file    *OpenFile
	listing *Listing
}

// Table maps handles to open files and listings. Handles come from a counter
// and are never reused by the same table.
type Table struct {
	mu      sync.Mutex
	next    uint64
	entries map[string]*entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) add(e *entry) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := strconv.FormatUint(t.next, 10)
	t.entries[h] = e
	return h
}

// AddFile registers an open file and returns its handle.
func (t *Table) AddFile(f afero.File, mode protocol.OpenMode, path string) string {
	return t.add(&entry{kind: KindFile, file: &OpenFile{File: f, Mode: mode, Path: path}})
}

// AddListing registers a directory snapshot and returns its handle.
func (t *Table) AddListing(path string, names []string) string {
	return t.add(&entry{kind: KindListing, listing: &Listing{Path: path, names: names}})
}

// File returns the open file behind h.
func (t *Table) File(h string) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if e.kind != KindFile {
		return nil, ErrWrongKind
	}
	return e.file, nil
}

// Drain returns every entry not yet handed out for the listing behind h and
// marks the listing exhausted. Later calls return an empty slice.
func (t *Table) Drain(h string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if e.kind != KindListing {
		return nil, ErrWrongKind
	}
	if e.listing.drained {
		return []string{}, nil
	}
	names := e.listing.names
	e.listing.names = nil
	e.listing.drained = true
	return names, nil
}

// Kind reports what h refers to.
func (t *Table) Kind(h string) (Kind, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		return 0, ErrUnknownHandle
	}
	return e.kind, nil
}

// Close forgets h and releases what it refers to. The handle is removed even
// when releasing the descriptor fails; that error is returned wrapped.
func (t *Table) Close(h string) error {
	t.mu.Lock()
	e, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	t.mu.Unlock()

	if !ok {
		return ErrUnknownHandle
	}
	return e.release()
}

// CloseAll releases every live handle and returns how many there were.
func (t *Table) CloseAll() int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		_ = e.release()
	}
	return len(entries)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (e *entry) release() error {
	if e.kind != KindFile || e.file.File == nil {
		return nil
	}
	if err := e.file.File.Close(); err != nil {
		return fmt.Errorf("failed to release %s: %w", e.file.Path, err)
	}
	return nil
}
