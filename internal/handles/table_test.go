package handles

import (
	"sync"
	"testing"

	"github.com/mevdschee/sftpjail/internal/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemFile(t *testing.T, fs afero.Fs, name string) afero.File {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, []byte("hello"), 0644))
	f, err := fs.Open(name)
	require.NoError(t, err)
	return f
}

func TestTableFileLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := NewTable()

	f := openMemFile(t, fs, "/a.csv")
	h := table.AddFile(f, protocol.ModeRead, "/a.csv")
	assert.Equal(t, 1, table.Len())

	of, err := table.File(h)
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeRead, of.Mode)
	assert.Equal(t, "/a.csv", of.Path)

	kind, err := table.Kind(h)
	require.NoError(t, err)
	assert.Equal(t, KindFile, kind)

	require.NoError(t, table.Close(h))
	assert.Equal(t, 0, table.Len())

	// The descriptor is released.
	_, err = f.Read(make([]byte, 1))
	assert.Error(t, err)

	_, err = table.File(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, table.Close(h), ErrUnknownHandle)
}

func TestTableHandlesAreNotReused(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := NewTable()

	first := table.AddFile(openMemFile(t, fs, "/a.csv"), protocol.ModeRead, "/a.csv")
	require.NoError(t, table.Close(first))

	second := table.AddFile(openMemFile(t, fs, "/a.csv"), protocol.ModeRead, "/a.csv")
	assert.NotEqual(t, first, second)

	_, err := table.File(first)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestTableListingDrain(t *testing.T) {
	table := NewTable()
	h := table.AddListing("/incoming", []string{"a.csv", "b.csv"})

	names, err := table.Drain(h)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, names)

	names, err = table.Drain(h)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, table.Close(h))
	_, err = table.Drain(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestTableDistinctListings(t *testing.T) {
	table := NewTable()
	a := table.AddListing("/a", []string{"1"})
	b := table.AddListing("/b", []string{"2"})
	require.NotEqual(t, a, b)

	names, err := table.Drain(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, names)

	names, err = table.Drain(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, names)
}

func TestTableWrongKind(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := NewTable()

	fh := table.AddFile(openMemFile(t, fs, "/a.csv"), protocol.ModeRead, "/a.csv")
	dh := table.AddListing("/", []string{"a.csv"})

	_, err := table.Drain(fh)
	assert.ErrorIs(t, err, ErrWrongKind)
	_, err = table.File(dh)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestTableCloseAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := NewTable()

	f1 := openMemFile(t, fs, "/a.csv")
	f2 := openMemFile(t, fs, "/b.csv")
	h1 := table.AddFile(f1, protocol.ModeRead, "/a.csv")
	table.AddFile(f2, protocol.ModeRead, "/b.csv")
	table.AddListing("/", nil)

	assert.Equal(t, 3, table.CloseAll())
	assert.Equal(t, 0, table.Len())

	_, err := f1.Read(make([]byte, 1))
	assert.Error(t, err)
	_, err = f2.Read(make([]byte, 1))
	assert.Error(t, err)

	_, err = table.File(h1)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Equal(t, 0, table.CloseAll())
}

func TestTableConcurrentAllocation(t *testing.T) {
	table := NewTable()

	const workers = 16
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				h := table.AddListing("/", nil)
				mu.Lock()
				seen[h] = true
				mu.Unlock()
				if j%2 == 0 {
					assert.NoError(t, table.Close(h))
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker/2, table.Len())
}
