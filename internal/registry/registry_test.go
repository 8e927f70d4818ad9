package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

// countingOpener opens real handles and fails once open reaches failAt.
type countingOpener struct {
	opened atomic.Int32
	closed atomic.Int32
	failAt int32
}

type trackedHandle struct {
	pool.Handle
	o *countingOpener
}

func (h trackedHandle) Close() error {
	h.o.closed.Add(1)
	return h.Handle.Close()
}

func (o *countingOpener) Open(path string, capability pool.Capability, creds db.Credentials) (pool.Handle, error) {
	n := o.opened.Add(1)
	if o.failAt > 0 && n >= o.failAt {
		return nil, errors.New("disk on fire")
	}
	h, err := db.Opener{}.Open(path, capability, creds)
	if err != nil {
		return nil, err
	}
	return trackedHandle{Handle: h, o: o}, nil
}

func TestCreateDefaultSize(t *testing.T) {
	r := newRegistry(t)

	p, err := r.CreateDefault(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Write.Total)
	assert.Equal(t, DefaultPoolSize-1, stats.Read.Total)
}

func TestCreateGrows(t *testing.T) {
	r := newRegistry(t)
	path := filepath.Join(t.TempDir(), "test.db")

	p1, err := r.Create(path, 16, db.DefaultCredentials())
	require.NoError(t, err)
	require.Equal(t, 15, p1.ReadCapacity())

	p2, err := r.Create(path, 20, db.DefaultCredentials())
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 19, p2.ReadCapacity())
	assert.Equal(t, 1, p2.Stats().Write.Total)
}

func TestCreateNeverShrinks(t *testing.T) {
	r := newRegistry(t)
	path := filepath.Join(t.TempDir(), "test.db")

	p1, err := r.Create(path, 8, db.DefaultCredentials())
	require.NoError(t, err)

	p2, err := r.Create(path, 3, db.DefaultCredentials())
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 7, p2.ReadCapacity())
}

func TestCreateRejectsInvalidSize(t *testing.T) {
	r := newRegistry(t)
	path := filepath.Join(t.TempDir(), "test.db")

	for _, size := range []int{-1, 0, 1, MaxPoolSize + 1} {
		_, err := r.Create(path, size, db.DefaultCredentials())
		assert.ErrorIs(t, err, pool.ErrConfiguration, "size %d", size)
	}

	_, ok := r.Get(path)
	assert.False(t, ok, "invalid sizes must not register a pool")
}

func TestCreateMinSize(t *testing.T) {
	r := newRegistry(t)

	p, err := r.Create(filepath.Join(t.TempDir(), "test.db"), MinPoolSize, db.DefaultCredentials())
	require.NoError(t, err)
	assert.Equal(t, 1, p.ReadCapacity())
}

func TestCreateRejectsBadPaths(t *testing.T) {
	r := newRegistry(t)

	for _, path := range []string{"", "   ", ":memory:"} {
		_, err := r.Create(path, DefaultPoolSize, db.DefaultCredentials())
		assert.ErrorIs(t, err, pool.ErrConfiguration, "path %q", path)
	}
}

func TestCreateCanonicalizesPaths(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	r := newRegistry(t)

	p1, err := r.Create("test.db", 4, db.DefaultCredentials())
	require.NoError(t, err)

	p2, err := r.Create(filepath.Join(dir, "sub", "..", "test.db"), 4, db.DefaultCredentials())
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	got, ok := r.Get(filepath.Join(dir, "test.db"))
	require.True(t, ok)
	assert.Same(t, p1, got)
	assert.Len(t, r.Paths(), 1)
}

func TestCreateDistinctFilesGetDistinctPools(t *testing.T) {
	r := newRegistry(t)
	dir := t.TempDir()

	p1, err := r.Create(filepath.Join(dir, "a.db"), 2, db.DefaultCredentials())
	require.NoError(t, err)
	p2, err := r.Create(filepath.Join(dir, "b.db"), 2, db.DefaultCredentials())
	require.NoError(t, err)

	assert.NotSame(t, p1, p2)
	assert.NotEqual(t, p1.Name(), p2.Name())
}

func TestCreateMakesParentDirectories(t *testing.T) {
	r := newRegistry(t)
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")

	_, err := r.Create(path, 2, db.DefaultCredentials())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateConcurrent(t *testing.T) {
	r := newRegistry(t)
	path := filepath.Join(t.TempDir(), "test.db")

	const n = 8
	pools := make([]*pool.Pool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Create(path, 2+i, db.DefaultCredentials())
			assert.NoError(t, err)
			pools[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range pools[1:] {
		assert.Same(t, pools[0], p)
	}
	assert.Equal(t, n, pools[0].ReadCapacity())
}

func TestCreateClosesHandlesOnFailure(t *testing.T) {
	o := &countingOpener{failAt: 3}
	r := newRegistry(t, WithOpener(o))

	_, err := r.Create(filepath.Join(t.TempDir(), "test.db"), 4, db.DefaultCredentials())
	require.ErrorIs(t, err, pool.ErrConfiguration)

	// Two handles opened successfully before the third failed.
	assert.EqualValues(t, 2, o.closed.Load())
	assert.Empty(t, r.Paths())
}

func TestCloseShutsDownPools(t *testing.T) {
	r := New()
	p, err := r.Create(filepath.Join(t.TempDir(), "test.db"), 2, db.DefaultCredentials())
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, pool.StatusShutdown, p.Stats().Write.Status)
	assert.Equal(t, pool.StatusShutdown, p.Stats().Read.Status)
	assert.Empty(t, r.Paths())

	_, err = p.FetchRead(context.Background(), 0)
	assert.ErrorIs(t, err, pool.ErrPoolState)
}
