// Package registry keeps one connection pool per database file.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ALT-F4-LLC/litepool/internal/db"
	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

// Pool sizes count the write connection: a pool of size n has n-1 read
// connections.
const (
	MinPoolSize     = 2
	DefaultPoolSize = 16
	MaxPoolSize     = pool.MaxReadConnections + 1
)

// Opener opens one native handle for a database file.
type Opener interface {
	Open(path string, capability pool.Capability, creds db.Credentials) (pool.Handle, error)
}

// Registry maps canonical database paths to pools. Pools only ever grow.
type Registry struct {
	mu     sync.Mutex
	pools  map[string]*pool.Pool
	opener Opener
	log    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger handed to the registry and every pool it creates.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithOpener replaces the SQLite opener.
func WithOpener(o Opener) Option {
	return func(r *Registry) {
		if o != nil {
			r.opener = o
		}
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		pools: make(map[string]*pool.Pool),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.opener == nil {
		r.opener = db.Opener{Log: r.log}
	}
	return r
}

// Canonicalize resolves path to the absolute, symlink-free form used as the
// registry key. Missing parent directories are created.
func Canonicalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: database path is empty", pool.ErrConfiguration)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return "", fmt.Errorf("%w: in-memory databases can't be shared between connections", pool.ErrConfiguration)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %w", pool.ErrConfiguration, path, err)
	}
	abs = filepath.Clean(abs)

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating directory %s: %w", pool.ErrConfiguration, dir, err)
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %s: %w", pool.ErrConfiguration, dir, err)
	}

	return filepath.Join(dir, filepath.Base(abs)), nil
}

// Create returns the pool for path, creating it with size connections or
// growing it to size. A pool never shrinks: asking for fewer connections than
// it has returns it unchanged.
func (r *Registry) Create(path string, size int, creds db.Credentials) (*pool.Pool, error) {
	if size < MinPoolSize || size > MaxPoolSize {
		return nil, fmt.Errorf("%w: pool size %d outside [%d, %d]", pool.ErrConfiguration, size, MinPoolSize, MaxPoolSize)
	}
	key, err := Canonicalize(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wantReads := size - 1
	if p, ok := r.pools[key]; ok {
		if err := r.grow(p, key, wantReads, creds); err != nil {
			return nil, err
		}
		return p, nil
	}

	p, err := r.open(key, wantReads, creds)
	if err != nil {
		return nil, err
	}
	r.pools[key] = p
	r.log.Info("pool registered",
		zap.String("path", key),
		zap.String("pool", p.Name()),
		zap.Int("size", size),
	)
	return p, nil
}

// CreateDefault is Create with DefaultPoolSize and the default credentials.
func (r *Registry) CreateDefault(path string) (*pool.Pool, error) {
	return r.Create(path, DefaultPoolSize, db.DefaultCredentials())
}

// Get returns the pool registered for path, if any.
func (r *Registry) Get(path string) (*pool.Pool, bool) {
	key, err := Canonicalize(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[key]
	return p, ok
}

// Paths returns the canonical paths of all registered pools.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.pools))
	for k := range r.pools {
		paths = append(paths, k)
	}
	return paths
}

func (r *Registry) open(key string, reads int, creds db.Credentials) (*pool.Pool, error) {
	// The write handle goes first so it sets up the WAL before any read-only
	// handle touches the file.
	write, err := r.opener.Open(key, pool.ReadWrite, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: opening write connection to %s: %w", pool.ErrConfiguration, key, err)
	}
	handles := make([]pool.Handle, 0, reads)
	closeAll := func() {
		write.Close()
		for _, h := range handles {
			h.Close()
		}
	}
	for i := 0; i < reads; i++ {
		h, err := r.opener.Open(key, pool.ReadOnly, creds)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: opening read connection %d to %s: %w", pool.ErrConfiguration, i+1, key, err)
		}
		handles = append(handles, h)
	}

	p, err := pool.New(write, handles, pool.WithLogger(r.log))
	if err != nil {
		closeAll()
		return nil, err
	}
	return p, nil
}

func (r *Registry) grow(p *pool.Pool, key string, wantReads int, creds db.Credentials) error {
	have := p.ReadCapacity()
	for i := have; i < wantReads; i++ {
		h, err := r.opener.Open(key, pool.ReadOnly, creds)
		if err != nil {
			return fmt.Errorf("%w: opening read connection %d to %s: %w", pool.ErrConfiguration, i+1, key, err)
		}
		if err := p.AddReadConnection(h); err != nil {
			h.Close()
			return err
		}
	}
	if wantReads > have {
		r.log.Info("pool grown",
			zap.String("path", key),
			zap.String("pool", p.Name()),
			zap.Int("read_connections", wantReads),
		)
	}
	return nil
}

// Close shuts down every registered pool and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*pool.Pool)
	r.mu.Unlock()

	var errs []error
	for key, p := range pools {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing pool for %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
