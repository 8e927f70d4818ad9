package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
	"github.com/ALT-F4-LLC/litepool/internal/store"
)

func mustOpen(t *testing.T, capability pool.Capability) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	if capability == pool.ReadOnly {
		// query_only handles can't create the file's WAL state on their own.
		w, err := Open(path, pool.ReadWrite)
		if err != nil {
			t.Fatalf("Open(%s, write) failed: %v", path, err)
		}
		t.Cleanup(func() { w.Close() })
	}
	db, err := Open(path, capability)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", path, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	w, err := Open(path, pool.ReadWrite)
	if err != nil {
		t.Fatalf("Open(write) failed: %v", err)
	}
	var reads []pool.Handle
	for i := 0; i < 2; i++ {
		r, err := Open(path, pool.ReadOnly)
		if err != nil {
			t.Fatalf("Open(read) failed: %v", err)
		}
		reads = append(reads, r)
	}
	p, err := pool.New(w, reads)
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	t.Cleanup(func() { p.Close(context.Background()) })
	return store.New(p)
}

func TestOpenSetsWALMode(t *testing.T) {
	db := mustOpen(t, pool.ReadWrite)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpenSetsForeignKeys(t *testing.T) {
	db := mustOpen(t, pool.ReadWrite)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("querying foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpenSetsBusyTimeout(t *testing.T) {
	db := mustOpen(t, pool.ReadWrite)

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("querying busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestOpenReadOnlyRefusesWrites(t *testing.T) {
	db := mustOpen(t, pool.ReadOnly)

	var q int
	if err := db.QueryRow("PRAGMA query_only").Scan(&q); err != nil {
		t.Fatalf("querying query_only: %v", err)
	}
	if q != 1 {
		t.Errorf("query_only = %d, want 1", q)
	}
	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err == nil {
		t.Error("expected CREATE TABLE to fail on a read-only handle")
	}
}

func TestOpenWriteAllowsWrites(t *testing.T) {
	db := mustOpen(t, pool.ReadWrite)

	if _, err := db.Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
}

func TestCredentialsStringHidesPassword(t *testing.T) {
	c := Credentials{Username: "admin", Password: "hunter2"}
	if s := c.String(); strings.Contains(s, "hunter2") {
		t.Errorf("String() = %q leaks the password", s)
	}
	if got := DefaultCredentials(); got.Username != "sqlite" || got.Password != "sqlite" {
		t.Errorf("DefaultCredentials() = %+v", got)
	}
}

func TestOpenerOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	h, err := Opener{}.Open(path, pool.ReadWrite, DefaultCredentials())
	if err != nil {
		t.Fatalf("Opener.Open failed: %v", err)
	}
	defer h.Close()

	if _, err := h.ExecContext(context.Background(), "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("exec on opened handle failed: %v", err)
	}
}

func TestInitializeCreatesTables(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if err := Initialize(ctx, s); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for _, name := range append([]string{"meta"}, DefaultTables...) {
		ok, err := s.TableExists(ctx, name)
		if err != nil {
			t.Fatalf("TableExists(%s) failed: %v", name, err)
		}
		if !ok {
			t.Errorf("table %s not created", name)
		}
	}
}

func TestInitializeIdempotent(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if err := Initialize(ctx, s, "X"); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	if _, err := s.Exec(ctx, `INSERT INTO "X" (run_id, worker, created_at) VALUES ('r', 1, 'now')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := Initialize(ctx, s, "X"); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}

	n, err := s.RowCount(ctx, "X")
	if err != nil {
		t.Fatalf("RowCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RowCount = %d after re-initialize, want 1", n)
	}
}

func TestInitializeRejectsBadTableName(t *testing.T) {
	s := mustStore(t)

	err := Initialize(context.Background(), s, `x"; DROP TABLE meta; --`)
	if !errors.Is(err, pool.ErrConfiguration) {
		t.Errorf("Initialize error = %v, want ErrConfiguration", err)
	}
}

func TestSchemaVersion(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if err := Initialize(ctx, s); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	v, err := SchemaVersion(ctx, s)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != currentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", v, currentSchemaVersion)
	}
}

func TestMigrateFromVersionOne(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	if err := Initialize(ctx, s); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := s.Exec(ctx, `UPDATE meta SET value = '1' WHERE key = 'schema_version'`); err != nil {
		t.Fatalf("resetting version failed: %v", err)
	}

	if err := Migrate(ctx, s); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	v, err := SchemaVersion(ctx, s)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != currentSchemaVersion {
		t.Errorf("SchemaVersion after Migrate = %d, want %d", v, currentSchemaVersion)
	}

	// Already current: no-op.
	if err := Migrate(ctx, s); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}
}

func TestIsInitialized(t *testing.T) {
	s := mustStore(t)
	ctx := context.Background()

	ok, err := IsInitialized(ctx, s)
	if err != nil {
		t.Fatalf("IsInitialized failed: %v", err)
	}
	if ok {
		t.Error("fresh database reported as initialized")
	}

	if err := Initialize(ctx, s); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if ok, _ := IsInitialized(ctx, s); !ok {
		t.Error("initialized database reported as not initialized")
	}
}
