package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
	"github.com/ALT-F4-LLC/litepool/internal/store"
)

const currentSchemaVersion = 2

// DefaultTables are the workload tables created by Initialize when no names
// are given.
var DefaultTables = []string{"AAA", "BBB"}

const metaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);`

// tableDDL returns the CREATE TABLE statement for one workload table.
func tableDDL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS "%[1]s" (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	worker     INTEGER NOT NULL,
	payload    TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS "idx_%[1]s_run_id" ON "%[1]s"(run_id);`, name)
}

// Initialize creates the meta table and the given workload tables if they
// don't exist and sets the schema version, all in one transaction.
func Initialize(ctx context.Context, s *store.Store, tables ...string) error {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	for _, t := range tables {
		if err := store.ValidateIdentifier(t); err != nil {
			return err
		}
	}

	return s.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.Exec(ctx, metaDDL); err != nil {
			return fmt.Errorf("creating meta table: %w", err)
		}
		for _, t := range tables {
			if _, err := s.Exec(ctx, tableDDL(t)); err != nil {
				return fmt.Errorf("creating table %s: %w", t, err)
			}
		}

		// Set schema version only if not already set.
		if _, err := s.Exec(ctx,
			`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(currentSchemaVersion),
		); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the current schema version from the meta table.
func SchemaVersion(ctx context.Context, s *store.Store) (int, error) {
	var val string
	err := s.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`, nil, &val)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	v, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", val, err)
	}

	return v, nil
}

// migrations is a list of migration functions keyed by the version they migrate TO.
// For example, migrations[2] migrates from version 1 to version 2.
var migrations = map[int]func(ctx context.Context, s *store.Store, tables []string) error{
	2: func(ctx context.Context, s *store.Store, tables []string) error {
		for _, t := range tables {
			if _, err := s.Exec(ctx, fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS "idx_%[1]s_run_id" ON "%[1]s"(run_id)`, t,
			)); err != nil {
				return err
			}
		}
		return nil
	},
}

// Migrate checks the current schema version and applies any pending migrations
// sequentially, each in its own transaction. It is a no-op when already at the
// latest version.
func Migrate(ctx context.Context, s *store.Store, tables ...string) error {
	if len(tables) == 0 {
		tables = DefaultTables
	}

	version, err := SchemaVersion(ctx, s)
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		return nil
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		migrateFn, ok := migrations[v]
		if !ok {
			return fmt.Errorf("missing migration for version %d", v)
		}

		err := s.Transaction(ctx, func(ctx context.Context) error {
			if err := migrateFn(ctx, s, tables); err != nil {
				return fmt.Errorf("applying migration %d: %w", v, err)
			}
			if _, err := s.Exec(ctx,
				`UPDATE meta SET value = ? WHERE key = 'schema_version'`,
				strconv.Itoa(v),
			); err != nil {
				return fmt.Errorf("updating schema version to %d: %w", v, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("migrating to version %d: %w", v, err)
		}
	}

	return nil
}

// IsInitialized reports whether the meta table exists.
func IsInitialized(ctx context.Context, s *store.Store) (bool, error) {
	return s.TableExists(ctx, "meta")
}

// ErrNotInitialized is returned by commands that need the workload schema.
var ErrNotInitialized = fmt.Errorf("%w: database is not initialized", pool.ErrConfiguration)
