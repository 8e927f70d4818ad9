package db

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ALT-F4-LLC/litepool/internal/pool"
)

// Default credentials. SQLite does not enforce them; they are accepted so
// callers keep the same open signature as client/server databases.
const (
	DefaultUsername = "sqlite"
	DefaultPassword = "sqlite"
)

// Credentials are forwarded opaquely to the native open call.
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// DefaultCredentials returns sqlite/sqlite.
func DefaultCredentials() Credentials {
	return Credentials{Username: DefaultUsername, Password: DefaultPassword}
}

// String hides the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s:***", c.Username)
}

// Open opens one native SQLite handle at the given path.
// It sets pragmas for WAL mode, foreign key enforcement, and busy timeout.
// Read-only handles additionally set query_only so the engine itself refuses
// writes on them.
func Open(dbPath string, capability pool.Capability) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each handle is exactly one native connection; keep it pinned for the
	// lifetime of the handle so per-connection pragmas stick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if capability == pool.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only=ON")
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	return db, nil
}

// Opener opens native handles for a pool registry.
type Opener struct {
	Log *zap.Logger
}

// Open opens a handle with the given capability. Credentials are logged
// (without the password) and otherwise ignored by SQLite.
func (o Opener) Open(dbPath string, capability pool.Capability, creds Credentials) (pool.Handle, error) {
	if o.Log != nil {
		o.Log.Debug("opening sqlite handle",
			zap.String("path", dbPath),
			zap.Stringer("capability", capability),
			zap.String("username", creds.Username),
		)
	}
	return Open(dbPath, capability)
}
