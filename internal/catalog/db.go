package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrActivityNotFound is returned when no record exists for a fingerprint.
var ErrActivityNotFound = errors.New("activity not found")

// ErrMappingNotFound is returned when a platform has no id for a fingerprint.
var ErrMappingNotFound = errors.New("platform mapping not found")

// ErrCacheMiss is returned when no cache row exists for (fingerprint, format).
var ErrCacheMiss = errors.New("cache entry not found")

// ErrCorrupt wraps integrity failures that must abort the whole run.
var ErrCorrupt = errors.New("catalog corruption")

// Catalog is the durable reconciliation store: activity records, platform
// mappings, per-direction sync statuses, file-cache rows, API counters and
// key/value sync configuration.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	if err := prepare(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Catalog{db: db}, nil
}

func prepare(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("applying %s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// DB returns the underlying *sql.DB for advanced operations.
func (c *Catalog) DB() *sql.DB {
	return c.db
}
