package catalog

import (
	"database/sql"
	"testing"
)

// OpenTest creates an in-memory catalog for tests.
func OpenTest(t *testing.T) *Catalog {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test catalog: %v", err)
	}
	// The pool must not open a second connection: every :memory: connection
	// is its own empty database.
	db.SetMaxOpenConns(1)
	if err := prepare(db); err != nil {
		db.Close()
		t.Fatalf("preparing test catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &Catalog{db: db}
}
