package storetest

import (
	"testing"

	"github.com/adcontextprotocol/salesagent/internal/db"
)

// OpenTestDB opens an in-memory SQLite store with the schema applied.
// The store is closed when the test finishes.
func OpenTestDB(t *testing.T) *db.Store {
	t.Helper()
	s, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
