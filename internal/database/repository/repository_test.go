package repository

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/database"
)

// newTestDB opens an in-memory SQLite database migrated with the named
// schema, isolated per test via a unique cache-shared URI.
func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := database.New(database.Config{Path: dsn, Profile: database.ProfileStandard, Name: name})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newLedgerTestDB(t *testing.T) *database.DB { return newTestDB(t, "ledger") }
func newStateTestDB(t *testing.T) *database.DB  { return newTestDB(t, "state") }
