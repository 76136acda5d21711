package migrate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewRunner(db).Run(context.Background()))

	for _, table := range []string{"aggregate_snapshots", "report_runs", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)
	ctx := context.Background()

	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Run(ctx))

	current, pending, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current)
	assert.Equal(t, 0, pending)
}

func TestStatusBeforeRun(t *testing.T) {
	current, pending, err := NewRunner(openTestDB(t)).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, current)
	assert.Equal(t, 2, pending)
}
