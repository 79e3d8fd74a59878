package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Moonsong-Labs/storage-hub-sub006/lib/sqlite"
)

var providerDdls = []string{
	`CREATE TABLE IF NOT EXISTS provider (
		provider_id BLOB PRIMARY KEY,
		kind TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forest (
		provider_id BLOB NOT NULL REFERENCES provider(provider_id) ON DELETE CASCADE,
		root BLOB NOT NULL,
		block_number INTEGER NOT NULL
	)`,
}

func metaVersions(t *testing.T, db *sql.DB) []int {
	rows, err := db.Query("SELECT version FROM _meta ORDER BY version")
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var out []int
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	return out
}

func TestOpenEnforcesForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "providers.db")
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	ctx := context.Background()
	require.NoError(t, sqlite.InitDb(ctx, "providers", db, providerDdls, nil))

	_, err = db.Exec("INSERT INTO forest (provider_id, root, block_number) VALUES (x'01', x'ff', 1)")
	require.Error(t, err)

	_, err = db.Exec("INSERT INTO provider (provider_id, kind) VALUES (x'01', 'bsp')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO forest (provider_id, root, block_number) VALUES (x'01', x'ff', 1)")
	require.NoError(t, err)

	_, err = db.Exec("DELETE FROM provider WHERE provider_id = x'01'")
	require.NoError(t, err)
	var forests int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM forest").Scan(&forests))
	require.Zero(t, forests)
}

func TestInitDbVersions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "providers.db")

	addedColumn := func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "ALTER TABLE provider ADD COLUMN capacity INTEGER NOT NULL DEFAULT 0")
		return err
	}
	migrations := []sqlite.MigrationFunc{addedColumn}

	// a fresh database starts at the latest version without running migrations
	db, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, sqlite.InitDb(ctx, "providers", db, providerDdls, nil))
	require.Equal(t, []int{1}, metaVersions(t, db))
	_, err = db.Exec("INSERT INTO provider (provider_id, kind) VALUES (x'02', 'msp')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// upgrading runs the migration and re-applies idempotent ddls
	withIndex := append(append([]string{}, providerDdls...),
		"CREATE INDEX IF NOT EXISTS idx_forest_block ON forest (block_number)")
	db, err = sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, sqlite.InitDb(ctx, "providers", db, withIndex, migrations))
	require.Equal(t, []int{1, 2}, metaVersions(t, db))

	var capacity int
	require.NoError(t, db.QueryRow("SELECT capacity FROM provider WHERE provider_id = x'02'").Scan(&capacity))
	require.Zero(t, capacity)

	var idx int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_forest_block'").Scan(&idx))
	require.Equal(t, 1, idx)
	require.NoError(t, db.Close())

	// an older binary must not touch the upgraded database
	db, err = sqlite.Open(path)
	require.NoError(t, err)
	require.Error(t, sqlite.InitDb(ctx, "providers", db, providerDdls, nil))
	require.NoError(t, db.Close())
}
