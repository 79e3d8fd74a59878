package chainindex

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Moonsong-Labs/storage-hub-sub006/lib/sqlite"
)

func sqliteObjects(t *testing.T, db *sql.DB, typ string) []string {
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = ? ORDER BY name", typ)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func rowCount(t *testing.T, db *sql.DB, table string) int {
	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func schemaVersion(t *testing.T, db *sql.DB) int {
	var v int
	require.NoError(t, db.QueryRow("SELECT max(version) FROM _meta").Scan(&v))
	return v
}

func TestEventIndexSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", DefaultDbFilename)

	db, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, sqlite.InitDb(ctx, "event index", db, ddls, nil))
	require.Equal(t, 1, schemaVersion(t, db))

	require.Subset(t, sqliteObjects(t, db, "table"), []string{
		"_meta", "service_state", "bucket", "file", "bsp_file",
		"file_deletion_request", "file_deletion_signature",
		"incomplete_storage_request", "incomplete_storage_request_bsp",
	})
	require.Subset(t, sqliteObjects(t, db, "index"), []string{
		"idx_file_bucket", "idx_bsp_file_key", "idx_deletion_request_block", "idx_incomplete_block",
	})

	key, bucket, bsp := id(1).Bytes(), id(0xC0).Bytes(), id(0xB0).Bytes()
	for _, stmt := range []struct {
		q    string
		args []interface{}
	}{
		{stmtInsertBucket, []interface{}{bucket, "owner", nil, 1}},
		{stmtInsertFile, []interface{}{key, bucket, "owner", []byte("/a"), id(9).Bytes(), 10, 1}},
		{stmtInsertBspFile, []interface{}{bsp, key, 1}},
		{stmtInsertDeletionRequest, []interface{}{key, 2}},
		{stmtInsertDeletionSignature, []interface{}{key, []byte("intention"), []byte("sig")}},
		{stmtInsertIncomplete, []interface{}{key, bucket, "revoked", 0, 2}},
		{stmtInsertIncompleteBsp, []interface{}{key, bsp}},
	} {
		_, err := db.Exec(stmt.q, stmt.args...)
		require.NoError(t, err, stmt.q)
	}

	// dropping a file takes everything referencing it along
	_, err = db.Exec(stmtDeleteFile, key)
	require.NoError(t, err)
	require.Zero(t, rowCount(t, db, "bsp_file"))
	require.Zero(t, rowCount(t, db, "file_deletion_request"))
	require.Zero(t, rowCount(t, db, "file_deletion_signature"))

	// incomplete records are not tied to the file row
	require.Equal(t, 1, rowCount(t, db, "incomplete_storage_request_bsp"))
	_, err = db.Exec(stmtDeleteIncomplete, key)
	require.NoError(t, err)
	require.Zero(t, rowCount(t, db, "incomplete_storage_request_bsp"))

	_, err = db.Exec(stmtInsertIncomplete, key, bucket, "lost", 0, 2)
	require.Error(t, err)

	_, err = db.Exec(stmtInsertBspFile, bsp, id(2).Bytes(), 1)
	require.Error(t, err, "bsp files must reference a known file")

	require.NoError(t, db.Close())

	var migrated int
	addMspIndex := func(ctx context.Context, tx *sql.Tx) error {
		migrated++
		_, err := tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_bucket_msp ON bucket (msp_id)")
		return err
	}

	// a new migration is applied once and recorded in _meta
	for i := 0; i < 2; i++ {
		db, err = sqlite.Open(path)
		require.NoError(t, err)
		require.NoError(t, sqlite.InitDb(ctx, "event index", db, ddls, []sqlite.MigrationFunc{addMspIndex}))
		require.Equal(t, 2, schemaVersion(t, db))
		require.Equal(t, 1, rowCount(t, db, "bucket"))
		require.NoError(t, db.Close())
	}
	require.Equal(t, 1, migrated)

	db, err = sqlite.Open(path)
	require.NoError(t, err)
	require.Contains(t, sqliteObjects(t, db, "index"), "idx_bucket_msp")

	// binaries that predate the migration refuse the newer database
	require.Error(t, sqlite.InitDb(ctx, "event index", db, ddls, nil))
	require.NoError(t, db.Close())
}
