package chainindex

import (
	"context"
	"errors"

	"github.com/yugabyte/pgx/v5"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/lib/harmony/harmonydb"
)

const (
	pgGetCursor = "SELECT last_finalized_block FROM service_state WHERE id = 1"

	pgPendingUserDeletions = `SELECT f.file_key, f.bucket_id, f.owner, f.location, f.fingerprint, f.size, f.created_block,
		s.signed_intention, s.signature, r.block_number
		FROM file_deletion_request r
		JOIN file f ON f.file_key = r.file_key
		LEFT JOIN file_deletion_signature s ON s.file_key = r.file_key
		WHERE r.block_number <= $1
		ORDER BY r.block_number, r.file_key`

	pgPendingIncomplete = `SELECT r.file_key, r.bucket_id, r.reason, r.pending_bucket_removal, r.block_number, b.msp_id
		FROM incomplete_storage_request r
		LEFT JOIN bucket b ON b.bucket_id = r.bucket_id
		WHERE r.block_number <= $1
		ORDER BY r.block_number, r.file_key`

	pgPendingIncompleteBsps = `SELECT p.file_key, p.bsp_id
		FROM incomplete_storage_request_bsp p
		JOIN incomplete_storage_request r ON r.file_key = p.file_key
		WHERE r.block_number <= $1
		ORDER BY p.file_key, p.bsp_id`

	pgFileBuckets = `SELECT f.file_key, f.bucket_id, b.msp_id
		FROM file f JOIN bucket b ON b.bucket_id = f.bucket_id
		WHERE f.file_key = ANY($1)`

	pgFileBsps = "SELECT file_key, bsp_id FROM bsp_file WHERE file_key = ANY($1) ORDER BY file_key, bsp_id"

	pgDeleteFile       = "DELETE FROM file WHERE file_key = $1"
	pgDeleteIncomplete = "DELETE FROM incomplete_storage_request WHERE file_key = $1"
)

var _ EventIndex = (*PgIndex)(nil)

// PgIndex reads an event index kept in postgres (or yugabyte) by an external
// indexer.
type PgIndex struct {
	db *harmonydb.DB
}

func NewPgIndex(db *harmonydb.DB) *PgIndex {
	return &PgIndex{db: db}
}

func (pi *PgIndex) Close() error {
	pi.db.Close()
	return nil
}

func (pi *PgIndex) LastFinalizedBlock(ctx context.Context) (types.BlockNumber, error) {
	var n int64
	err := pi.db.QueryRow(ctx, pgGetCursor).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCursorUnset
	}
	if err != nil {
		return 0, xerrors.Errorf("reading finalized cursor: %w", err)
	}
	return blockNumber(n)
}

func (pi *PgIndex) PendingUserDeletions(ctx context.Context, finalized types.BlockNumber) ([]UserDeletionRow, error) {
	var dbRows []userDeletionDbRow
	if err := pi.db.Select(ctx, &dbRows, pgPendingUserDeletions, int64(finalized)); err != nil {
		return nil, xerrors.Errorf("querying deletion requests: %w", err)
	}
	return toUserDeletionRows(dbRows)
}

func (pi *PgIndex) PendingIncompleteDeletions(ctx context.Context, finalized types.BlockNumber) ([]IncompleteRow, error) {
	var (
		dbRows  []incompleteDbRow
		bspRows []incompleteBspDbRow
	)
	_, err := pi.db.BeginTransaction(ctx, func(tx *harmonydb.Tx) (bool, error) {
		// Select appends, and a retried run starts over
		dbRows, bspRows = nil, nil
		if err := tx.Select(&dbRows, pgPendingIncomplete, int64(finalized)); err != nil {
			return false, xerrors.Errorf("querying incomplete requests: %w", err)
		}
		if err := tx.Select(&bspRows, pgPendingIncompleteBsps, int64(finalized)); err != nil {
			return false, xerrors.Errorf("querying incomplete request providers: %w", err)
		}
		return false, nil
	}, harmonydb.OptionIsolation(pgx.RepeatableRead), harmonydb.OptionRetry())
	if err != nil {
		return nil, err
	}
	return toIncompleteRows(dbRows, bspRows)
}

func (pi *PgIndex) FileAssociations(ctx context.Context, keys []types.FileKey) (map[types.FileKey]Associations, error) {
	raw := make([][]byte, 0, len(keys))
	for _, k := range keys {
		raw = append(raw, k.Bytes())
	}

	var buckets []struct {
		FileKey  []byte `db:"file_key"`
		BucketID []byte `db:"bucket_id"`
		MspID    []byte `db:"msp_id"`
	}
	if err := pi.db.Select(ctx, &buckets, pgFileBuckets, raw); err != nil {
		return nil, xerrors.Errorf("querying file buckets: %w", err)
	}

	var bsps []struct {
		FileKey []byte `db:"file_key"`
		BspID   []byte `db:"bsp_id"`
	}
	if err := pi.db.Select(ctx, &bsps, pgFileBsps, raw); err != nil {
		return nil, xerrors.Errorf("querying file bsps: %w", err)
	}
	byKey := make(map[string][][]byte, len(bsps))
	for _, b := range bsps {
		byKey[string(b.FileKey)] = append(byKey[string(b.FileKey)], b.BspID)
	}

	out := make(map[types.FileKey]Associations, len(buckets))
	for _, b := range buckets {
		key, err := types.HashFromBytes(b.FileKey)
		if err != nil {
			return nil, xerrors.Errorf("file key: %w", err)
		}
		a, err := toAssociations(b.BucketID, b.MspID, byKey[string(b.FileKey)])
		if err != nil {
			return nil, xerrors.Errorf("associations of %s: %w", types.FileKey(key), err)
		}
		out[types.FileKey(key)] = a
	}
	return out, nil
}

func (pi *PgIndex) PruneFile(ctx context.Context, key types.FileKey) error {
	_, err := pi.db.BeginTransaction(ctx, func(tx *harmonydb.Tx) (bool, error) {
		if _, err := tx.Exec(pgDeleteFile, key.Bytes()); err != nil {
			return false, xerrors.Errorf("deleting file %s: %w", key, err)
		}
		if _, err := tx.Exec(pgDeleteIncomplete, key.Bytes()); err != nil {
			return false, xerrors.Errorf("deleting incomplete request %s: %w", key, err)
		}
		return true, nil
	}, harmonydb.OptionIsolation(pgx.Serializable), harmonydb.OptionRetry())
	return err
}
