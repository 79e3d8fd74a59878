package chainindex

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/georgysavva/scany/v2/sqlscan"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/lib/sqlite"
)

var _ EventIndex = (*SqliteIndex)(nil)

// SqliteIndex is an EventIndex stored in a local sqlite database. Besides the
// read side it exposes the writes an indexer performs, which devnets and
// tests use to populate it.
type SqliteIndex struct {
	db *sql.DB

	getCursorStmt           *sql.Stmt
	setCursorStmt           *sql.Stmt
	fileBucketStmt          *sql.Stmt
	fileBspsStmt            *sql.Stmt
	deleteFileStmt          *sql.Stmt
	deleteIncompleteStmt    *sql.Stmt
	insertBucketStmt        *sql.Stmt
	insertFileStmt          *sql.Stmt
	insertBspFileStmt       *sql.Stmt
	deleteBspFileStmt       *sql.Stmt
	insertRequestStmt       *sql.Stmt
	insertSignatureStmt     *sql.Stmt
	insertIncompleteStmt    *sql.Stmt
	insertIncompleteBspStmt *sql.Stmt
	deleteIncompleteBspStmt *sql.Stmt
	clearBucketRemovalStmt  *sql.Stmt
	deleteSettledStmt       *sql.Stmt

	closeLk sync.RWMutex
	closed  bool
}

func NewSqliteIndex(path string) (si *SqliteIndex, err error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to setup event index db: %w", err)
	}

	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	err = sqlite.InitDb(context.Background(), "event index", db, ddls, []sqlite.MigrationFunc{})
	if err != nil {
		return nil, xerrors.Errorf("failed to init event index db: %w", err)
	}

	si = &SqliteIndex{db: db}
	if err = si.prepareStatements(); err != nil {
		return nil, xerrors.Errorf("failed to prepare statements: %w", err)
	}

	return si, nil
}

func (si *SqliteIndex) prepareStatements() error {
	stmts := map[**sql.Stmt]string{
		&si.getCursorStmt:           stmtGetCursor,
		&si.setCursorStmt:           stmtSetCursor,
		&si.fileBucketStmt:          stmtFileBucket,
		&si.fileBspsStmt:            stmtFileBsps,
		&si.deleteFileStmt:          stmtDeleteFile,
		&si.deleteIncompleteStmt:    stmtDeleteIncomplete,
		&si.insertBucketStmt:        stmtInsertBucket,
		&si.insertFileStmt:          stmtInsertFile,
		&si.insertBspFileStmt:       stmtInsertBspFile,
		&si.deleteBspFileStmt:       stmtDeleteBspFile,
		&si.insertRequestStmt:       stmtInsertDeletionRequest,
		&si.insertSignatureStmt:     stmtInsertDeletionSignature,
		&si.insertIncompleteStmt:    stmtInsertIncomplete,
		&si.insertIncompleteBspStmt: stmtInsertIncompleteBsp,
		&si.deleteIncompleteBspStmt: stmtDeleteIncompleteBsp,
		&si.clearBucketRemovalStmt:  stmtClearBucketRemoval,
		&si.deleteSettledStmt:       stmtDeleteSettled,
	}
	for stmt, query := range stmts {
		var err error
		*stmt, err = si.db.Prepare(query)
		if err != nil {
			return xerrors.Errorf("prepare %s: %w", query, err)
		}
	}
	return nil
}

func (si *SqliteIndex) Close() error {
	si.closeLk.Lock()
	defer si.closeLk.Unlock()
	if si.closed {
		return nil
	}
	si.closed = true

	if si.db == nil {
		return nil
	}
	return si.db.Close()
}

// guard takes the read side of the close lock. The returned func releases it.
func (si *SqliteIndex) guard() (func(), error) {
	si.closeLk.RLock()
	if si.closed {
		si.closeLk.RUnlock()
		return nil, ErrClosed
	}
	return si.closeLk.RUnlock, nil
}

func (si *SqliteIndex) LastFinalizedBlock(ctx context.Context) (types.BlockNumber, error) {
	unlock, err := si.guard()
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	err = si.getCursorStmt.QueryRowContext(ctx).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCursorUnset
	}
	if err != nil {
		return 0, xerrors.Errorf("reading finalized cursor: %w", err)
	}
	return blockNumber(n)
}

func (si *SqliteIndex) PendingUserDeletions(ctx context.Context, finalized types.BlockNumber) ([]UserDeletionRow, error) {
	unlock, err := si.guard()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var dbRows []userDeletionDbRow
	if err := sqlscan.Select(ctx, si.db, &dbRows, stmtPendingUserDeletions, int64(finalized)); err != nil {
		return nil, xerrors.Errorf("querying deletion requests: %w", err)
	}
	return toUserDeletionRows(dbRows)
}

func (si *SqliteIndex) PendingIncompleteDeletions(ctx context.Context, finalized types.BlockNumber) ([]IncompleteRow, error) {
	unlock, err := si.guard()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		dbRows  []incompleteDbRow
		bspRows []incompleteBspDbRow
	)
	// both reads see the same snapshot
	err = withTx(ctx, si.db, func(tx *sql.Tx) error {
		if err := sqlscan.Select(ctx, tx, &dbRows, stmtPendingIncomplete, int64(finalized)); err != nil {
			return xerrors.Errorf("querying incomplete requests: %w", err)
		}
		if err := sqlscan.Select(ctx, tx, &bspRows, stmtPendingIncompleteBsps, int64(finalized)); err != nil {
			return xerrors.Errorf("querying incomplete request providers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toIncompleteRows(dbRows, bspRows)
}

func (si *SqliteIndex) FileAssociations(ctx context.Context, keys []types.FileKey) (map[types.FileKey]Associations, error) {
	unlock, err := si.guard()
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make(map[types.FileKey]Associations, len(keys))
	err = withTx(ctx, si.db, func(tx *sql.Tx) error {
		bucketStmt := tx.StmtContext(ctx, si.fileBucketStmt)
		bspsStmt := tx.StmtContext(ctx, si.fileBspsStmt)

		for _, key := range keys {
			var bucket, msp []byte
			err := bucketStmt.QueryRowContext(ctx, key.Bytes()).Scan(&bucket, &msp)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return xerrors.Errorf("reading bucket of %s: %w", key, err)
			}

			rawBsps, err := queryBsps(ctx, bspsStmt, key)
			if err != nil {
				return err
			}

			a, err := toAssociations(bucket, msp, rawBsps)
			if err != nil {
				return xerrors.Errorf("associations of %s: %w", key, err)
			}
			out[key] = a
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func queryBsps(ctx context.Context, stmt *sql.Stmt, key types.FileKey) ([][]byte, error) {
	rows, err := stmt.QueryContext(ctx, key.Bytes())
	if err != nil {
		return nil, xerrors.Errorf("reading bsps of %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var bsp []byte
		if err := rows.Scan(&bsp); err != nil {
			return nil, xerrors.Errorf("scanning bsp of %s: %w", key, err)
		}
		out = append(out, bsp)
	}
	return out, rows.Err()
}

func (si *SqliteIndex) PruneFile(ctx context.Context, key types.FileKey) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	return withTx(ctx, si.db, func(tx *sql.Tx) error {
		if _, err := tx.StmtContext(ctx, si.deleteFileStmt).ExecContext(ctx, key.Bytes()); err != nil {
			return xerrors.Errorf("deleting file %s: %w", key, err)
		}
		if _, err := tx.StmtContext(ctx, si.deleteIncompleteStmt).ExecContext(ctx, key.Bytes()); err != nil {
			return xerrors.Errorf("deleting incomplete request %s: %w", key, err)
		}
		log.Debugw("pruned file from index", "file", key)
		return nil
	})
}
