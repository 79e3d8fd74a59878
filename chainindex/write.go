package chainindex

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

// Write side of the sqlite index. Rows carry the block that produced them so
// that RevertAbove can drop everything a reorg removed.

// SetLastFinalizedBlock advances the finalized cursor. It refuses to move it
// backwards.
func (si *SqliteIndex) SetLastFinalizedBlock(ctx context.Context, n types.BlockNumber) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	return withTx(ctx, si.db, func(tx *sql.Tx) error {
		var cur int64
		err := tx.StmtContext(ctx, si.getCursorStmt).QueryRowContext(ctx).Scan(&cur)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return xerrors.Errorf("reading finalized cursor: %w", err)
		case types.BlockNumber(cur) > n:
			return xerrors.Errorf("finalized cursor can't move back from %d to %d", cur, n)
		}
		if _, err := tx.StmtContext(ctx, si.setCursorStmt).ExecContext(ctx, int64(n)); err != nil {
			return xerrors.Errorf("setting finalized cursor: %w", err)
		}
		return nil
	})
}

// RevertAbove drops every fact recorded by blocks above n. Finalized blocks
// can't be reverted.
func (si *SqliteIndex) RevertAbove(ctx context.Context, n types.BlockNumber) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	return withTx(ctx, si.db, func(tx *sql.Tx) error {
		var cur int64
		err := tx.StmtContext(ctx, si.getCursorStmt).QueryRowContext(ctx).Scan(&cur)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return xerrors.Errorf("reading finalized cursor: %w", err)
		}
		if err == nil && types.BlockNumber(cur) > n {
			return xerrors.Errorf("can't revert to %d below finalized block %d", n, cur)
		}

		for _, stmt := range []string{
			stmtRevertDeletionRequests,
			stmtRevertIncompleteRecords,
			stmtRevertBspFiles,
			stmtRevertFiles,
			stmtRevertBuckets,
		} {
			if _, err := tx.ExecContext(ctx, stmt, int64(n)); err != nil {
				return xerrors.Errorf("reverting above %d: %w", n, err)
			}
		}
		return nil
	})
}

// PutBucket records a bucket; msp is nil when no MSP stores it. Calling it
// again for a known bucket updates its MSP.
func (si *SqliteIndex) PutBucket(ctx context.Context, bucket types.BucketID, owner string, msp *types.ProviderID, at types.BlockNumber) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	var mspBytes []byte
	if msp != nil {
		mspBytes = msp.Bytes()
	}
	if _, err := si.insertBucketStmt.ExecContext(ctx, bucket.Bytes(), owner, nullableBytes(mspBytes), int64(at)); err != nil {
		return xerrors.Errorf("inserting bucket %s: %w", bucket, err)
	}
	return nil
}

func (si *SqliteIndex) PutFile(ctx context.Context, f FileRecord) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	_, err = si.insertFileStmt.ExecContext(ctx,
		f.FileKey.Bytes(), f.Bucket.Bytes(), f.Owner, f.Location, f.Fingerprint.Bytes(), int64(f.Size), int64(f.CreatedBlock))
	if err != nil {
		return xerrors.Errorf("inserting file %s: %w", f.FileKey, err)
	}
	return nil
}

// PutBspFile records that bsp confirmed storing key.
func (si *SqliteIndex) PutBspFile(ctx context.Context, bsp types.ProviderID, key types.FileKey, at types.BlockNumber) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := si.insertBspFileStmt.ExecContext(ctx, bsp.Bytes(), key.Bytes(), int64(at)); err != nil {
		return xerrors.Errorf("inserting bsp %s file %s: %w", bsp, key, err)
	}
	return nil
}

func (si *SqliteIndex) RemoveBspFile(ctx context.Context, bsp types.ProviderID, key types.FileKey) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := si.deleteBspFileStmt.ExecContext(ctx, bsp.Bytes(), key.Bytes()); err != nil {
		return xerrors.Errorf("removing bsp %s file %s: %w", bsp, key, err)
	}
	return nil
}

// PutDeletionRequest records the user's request to delete key.
func (si *SqliteIndex) PutDeletionRequest(ctx context.Context, key types.FileKey, at types.BlockNumber) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := si.insertRequestStmt.ExecContext(ctx, key.Bytes(), int64(at)); err != nil {
		return xerrors.Errorf("inserting deletion request %s: %w", key, err)
	}
	return nil
}

// PutDeletionSignature stores the signed intention bytes exactly as given.
func (si *SqliteIndex) PutDeletionSignature(ctx context.Context, key types.FileKey, intention, signature []byte) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	if len(intention) == 0 || len(signature) == 0 {
		return xerrors.Errorf("empty signed intention for %s", key)
	}
	if _, err := si.insertSignatureStmt.ExecContext(ctx, key.Bytes(), intention, signature); err != nil {
		return xerrors.Errorf("inserting deletion signature %s: %w", key, err)
	}
	return nil
}

// PutIncompleteRequest records an expired or revoked storage request with the
// providers that still have to drop the file.
func (si *SqliteIndex) PutIncompleteRequest(ctx context.Context, r IncompleteRow) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	if !r.Reason.Valid() {
		return xerrors.Errorf("invalid incomplete reason %q", r.Reason)
	}

	return withTx(ctx, si.db, func(tx *sql.Tx) error {
		_, err := tx.StmtContext(ctx, si.insertIncompleteStmt).ExecContext(ctx,
			r.FileKey.Bytes(), r.Bucket.Bytes(), string(r.Reason), boolInt(r.PendingBucketRemoval), int64(r.Block))
		if err != nil {
			return xerrors.Errorf("inserting incomplete request %s: %w", r.FileKey, err)
		}
		bspStmt := tx.StmtContext(ctx, si.insertIncompleteBspStmt)
		for _, bsp := range r.PendingBsps {
			if _, err := bspStmt.ExecContext(ctx, r.FileKey.Bytes(), bsp.Bytes()); err != nil {
				return xerrors.Errorf("inserting incomplete request %s bsp %s: %w", r.FileKey, bsp, err)
			}
		}
		return nil
	})
}

// SettleIncomplete marks the scope as done for an incomplete request and drops
// the record once no scope is pending.
func (si *SqliteIndex) SettleIncomplete(ctx context.Context, key types.FileKey, scope types.ProviderScope) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	return withTx(ctx, si.db, func(tx *sql.Tx) error {
		var err error
		if scope.IsBsp() {
			_, err = tx.StmtContext(ctx, si.deleteIncompleteBspStmt).ExecContext(ctx, key.Bytes(), scope.Provider.Bytes())
		} else {
			_, err = tx.StmtContext(ctx, si.clearBucketRemovalStmt).ExecContext(ctx, key.Bytes())
		}
		if err != nil {
			return xerrors.Errorf("settling %s in %s: %w", key, scope, err)
		}
		if _, err := tx.StmtContext(ctx, si.deleteSettledStmt).ExecContext(ctx, key.Bytes()); err != nil {
			return xerrors.Errorf("dropping settled request %s: %w", key, err)
		}
		return nil
	})
}

// RemoveFile drops a file and everything referencing it, as the indexer does
// once the last provider removed it.
func (si *SqliteIndex) RemoveFile(ctx context.Context, key types.FileKey) error {
	unlock, err := si.guard()
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := si.deleteFileStmt.ExecContext(ctx, key.Bytes()); err != nil {
		return xerrors.Errorf("removing file %s: %w", key, err)
	}
	return nil
}
