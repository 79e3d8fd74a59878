package chainindex

import (
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

// Row shapes shared by the sqlite and postgres backends. Ids are stored as
// raw 32-byte blobs and checked when converted.

type userDeletionDbRow struct {
	FileKey      []byte `db:"file_key"`
	BucketID     []byte `db:"bucket_id"`
	Owner        string `db:"owner"`
	Location     []byte `db:"location"`
	Fingerprint  []byte `db:"fingerprint"`
	Size         int64  `db:"size"`
	CreatedBlock int64  `db:"created_block"`
	Intention    []byte `db:"signed_intention"`
	Signature    []byte `db:"signature"`
	BlockNumber  int64  `db:"block_number"`
}

type incompleteDbRow struct {
	FileKey              []byte `db:"file_key"`
	BucketID             []byte `db:"bucket_id"`
	Reason               string `db:"reason"`
	PendingBucketRemoval bool   `db:"pending_bucket_removal"`
	BlockNumber          int64  `db:"block_number"`
	MspID                []byte `db:"msp_id"`
}

type incompleteBspDbRow struct {
	FileKey []byte `db:"file_key"`
	BspID   []byte `db:"bsp_id"`
}

func blockNumber(n int64) (types.BlockNumber, error) {
	if n < 0 {
		return 0, xerrors.Errorf("negative block number %d", n)
	}
	return types.BlockNumber(n), nil
}

func optionalProvider(b []byte) (*types.ProviderID, error) {
	if len(b) == 0 {
		return nil, nil
	}
	h, err := types.HashFromBytes(b)
	if err != nil {
		return nil, xerrors.Errorf("provider id: %w", err)
	}
	p := types.ProviderID(h)
	return &p, nil
}

func (r userDeletionDbRow) toRow() (UserDeletionRow, error) {
	key, err := types.HashFromBytes(r.FileKey)
	if err != nil {
		return UserDeletionRow{}, xerrors.Errorf("file key: %w", err)
	}
	bucket, err := types.HashFromBytes(r.BucketID)
	if err != nil {
		return UserDeletionRow{}, xerrors.Errorf("bucket of %s: %w", types.FileKey(key), err)
	}
	fp, err := types.HashFromBytes(r.Fingerprint)
	if err != nil {
		return UserDeletionRow{}, xerrors.Errorf("fingerprint of %s: %w", types.FileKey(key), err)
	}
	if r.Size < 0 {
		return UserDeletionRow{}, xerrors.Errorf("negative size for %s", types.FileKey(key))
	}
	created, err := blockNumber(r.CreatedBlock)
	if err != nil {
		return UserDeletionRow{}, err
	}
	at, err := blockNumber(r.BlockNumber)
	if err != nil {
		return UserDeletionRow{}, err
	}

	return UserDeletionRow{
		File: FileRecord{
			FileKey:      types.FileKey(key),
			Bucket:       types.BucketID(bucket),
			Owner:        r.Owner,
			Location:     r.Location,
			Fingerprint:  fp,
			Size:         uint64(r.Size),
			CreatedBlock: created,
		},
		Intention: r.Intention,
		Signature: r.Signature,
		Block:     at,
	}, nil
}

func toUserDeletionRows(dbRows []userDeletionDbRow) ([]UserDeletionRow, error) {
	out := make([]UserDeletionRow, 0, len(dbRows))
	for _, r := range dbRows {
		row, err := r.toRow()
		if err != nil {
			return nil, xerrors.Errorf("decoding deletion request: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

func toIncompleteRows(dbRows []incompleteDbRow, bspRows []incompleteBspDbRow) ([]IncompleteRow, error) {
	bsps := make(map[types.FileKey][]types.ProviderID, len(bspRows))
	for _, r := range bspRows {
		key, err := types.HashFromBytes(r.FileKey)
		if err != nil {
			return nil, xerrors.Errorf("pending bsp file key: %w", err)
		}
		bsp, err := types.HashFromBytes(r.BspID)
		if err != nil {
			return nil, xerrors.Errorf("pending bsp of %s: %w", types.FileKey(key), err)
		}
		bsps[types.FileKey(key)] = append(bsps[types.FileKey(key)], types.ProviderID(bsp))
	}

	out := make([]IncompleteRow, 0, len(dbRows))
	for _, r := range dbRows {
		key, err := types.HashFromBytes(r.FileKey)
		if err != nil {
			return nil, xerrors.Errorf("incomplete file key: %w", err)
		}
		bucket, err := types.HashFromBytes(r.BucketID)
		if err != nil {
			return nil, xerrors.Errorf("bucket of %s: %w", types.FileKey(key), err)
		}
		reason := IncompleteReason(r.Reason)
		if !reason.Valid() {
			return nil, xerrors.Errorf("unknown incomplete reason %q for %s", r.Reason, types.FileKey(key))
		}
		msp, err := optionalProvider(r.MspID)
		if err != nil {
			return nil, err
		}
		at, err := blockNumber(r.BlockNumber)
		if err != nil {
			return nil, err
		}
		out = append(out, IncompleteRow{
			FileKey:              types.FileKey(key),
			Bucket:               types.BucketID(bucket),
			Reason:               reason,
			Msp:                  msp,
			PendingBucketRemoval: r.PendingBucketRemoval,
			PendingBsps:          bsps[types.FileKey(key)],
			Block:                at,
		})
	}
	return out, nil
}

func toProviders(raw [][]byte) ([]types.ProviderID, error) {
	out := make([]types.ProviderID, 0, len(raw))
	for _, b := range raw {
		h, err := types.HashFromBytes(b)
		if err != nil {
			return nil, xerrors.Errorf("provider id: %w", err)
		}
		out = append(out, types.ProviderID(h))
	}
	return out, nil
}

func toAssociations(bucket, msp []byte, bsps [][]byte) (Associations, error) {
	b, err := types.HashFromBytes(bucket)
	if err != nil {
		return Associations{}, xerrors.Errorf("bucket id: %w", err)
	}
	m, err := optionalProvider(msp)
	if err != nil {
		return Associations{}, err
	}
	providers, err := toProviders(bsps)
	if err != nil {
		return Associations{}, err
	}
	return Associations{Bucket: types.BucketID(b), Msp: m, Bsps: providers}, nil
}
