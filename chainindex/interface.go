package chainindex

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

var log = logging.Logger("chainindex")

var (
	ErrClosed = errors.New("index closed")

	// ErrCursorUnset is returned by LastFinalizedBlock before the indexer
	// processed its first finalized block.
	ErrCursorUnset = errors.New("index has not processed a finalized block yet")
)

// EventIndex is the read side of the relational event index: ledger facts
// materialized by the indexer, filtered by finality.
//
// Every pending-work query takes the finalized block explicitly and only
// returns rows whose triggering event is at or below it.
type EventIndex interface {
	// LastFinalizedBlock is the last finalized block fully processed by the
	// indexer. It only ever grows.
	LastFinalizedBlock(ctx context.Context) (types.BlockNumber, error)

	// PendingUserDeletions lists user deletion requests made at or below
	// finalized. Requests whose signature was not indexed yet are returned
	// with a nil Signature.
	PendingUserDeletions(ctx context.Context, finalized types.BlockNumber) ([]UserDeletionRow, error)

	// PendingIncompleteDeletions lists incomplete storage request records
	// created at or below finalized.
	PendingIncompleteDeletions(ctx context.Context, finalized types.BlockNumber) ([]IncompleteRow, error)

	// FileAssociations returns the providers currently on record for each
	// known key. Unknown keys are absent from the result.
	FileAssociations(ctx context.Context, keys []types.FileKey) (map[types.FileKey]Associations, error)

	// PruneFile drops a file that no provider holds anymore, together with
	// every pending record for it.
	PruneFile(ctx context.Context, key types.FileKey) error

	Close() error
}

// FileRecord is a fulfilled storage request.
type FileRecord struct {
	FileKey      types.FileKey
	Bucket       types.BucketID
	Owner        string
	Location     []byte
	Fingerprint  types.Hash
	Size         uint64
	CreatedBlock types.BlockNumber
}

// UserDeletionRow is a user's request to delete File.
type UserDeletionRow struct {
	File FileRecord

	// Intention and Signature are nil until the signature has been indexed.
	Intention []byte
	Signature []byte

	Block types.BlockNumber
}

// HasSignature reports whether the owner signature was indexed.
func (r UserDeletionRow) HasSignature() bool {
	return len(r.Signature) > 0 && len(r.Intention) > 0
}

// IncompleteReason is why a storage request ended incomplete.
type IncompleteReason string

const (
	ReasonExpired IncompleteReason = "expired"
	ReasonRevoked IncompleteReason = "revoked"
)

func (r IncompleteReason) Valid() bool {
	return r == ReasonExpired || r == ReasonRevoked
}

// IncompleteRow is a storage request that expired or was revoked after some
// providers had already accepted the file.
type IncompleteRow struct {
	FileKey types.FileKey
	Bucket  types.BucketID
	Reason  IncompleteReason

	// Msp is the current MSP of Bucket, nil when the bucket has none.
	Msp *types.ProviderID

	// PendingBucketRemoval is set while the file still has to be removed
	// from the bucket forest.
	PendingBucketRemoval bool

	// PendingBsps are the BSPs that confirmed the file and still have to
	// remove it.
	PendingBsps []types.ProviderID

	Block types.BlockNumber
}

// Associations are the providers currently recorded as holding a file.
type Associations struct {
	Bucket types.BucketID

	// Msp is nil when the bucket has no MSP.
	Msp  *types.ProviderID
	Bsps []types.ProviderID
}
