package fisherman

import (
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
)

// DeletionIntent is a finalized decision that a file must leave one or more
// forests. Intents are rebuilt from the index every cycle.
type DeletionIntent struct {
	FileKey types.FileKey

	// Origin is the block of the event that created the intent.
	Origin types.BlockNumber
	// Finalized is set by the classifier for intents at or below the cursor.
	Finalized bool

	// Scopes is filled by the resolver.
	Scopes []types.ProviderScope

	Payload Payload
}

func (i DeletionIntent) Type() types.DeletionType {
	return i.Payload.deletionType()
}

// Payload is the type-specific part of an intent, either *UserPayload or
// *IncompletePayload.
type Payload interface {
	deletionType() types.DeletionType
}

// UserPayload carries what a user deletion call has to replay: the file
// metadata and the owner's signed intention, byte for byte.
type UserPayload struct {
	File      chainindex.FileRecord
	Intention types.SignedDeleteIntention
}

func (*UserPayload) deletionType() types.DeletionType { return types.DeletionUser }

// IncompletePayload describes an expired or revoked storage request and the
// providers recorded as still holding the file.
type IncompletePayload struct {
	Bucket types.BucketID
	Reason chainindex.IncompleteReason

	Msp                  *types.ProviderID
	PendingBucketRemoval bool
	PendingBsps          []types.ProviderID
}

func (*IncompletePayload) deletionType() types.DeletionType { return types.DeletionIncomplete }

var (
	_ Payload = (*UserPayload)(nil)
	_ Payload = (*IncompletePayload)(nil)
)
