package types

import (
	"fmt"

	"golang.org/x/xerrors"
)

// DeletionType separates user-requested deletions from clean-up of files
// left behind by expired or revoked storage requests.
type DeletionType uint8

const (
	DeletionUser DeletionType = iota + 1
	DeletionIncomplete
)

func (t DeletionType) String() string {
	switch t {
	case DeletionUser:
		return "user"
	case DeletionIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("DeletionType(%d)", uint8(t))
	}
}

// ParseDeletionType is the inverse of DeletionType.String.
func ParseDeletionType(s string) (DeletionType, error) {
	switch s {
	case "user":
		return DeletionUser, nil
	case "incomplete":
		return DeletionIncomplete, nil
	default:
		return 0, xerrors.Errorf("unknown deletion type %q", s)
	}
}

// Next returns the type served after t.
func (t DeletionType) Next() DeletionType {
	if t == DeletionUser {
		return DeletionIncomplete
	}
	return DeletionUser
}

// FileOperation is the operation a signed intention authorises.
type FileOperation uint8

const (
	OperationDelete FileOperation = iota
)

// SignedDeleteIntention is the owner-signed request to delete a file. Encoded
// holds the exact bytes that were signed; the ledger re-verifies the signature
// over them so they are replayed untouched.
type SignedDeleteIntention struct {
	FileKey   FileKey
	Operation FileOperation
	Encoded   []byte
	Signature []byte
}

// ForestProof is a proof over a set of keys against Root, the root of the
// scope's forest when the proof was generated.
type ForestProof struct {
	Root  ForestRoot
	At    BlockRef
	Proof []byte
}

// FileDeletionRequest is one entry of a delete_files call.
type FileDeletionRequest struct {
	FileKey     FileKey
	Owner       string
	Intention   []byte
	Signature   []byte
	Bucket      BucketID
	Location    []byte
	Size        uint64
	Fingerprint Hash
}

// DeleteFilesCall proves the removal of user-requested deletions from one
// forest. MspID is set only when proving against a bucket forest; a nil MspID
// with a nil BspID is invalid.
type DeleteFilesCall struct {
	Deletions []FileDeletionRequest
	MspID     *ProviderID
	BspID     *ProviderID
	Root      ForestRoot
	Proof     []byte
}

// DeleteIncompleteCall removes files of an expired or revoked storage request
// from one forest.
type DeleteIncompleteCall struct {
	FileKeys []FileKey
	Bucket   *BucketID
	MspID    *ProviderID
	BspID    *ProviderID
	Root     ForestRoot
	Proof    []byte
}

// ExtrinsicResult describes where a successful call was included.
type ExtrinsicResult struct {
	Included      BlockRef
	ExtrinsicHash Hash
}
