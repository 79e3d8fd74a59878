package api

import (
	"context"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

// FishermanNode is the node surface the fisherman consumes: chain head and
// sync status, forest membership and proofs against the live head, and the
// two deletion calls.
type FishermanNode interface {
	Version(context.Context) (APIVersion, error) //perm:read

	ChainHead(context.Context) (types.BlockRef, error) //perm:read
	ChainSyncState(context.Context) (SyncState, error) //perm:read

	// ForestIsMember reports, for each key, whether it is a leaf of the
	// scope's forest at the node's current head.
	ForestIsMember(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) ([]bool, error) //perm:read
	// ForestGenerateProof returns one proof covering all keys (inclusion or
	// non-inclusion) against the scope's current root.
	ForestGenerateProof(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) (*types.ForestProof, error) //perm:read

	FileSystemDeleteFiles(ctx context.Context, call *types.DeleteFilesCall) (*types.ExtrinsicResult, error)                                 //perm:sign
	FileSystemDeleteFilesForIncompleteStorageRequest(ctx context.Context, call *types.DeleteIncompleteCall) (*types.ExtrinsicResult, error) //perm:sign
}

// SyncState is the node's import progress relative to the best block it has
// heard of from peers.
type SyncState struct {
	StartingBlock types.BlockNumber
	CurrentBlock  types.BlockNumber
	HighestBlock  types.BlockNumber
}

// Lag is how many blocks the node is behind the best known block.
func (s SyncState) Lag() types.BlockNumber {
	if s.HighestBlock <= s.CurrentBlock {
		return 0
	}
	return s.HighestBlock - s.CurrentBlock
}

// APIVersion provides various build-time information
type APIVersion struct {
	Version string

	// APIVersion is a binary encoded semver version of the remote implementing
	// this api
	APIVersion build.Version

	BlockDelaySecs uint64
}
