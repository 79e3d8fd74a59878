package api

import (
	"context"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

var _ FishermanNode = (*FishermanNodeStruct)(nil)

type FishermanNodeStruct struct {
	Internal FishermanNodeMethods
}

type FishermanNodeMethods struct {
	ChainHead func(p0 context.Context) (types.BlockRef, error) `perm:"read"`

	ChainSyncState func(p0 context.Context) (SyncState, error) `perm:"read"`

	FileSystemDeleteFiles func(p0 context.Context, p1 *types.DeleteFilesCall) (*types.ExtrinsicResult, error) `perm:"sign"`

	FileSystemDeleteFilesForIncompleteStorageRequest func(p0 context.Context, p1 *types.DeleteIncompleteCall) (*types.ExtrinsicResult, error) `perm:"sign"`

	ForestGenerateProof func(p0 context.Context, p1 types.ProviderScope, p2 []types.FileKey) (*types.ForestProof, error) `perm:"read"`

	ForestIsMember func(p0 context.Context, p1 types.ProviderScope, p2 []types.FileKey) ([]bool, error) `perm:"read"`

	Version func(p0 context.Context) (APIVersion, error) `perm:"read"`
}

func (s *FishermanNodeStruct) ChainHead(p0 context.Context) (types.BlockRef, error) {
	if s.Internal.ChainHead == nil {
		return *new(types.BlockRef), ErrNotSupported
	}
	return s.Internal.ChainHead(p0)
}

func (s *FishermanNodeStruct) ChainSyncState(p0 context.Context) (SyncState, error) {
	if s.Internal.ChainSyncState == nil {
		return *new(SyncState), ErrNotSupported
	}
	return s.Internal.ChainSyncState(p0)
}

func (s *FishermanNodeStruct) FileSystemDeleteFiles(p0 context.Context, p1 *types.DeleteFilesCall) (*types.ExtrinsicResult, error) {
	if s.Internal.FileSystemDeleteFiles == nil {
		return nil, ErrNotSupported
	}
	return s.Internal.FileSystemDeleteFiles(p0, p1)
}

func (s *FishermanNodeStruct) FileSystemDeleteFilesForIncompleteStorageRequest(p0 context.Context, p1 *types.DeleteIncompleteCall) (*types.ExtrinsicResult, error) {
	if s.Internal.FileSystemDeleteFilesForIncompleteStorageRequest == nil {
		return nil, ErrNotSupported
	}
	return s.Internal.FileSystemDeleteFilesForIncompleteStorageRequest(p0, p1)
}

func (s *FishermanNodeStruct) ForestGenerateProof(p0 context.Context, p1 types.ProviderScope, p2 []types.FileKey) (*types.ForestProof, error) {
	if s.Internal.ForestGenerateProof == nil {
		return nil, ErrNotSupported
	}
	return s.Internal.ForestGenerateProof(p0, p1, p2)
}

func (s *FishermanNodeStruct) ForestIsMember(p0 context.Context, p1 types.ProviderScope, p2 []types.FileKey) ([]bool, error) {
	if s.Internal.ForestIsMember == nil {
		return *new([]bool), ErrNotSupported
	}
	return s.Internal.ForestIsMember(p0, p1, p2)
}

func (s *FishermanNodeStruct) Version(p0 context.Context) (APIVersion, error) {
	if s.Internal.Version == nil {
		return *new(APIVersion), ErrNotSupported
	}
	return s.Internal.Version(p0)
}
