package mock

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

var log = logging.Logger("nodemock")

var _ api.FishermanNode = (*Node)(nil)

// Node is an in-memory ledger node holding one forest per provider scope.
// Every forest mutation produces a new block, so the root of a forest moves
// exactly like it does on a live chain. Deletion calls are verified against
// the forest's current root.
type Node struct {
	lk sync.Mutex

	head    types.BlockRef
	sync    api.SyncState
	forests map[types.ProviderScope]map[types.FileKey]struct{}

	included []Included

	// hooks run without lk held
	onProof  func(scope types.ProviderScope, proof *types.ForestProof)
	onSubmit func(ctx context.Context, scope types.ProviderScope) error
}

// Included describes a deletion call accepted by the node.
type Included struct {
	Type  types.DeletionType
	Scope types.ProviderScope
	Keys  []types.FileKey
	Root  types.ForestRoot
	At    types.BlockRef

	// Deletions holds the replayed user deletions of DeleteFiles calls.
	Deletions []types.FileDeletionRequest
}

func NewNode() *Node {
	n := &Node{
		forests: map[types.ProviderScope]map[types.FileKey]struct{}{},
	}
	n.head.Hash = blake2b.Sum256([]byte("genesis"))
	return n
}

// RegisterScope creates an empty forest for scope.
func (n *Node) RegisterScope(scope types.ProviderScope) {
	n.lk.Lock()
	defer n.lk.Unlock()

	if _, ok := n.forests[scope]; !ok {
		n.forests[scope] = map[types.FileKey]struct{}{}
	}
}

// RemoveScope drops the forest, as when a BSP signs off or an MSP stops
// storing a bucket.
func (n *Node) RemoveScope(scope types.ProviderScope) {
	n.lk.Lock()
	defer n.lk.Unlock()

	delete(n.forests, scope)
	n.nextBlock()
}

// AddFiles inserts keys into the scope's forest in a new block.
func (n *Node) AddFiles(scope types.ProviderScope, keys ...types.FileKey) types.ForestRoot {
	n.lk.Lock()
	defer n.lk.Unlock()

	f, ok := n.forests[scope]
	if !ok {
		f = map[types.FileKey]struct{}{}
		n.forests[scope] = f
	}
	for _, k := range keys {
		f[k] = struct{}{}
	}
	n.nextBlock()
	return rootOf(f)
}

// Root returns the current root of scope's forest.
func (n *Node) Root(scope types.ProviderScope) (types.ForestRoot, bool) {
	n.lk.Lock()
	defer n.lk.Unlock()

	f, ok := n.forests[scope]
	if !ok {
		return types.ForestRoot{}, false
	}
	return rootOf(f), true
}

// Files returns the sorted keys of scope's forest.
func (n *Node) Files(scope types.ProviderScope) []types.FileKey {
	n.lk.Lock()
	defer n.lk.Unlock()

	return sortedKeys(n.forests[scope])
}

// Included returns the accepted deletion calls in inclusion order.
func (n *Node) Included() []Included {
	n.lk.Lock()
	defer n.lk.Unlock()

	return append([]Included(nil), n.included...)
}

// SetSyncState overrides the reported sync progress.
func (n *Node) SetSyncState(s api.SyncState) {
	n.lk.Lock()
	defer n.lk.Unlock()

	n.sync = s
}

// OnProof installs a hook called after every generated proof.
func (n *Node) OnProof(hook func(scope types.ProviderScope, proof *types.ForestProof)) {
	n.lk.Lock()
	defer n.lk.Unlock()

	n.onProof = hook
}

// OnSubmit installs a hook called before every deletion call is executed. A
// non-nil error is returned to the caller and the call is not executed.
func (n *Node) OnSubmit(hook func(ctx context.Context, scope types.ProviderScope) error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	n.onSubmit = hook
}

func (n *Node) Version(context.Context) (api.APIVersion, error) {
	return api.APIVersion{
		Version:        build.UserVersion(),
		APIVersion:     build.NodeAPIVersion,
		BlockDelaySecs: 6,
	}, nil
}

func (n *Node) ChainHead(context.Context) (types.BlockRef, error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	return n.head, nil
}

func (n *Node) ChainSyncState(context.Context) (api.SyncState, error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	s := n.sync
	if s.CurrentBlock == 0 && s.HighestBlock == 0 {
		s.CurrentBlock, s.HighestBlock = n.head.Number, n.head.Number
	}
	return s, nil
}

func (n *Node) ForestIsMember(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) ([]bool, error) {
	n.lk.Lock()
	defer n.lk.Unlock()

	f, ok := n.forests[scope]
	if !ok {
		return nil, xerrors.Errorf("forest of %s: %w", scope, api.ErrScopeNotFound)
	}
	out := make([]bool, len(keys))
	for i, k := range keys {
		_, out[i] = f[k]
	}
	return out, nil
}

func (n *Node) ForestGenerateProof(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) (*types.ForestProof, error) {
	n.lk.Lock()
	f, ok := n.forests[scope]
	if !ok {
		n.lk.Unlock()
		return nil, xerrors.Errorf("forest of %s: %w", scope, api.ErrScopeNotFound)
	}
	root := rootOf(f)
	proof := &types.ForestProof{
		Root:  root,
		At:    n.head,
		Proof: encodeProof(root, keys),
	}
	hook := n.onProof
	n.lk.Unlock()

	if hook != nil {
		hook(scope, proof)
	}
	return proof, nil
}

func (n *Node) FileSystemDeleteFiles(ctx context.Context, call *types.DeleteFilesCall) (*types.ExtrinsicResult, error) {
	if call == nil || len(call.Deletions) == 0 {
		return nil, &api.ErrDispatch{Module: "FileSystem", Name: "NoFileKeysToDelete"}
	}

	var scope types.ProviderScope
	switch {
	case call.BspID != nil && call.MspID == nil:
		scope = types.BspScope(*call.BspID)
	case call.MspID != nil && call.BspID == nil:
		scope = types.BucketScope(*call.MspID, call.Deletions[0].Bucket)
	default:
		return nil, &api.ErrDispatch{Module: "FileSystem", Name: "InvalidProviderScope"}
	}

	keys := make([]types.FileKey, 0, len(call.Deletions))
	for _, d := range call.Deletions {
		if len(d.Intention) == 0 || len(d.Signature) == 0 {
			return nil, &api.ErrDispatch{Module: "FileSystem", Name: "InvalidSignature"}
		}
		if scope.IsBucket() && d.Bucket != scope.Bucket {
			return nil, &api.ErrDispatch{Module: "FileSystem", Name: "FileKeysFromDifferentBuckets"}
		}
		keys = append(keys, d.FileKey)
	}

	return n.execute(ctx, Included{
		Type:      types.DeletionUser,
		Scope:     scope,
		Keys:      keys,
		Root:      call.Root,
		Deletions: call.Deletions,
	}, call.Proof)
}

func (n *Node) FileSystemDeleteFilesForIncompleteStorageRequest(ctx context.Context, call *types.DeleteIncompleteCall) (*types.ExtrinsicResult, error) {
	if call == nil || len(call.FileKeys) == 0 {
		return nil, &api.ErrDispatch{Module: "FileSystem", Name: "NoFileKeysToDelete"}
	}

	var scope types.ProviderScope
	switch {
	case call.BspID != nil && call.MspID == nil:
		scope = types.BspScope(*call.BspID)
	case call.MspID != nil && call.BspID == nil && call.Bucket != nil:
		scope = types.BucketScope(*call.MspID, *call.Bucket)
	default:
		return nil, &api.ErrDispatch{Module: "FileSystem", Name: "InvalidProviderScope"}
	}

	return n.execute(ctx, Included{
		Type:  types.DeletionIncomplete,
		Scope: scope,
		Keys:  call.FileKeys,
		Root:  call.Root,
	}, call.Proof)
}

func (n *Node) execute(ctx context.Context, inc Included, proof []byte) (*types.ExtrinsicResult, error) {
	n.lk.Lock()
	hook := n.onSubmit
	n.lk.Unlock()

	if hook != nil {
		if err := hook(ctx, inc.Scope); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.lk.Lock()
	defer n.lk.Unlock()

	f, ok := n.forests[inc.Scope]
	if !ok {
		return nil, xerrors.Errorf("forest of %s: %w", inc.Scope, api.ErrScopeNotFound)
	}
	if rootOf(f) != inc.Root {
		log.Debugw("rejecting stale proof", "scope", inc.Scope, "root", inc.Root, "current", rootOf(f))
		return nil, xerrors.Errorf("root %s: %w", inc.Root, api.ErrStaleProof)
	}
	if !bytes.Equal(proof, encodeProof(inc.Root, inc.Keys)) {
		return nil, &api.ErrDispatch{Module: "FileSystem", Name: "ForestProofVerificationFailed"}
	}

	for _, k := range inc.Keys {
		delete(f, k)
	}
	n.nextBlock()

	inc.Keys = append([]types.FileKey(nil), inc.Keys...)
	inc.At = n.head
	n.included = append(n.included, inc)

	return &types.ExtrinsicResult{
		Included:      n.head,
		ExtrinsicHash: blake2b.Sum256(append(n.head.Hash[:], proof...)),
	}, nil
}

// nextBlock must be called with lk held.
func (n *Node) nextBlock() {
	var buf [types.HashLength + 8]byte
	copy(buf[:], n.head.Hash[:])
	binary.BigEndian.PutUint64(buf[types.HashLength:], uint64(n.head.Number+1))

	n.head = types.BlockRef{
		Number: n.head.Number + 1,
		Hash:   blake2b.Sum256(buf[:]),
	}
}

func sortedKeys(f map[types.FileKey]struct{}) []types.FileKey {
	keys := make([]types.FileKey, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// rootOf commits to the sorted leaf set.
func rootOf(f map[types.FileKey]struct{}) types.ForestRoot {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte("forest"))
	for _, k := range sortedKeys(f) {
		_, _ = h.Write(k[:])
	}
	var root types.ForestRoot
	copy(root[:], h.Sum(nil))
	return root
}

// encodeProof stands in for a compact multi-leaf proof: the root followed by
// the sorted proven keys.
func encodeProof(root types.ForestRoot, keys []types.FileKey) []byte {
	sorted := append([]types.FileKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	out := make([]byte, 0, types.HashLength*(len(sorted)+1))
	out = append(out, root[:]...)
	for _, k := range sorted {
		out = append(out, k[:]...)
	}
	return out
}
