package fisherman

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// ForestOracle answers membership and proof queries against the live head of
// the node, never against the finalized index.
type ForestOracle interface {
	ForestIsMember(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) ([]bool, error)
	ForestGenerateProof(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) (*types.ForestProof, error)
}

// ProofBatch is one ledger call worth of deletions for a single forest,
// together with the proof covering all of them.
type ProofBatch struct {
	ID    uuid.UUID
	Scope types.ProviderScope
	Type  types.DeletionType

	// Keys are the proven keys, Intents the matching intents in the same order.
	Keys    []types.FileKey
	Intents []DeletionIntent

	// Satisfied are user deletions already absent from the forest.
	Satisfied []types.FileKey

	Proof       []byte
	BuiltAtRoot types.ForestRoot
	BuiltAt     types.BlockRef
}

// ProofBuilder produces one proof per batch against the scope's current root.
// Proof requests against the same forest never overlap.
type ProofBuilder struct {
	oracle  ForestOracle
	timeout time.Duration
	locks   scopeLocks
}

func NewProofBuilder(oracle ForestOracle, timeout time.Duration) *ProofBuilder {
	return &ProofBuilder{oracle: oracle, timeout: timeout}
}

// Build returns nil when there is nothing to prove. For user deletions, keys
// that are no longer members of the forest are moved to Satisfied; if none
// remain the returned batch has no keys and no proof.
func (b *ProofBuilder) Build(ctx context.Context, scope types.ProviderScope, typ types.DeletionType, intents []DeletionIntent) (*ProofBatch, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	unlock := b.locks.lock(scope)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ctx, span := trace.StartSpan(ctx, "fisherman.buildProof")
	defer span.End()
	span.AddAttributes(
		trace.StringAttribute("scope", scope.String()),
		trace.StringAttribute("type", typ.String()),
		trace.Int64Attribute("keys", int64(len(intents))),
	)

	keys := lo.Map(intents, func(in DeletionIntent, _ int) types.FileKey { return in.FileKey })
	members, err := b.oracle.ForestIsMember(ctx, scope, keys)
	if err != nil {
		return nil, xerrors.Errorf("checking membership in %s: %w", scope, err)
	}
	if len(members) != len(keys) {
		return nil, xerrors.Errorf("membership of %d keys in %s returned %d flags", len(keys), scope, len(members))
	}

	batch := &ProofBatch{
		ID:    uuid.New(),
		Scope: scope,
		Type:  typ,
	}
	for i, in := range intents {
		// a missing leaf still needs a non-inclusion proof to settle an
		// incomplete request on chain
		if typ == types.DeletionUser && !members[i] {
			batch.Satisfied = append(batch.Satisfied, in.FileKey)
			continue
		}
		batch.Keys = append(batch.Keys, in.FileKey)
		batch.Intents = append(batch.Intents, in)
	}
	if len(batch.Keys) == 0 {
		return batch, nil
	}

	tctx, _ := tag.New(ctx, tag.Upsert(metrics.ScopeKind, scope.Kind.String()))
	stop := metrics.Timer(tctx, metrics.ProofDuration)
	proof, err := b.oracle.ForestGenerateProof(ctx, scope, batch.Keys)
	took := stop()
	if err != nil {
		return nil, xerrors.Errorf("generating proof for %d keys in %s: %w", len(batch.Keys), scope, err)
	}

	batch.Proof = proof.Proof
	batch.BuiltAtRoot = proof.Root
	batch.BuiltAt = proof.At

	log.Debugw("built forest proof", "batch", batch.ID, "scope", scope, "type", typ,
		"keys", len(batch.Keys), "satisfied", len(batch.Satisfied), "root", proof.Root, "at", proof.At.Number, "took", took)
	return batch, nil
}

// scopeLocks is a keyed mutex. Entries are dropped once nobody holds or waits
// for them.
type scopeLocks struct {
	lk    sync.Mutex
	locks map[types.ProviderScope]*scopeLock
}

type scopeLock struct {
	sync.Mutex
	refs int
}

func (s *scopeLocks) lock(scope types.ProviderScope) func() {
	s.lk.Lock()
	if s.locks == nil {
		s.locks = map[types.ProviderScope]*scopeLock{}
	}
	l, ok := s.locks[scope]
	if !ok {
		l = &scopeLock{}
		s.locks[scope] = l
	}
	l.refs++
	s.lk.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		s.lk.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, scope)
		}
		s.lk.Unlock()
	}
}
