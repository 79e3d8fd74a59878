package fisherman

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal/alerting"
	"github.com/Moonsong-Labs/storage-hub-sub006/mock"
	"github.com/Moonsong-Labs/storage-hub-sub006/node/config"
)

func id(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	h[31] = b
	return h
}

func fk(b byte) types.FileKey      { return types.FileKey(id(b)) }
func bucket(b byte) types.BucketID { return types.BucketID(id(0xC0 + b)) }

var (
	msp = types.ProviderID(id(0xA0))
	bsp = types.ProviderID(id(0xB0))
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	node  *mock.Node
	index *chainindex.SqliteIndex
	al    *alerting.Alerting
	fm    *Fisherman

	msps    map[types.BucketID]*types.ProviderID
	scopes  map[types.ProviderScope]struct{}
	indexed int
}

func testConfig() config.FishermanConfig {
	cfg := config.DefaultFisherman().Fisherman
	cfg.CycleInterval = config.Duration(10 * time.Millisecond)
	cfg.ProofTimeout = config.Duration(5 * time.Second)
	cfg.SubmitTimeout = config.Duration(5 * time.Second)
	cfg.IndexTimeout = config.Duration(5 * time.Second)
	cfg.SyncPollInterval = config.Duration(time.Second)
	return cfg
}

func newHarness(t *testing.T, tweaks ...func(*config.FishermanConfig)) *harness {
	cfg := testConfig()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}

	index, err := chainindex.NewSqliteIndex(filepath.Join(t.TempDir(), chainindex.DefaultDbFilename))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		node:   mock.NewNode(),
		index:  index,
		al:     alerting.NewAlertingSystem(journal.NilJournal()),
		msps:   map[types.BucketID]*types.ProviderID{},
		scopes: map[types.ProviderScope]struct{}{},
	}
	h.fm, err = New(h.ctx, h.node, index, cfg, journal.NilJournal(), h.al)
	require.NoError(t, err)
	return h
}

func (h *harness) putBucket(b types.BucketID, m *types.ProviderID) {
	require.NoError(h.t, h.index.PutBucket(h.ctx, b, "5Owner", m, 1))
	h.msps[b] = m
}

// indexFile records a stored file in the index only.
func (h *harness) indexFile(key types.FileKey, b types.BucketID, at types.BlockNumber, bsps ...types.ProviderID) {
	require.NoError(h.t, h.index.PutFile(h.ctx, chainindex.FileRecord{
		FileKey:      key,
		Bucket:       b,
		Owner:        "5Owner",
		Location:     append([]byte("/files/"), key[:4]...),
		Fingerprint:  types.Hash(key),
		Size:         2048,
		CreatedBlock: at,
	}))
	for _, p := range bsps {
		require.NoError(h.t, h.index.PutBspFile(h.ctx, p, key, at))
	}
}

// storeFile indexes the file and inserts it into the bucket forest and every
// bsp forest.
func (h *harness) storeFile(key types.FileKey, b types.BucketID, at types.BlockNumber, bsps ...types.ProviderID) {
	h.indexFile(key, b, at, bsps...)
	if m := h.msps[b]; m != nil {
		scope := types.BucketScope(*m, b)
		h.node.AddFiles(scope, key)
		h.scopes[scope] = struct{}{}
	}
	for _, p := range bsps {
		scope := types.BspScope(p)
		h.node.AddFiles(scope, key)
		h.scopes[scope] = struct{}{}
	}
}

func (h *harness) requestDeletion(key types.FileKey, at types.BlockNumber, signed bool) {
	require.NoError(h.t, h.index.PutDeletionRequest(h.ctx, key, at))
	if signed {
		h.sign(key)
	}
}

func (h *harness) sign(key types.FileKey) {
	intention := append([]byte("delete:"), key[:]...)
	require.NoError(h.t, h.index.PutDeletionSignature(h.ctx, key, intention, append([]byte("sig:"), key[:]...)))
}

func (h *harness) revoke(key types.FileKey, b types.BucketID, at types.BlockNumber, bsps ...types.ProviderID) {
	require.NoError(h.t, h.index.PutIncompleteRequest(h.ctx, chainindex.IncompleteRow{
		FileKey:              key,
		Bucket:               b,
		Reason:               chainindex.ReasonRevoked,
		PendingBucketRemoval: h.msps[b] != nil,
		PendingBsps:          bsps,
		Block:                at,
	}))
}

func (h *harness) finalize(n types.BlockNumber) {
	require.NoError(h.t, h.index.SetLastFinalizedBlock(h.ctx, n))
}

func (h *harness) cycle(want types.DeletionType) *CycleReport {
	report, err := h.fm.RunCycle(h.ctx)
	require.NoError(h.t, err)
	require.Equal(h.t, want, report.Type)
	return report
}

// applyIncluded plays the indexer: it reflects the included deletion calls
// in the index, dropping files that left every forest.
func (h *harness) applyIncluded() {
	included := h.node.Included()
	for _, inc := range included[h.indexed:] {
		for _, k := range inc.Keys {
			if inc.Scope.IsBsp() {
				require.NoError(h.t, h.index.RemoveBspFile(h.ctx, inc.Scope.Provider, k))
			}
			if inc.Type == types.DeletionIncomplete {
				require.NoError(h.t, h.index.SettleIncomplete(h.ctx, k, inc.Scope))
			}
			if h.goneEverywhere(k) {
				require.NoError(h.t, h.index.RemoveFile(h.ctx, k))
			}
		}
	}
	h.indexed = len(included)
}

func (h *harness) goneEverywhere(key types.FileKey) bool {
	for scope := range h.scopes {
		for _, k := range h.node.Files(scope) {
			if k == key {
				return false
			}
		}
	}
	return true
}

func outcomes(br *BatchResult) []Outcome {
	out := make([]Outcome, len(br.Attempts))
	for i, a := range br.Attempts {
		out[i] = a.Outcome
	}
	return out
}

func batchFor(t *testing.T, report *CycleReport, scope types.ProviderScope) *BatchResult {
	for _, br := range report.Batches {
		if br.Scope == scope {
			return br
		}
	}
	t.Fatalf("no batch for %s", scope)
	return nil
}

// setupRevokedAcrossBuckets stores 6 files across 3 buckets, confirmed by
// one BSP and one MSP, and revokes all of them. Everything is finalized.
func setupRevokedAcrossBuckets(h *harness) []types.FileKey {
	var keys []types.FileKey
	for i := byte(0); i < 3; i++ {
		b := bucket(i)
		h.putBucket(b, &msp)
		for j := byte(0); j < 2; j++ {
			k := fk(i*2 + j + 1)
			h.storeFile(k, b, 1, bsp)
			h.revoke(k, b, 2, bsp)
			keys = append(keys, k)
		}
	}
	h.finalize(2)
	return keys
}

func TestRevokedRequestAcrossBuckets(t *testing.T) {
	h := newHarness(t)
	keys := setupRevokedAcrossBuckets(h)

	h.cycle(types.DeletionUser)
	require.Empty(t, h.node.Included())

	report := h.cycle(types.DeletionIncomplete)
	require.Equal(t, 6, report.Intents)
	require.Len(t, report.Batches, 4)
	for _, br := range report.Batches {
		require.Equal(t, OutcomeSuccess, br.Outcome, br.Scope)
		require.Len(t, br.Attempts, 1)
	}

	included := h.node.Included()
	require.Len(t, included, 4)
	perScope := map[types.ProviderScope]int{}
	for _, inc := range included {
		require.Equal(t, types.DeletionIncomplete, inc.Type)
		perScope[inc.Scope] = len(inc.Keys)
	}
	require.Equal(t, 6, perScope[types.BspScope(bsp)])
	for i := byte(0); i < 3; i++ {
		require.Equal(t, 2, perScope[types.BucketScope(msp, bucket(i))])
	}

	h.applyIncluded()

	assocs, err := h.index.FileAssociations(h.ctx, keys)
	require.NoError(t, err)
	require.Empty(t, assocs)

	pending, err := h.index.PendingIncompleteDeletions(h.ctx, 2)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStaleProofIsRebuilt(t *testing.T) {
	h := newHarness(t)
	setupRevokedAcrossBuckets(h)
	bspScope := types.BspScope(bsp)

	newFiles := []types.FileKey{fk(0x41), fk(0x42), fk(0x43), fk(0x44), fk(0x45), fk(0x46)}

	var proofRoots []types.ForestRoot
	h.node.OnProof(func(scope types.ProviderScope, proof *types.ForestProof) {
		cur, ok := h.node.Root(scope)
		require.True(t, ok)
		require.Equal(t, cur, proof.Root, "proof must be built against the current root")

		if scope != bspScope {
			return
		}
		proofRoots = append(proofRoots, proof.Root)
		if len(proofRoots) == 1 {
			// the bsp accepts new, not yet finalized files while the proof
			// is in flight
			h.node.AddFiles(bspScope, newFiles...)
		}
	})

	h.cycle(types.DeletionUser)
	report := h.cycle(types.DeletionIncomplete)
	require.Len(t, report.Batches, 4)

	br := batchFor(t, report, bspScope)
	require.Equal(t, OutcomeSuccess, br.Outcome)
	require.Equal(t, []Outcome{OutcomeStaleProof, OutcomeSuccess}, outcomes(br))
	require.Len(t, proofRoots, 2)
	require.NotEqual(t, proofRoots[0], proofRoots[1])
	require.Equal(t, proofRoots[0], br.Attempts[0].Root)
	require.Equal(t, proofRoots[1], br.Attempts[1].Root)

	var bspCalls []mock.Included
	for _, inc := range h.node.Included() {
		if inc.Scope == bspScope {
			bspCalls = append(bspCalls, inc)
		}
	}
	require.Len(t, bspCalls, 1)
	require.Equal(t, proofRoots[1], bspCalls[0].Root)

	// only the revoked files left the forest
	require.ElementsMatch(t, newFiles, h.node.Files(bspScope))
}

func TestReorgedIntentNeverActedOn(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.storeFile(fk(2), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 3, true)
	h.requestDeletion(fk(2), 8, true)
	h.finalize(5)

	report := h.cycle(types.DeletionUser)
	require.Equal(t, 1, report.Intents)

	included := h.node.Included()
	require.Len(t, included, 1)
	require.Equal(t, []types.FileKey{fk(1)}, included[0].Keys)

	// block 8 is reorganised away before it finalizes
	require.NoError(t, h.index.RevertAbove(h.ctx, 5))
	h.finalize(10)

	h.cycle(types.DeletionIncomplete)
	report = h.cycle(types.DeletionUser)
	require.Zero(t, report.Intents-report.Skipped)

	require.Len(t, h.node.Included(), 1)
	require.Contains(t, h.node.Files(types.BspScope(bsp)), fk(2))
}

func TestSettledPairsAreNotActedOnAgain(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), &msp)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 2)
	for _, br := range report.Batches {
		require.Equal(t, OutcomeSuccess, br.Outcome)
	}
	require.Len(t, h.node.Included(), 2)

	// the index has not caught up with the deletions yet
	for i := 0; i < 2; i++ {
		h.cycle(types.DeletionIncomplete)
		report = h.cycle(types.DeletionUser)
		require.Empty(t, report.Batches)
		require.Equal(t, 2, report.Skipped)
	}
	require.Len(t, h.node.Included(), 2)
}

func TestUserDeletionReplaysSignedIntention(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), &msp)
	h.storeFile(fk(1), bucket(0), 1)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	h.cycle(types.DeletionUser)

	included := h.node.Included()
	require.Len(t, included, 1)
	require.Equal(t, types.BucketScope(msp, bucket(0)), included[0].Scope)
	require.Len(t, included[0].Deletions, 1)

	d := included[0].Deletions[0]
	require.Equal(t, fk(1), d.FileKey)
	require.Equal(t, bucket(0), d.Bucket)
	require.Equal(t, append([]byte("delete:"), fk(1).Bytes()...), d.Intention)
	require.Equal(t, append([]byte("sig:"), fk(1).Bytes()...), d.Signature)
	require.EqualValues(t, 2048, d.Size)
}

func TestMissingSignatureIsNotReady(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, false)
	h.finalize(2)

	report := h.cycle(types.DeletionUser)
	require.Zero(t, report.Intents)
	require.Empty(t, h.node.Included())

	h.sign(fk(1))
	h.cycle(types.DeletionIncomplete)
	report = h.cycle(types.DeletionUser)
	require.Equal(t, 1, report.Intents)
	require.Len(t, h.node.Included(), 1)
}

func TestAbsentFileIsSatisfiedWithoutCall(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.indexFile(fk(1), bucket(0), 1, bsp)
	h.node.RegisterScope(types.BspScope(bsp))
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 1)
	require.Equal(t, OutcomeSatisfied, report.Batches[0].Outcome)
	require.Equal(t, []types.FileKey{fk(1)}, report.Batches[0].Settled)
	require.Empty(t, h.node.Included())
}

func TestSubmitTimeoutIsRetriedLikeStaleProof(t *testing.T) {
	h := newHarness(t, func(c *config.FishermanConfig) {
		c.SubmitTimeout = config.Duration(50 * time.Millisecond)
	})
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	var calls atomic.Int32
	h.node.OnSubmit(func(ctx context.Context, scope types.ProviderScope) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 1)
	require.Equal(t, []Outcome{OutcomeStaleProof, OutcomeSuccess}, outcomes(report.Batches[0]))
	require.NotContains(t, h.node.Files(types.BspScope(bsp)), fk(1))
}

func TestStaleOnEveryAttemptIsPermanentFailure(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.storeFile(fk(2), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	h.node.OnSubmit(func(ctx context.Context, scope types.ProviderScope) error {
		return api.ErrStaleProof
	})

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 1)
	br := report.Batches[0]
	require.Equal(t, OutcomePermanentFailure, br.Outcome)
	require.Equal(t, []Outcome{OutcomeStaleProof, OutcomeStaleProof, OutcomeStaleProof}, outcomes(br))
	require.ErrorIs(t, br.Err, ErrAttemptsExhausted)
	require.Equal(t, []types.FileKey{fk(1)}, br.Pending)

	require.ElementsMatch(t, []types.FileKey{fk(1), fk(2)}, h.node.Files(types.BspScope(bsp)))
	require.True(t, h.al.IsRaised(h.fm.permanentFailure))
}

func TestPermanentFailureAlertResolvesOnSuccess(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	var failing atomic.Bool
	failing.Store(true)
	h.node.OnSubmit(func(ctx context.Context, scope types.ProviderScope) error {
		if failing.Load() {
			return &api.ErrDispatch{Module: "FileSystem", Name: "FailedToApplyDelta"}
		}
		return nil
	})

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 1)
	require.Equal(t, OutcomePermanentFailure, report.Batches[0].Outcome)
	require.Len(t, report.Batches[0].Attempts, 1)
	require.True(t, h.al.IsRaised(h.fm.permanentFailure))
	require.Contains(t, h.node.Files(types.BspScope(bsp)), fk(1))

	failing.Store(false)
	h.cycle(types.DeletionIncomplete)
	report = h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 1)
	require.Equal(t, OutcomeSuccess, report.Batches[0].Outcome)
	require.False(t, h.al.IsRaised(h.fm.permanentFailure))
}

func TestVanishedScopeCountsAsSatisfied(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), &msp)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	// the bsp signed off before the deletion was processed
	h.node.RemoveScope(types.BspScope(bsp))

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 2)
	require.Equal(t, OutcomeSuccess, batchFor(t, report, types.BucketScope(msp, bucket(0))).Outcome)
	require.Equal(t, OutcomeScopeVanished, batchFor(t, report, types.BspScope(bsp)).Outcome)
	require.False(t, h.al.IsRaised(h.fm.permanentFailure))

	h.cycle(types.DeletionIncomplete)
	report = h.cycle(types.DeletionUser)
	require.Empty(t, report.Batches)
	require.Equal(t, 2, report.Skipped)
}

func TestOrphanedFilesArePruned(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.indexFile(fk(1), bucket(0), 1)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	report := h.cycle(types.DeletionUser)
	require.Equal(t, []types.FileKey{fk(1)}, report.Orphans)
	require.Empty(t, report.Batches)
	require.Empty(t, h.node.Included())

	pending, err := h.index.PendingUserDeletions(h.ctx, 2)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOrphansKeptWhenPruningDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.FishermanConfig) { c.PruneOrphanedFiles = false })
	h.putBucket(bucket(0), nil)
	h.indexFile(fk(1), bucket(0), 1)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	report := h.cycle(types.DeletionUser)
	require.Equal(t, []types.FileKey{fk(1)}, report.Orphans)

	pending, err := h.index.PendingUserDeletions(h.ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestTypesAlternateUnderLoad(t *testing.T) {
	h := newHarness(t, func(c *config.FishermanConfig) { c.StallAfterCycles = 2 })
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.storeFile(fk(2), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.revoke(fk(2), bucket(0), 2, bsp)
	h.finalize(2)

	// nothing ever succeeds, so both types stay pending
	h.node.OnSubmit(func(ctx context.Context, scope types.ProviderScope) error {
		return &api.ErrDispatch{Module: "FileSystem", Name: "FailedToApplyDelta"}
	})

	var seen []types.DeletionType
	var last *CycleReport
	for i := 0; i < 6; i++ {
		report, err := h.fm.RunCycle(h.ctx)
		require.NoError(t, err)
		require.Len(t, report.Batches, 1)
		require.Equal(t, report.Type, report.Batches[0].Type)
		seen = append(seen, report.Type)
		last = report
	}

	require.Equal(t, []types.DeletionType{
		types.DeletionUser, types.DeletionIncomplete,
		types.DeletionUser, types.DeletionIncomplete,
		types.DeletionUser, types.DeletionIncomplete,
	}, seen)

	require.EqualValues(t, 2, last.Backlog.OldestCycles)
	require.Equal(t, 1, last.Backlog.Stalled)
	require.True(t, h.al.IsRaised(h.fm.stalledIntents))
}

func TestBatchesBeyondCycleLimitAreDeferred(t *testing.T) {
	h := newHarness(t, func(c *config.FishermanConfig) {
		c.MaxBatchSize = 2
		c.MaxBatchesPerCycle = 2
	})
	h.putBucket(bucket(0), nil)
	for i := byte(1); i <= 5; i++ {
		h.storeFile(fk(i), bucket(0), 1, bsp)
		h.requestDeletion(fk(i), 2, true)
	}
	h.finalize(2)

	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 2)
	require.Equal(t, 1, report.Deferred)
	for _, inc := range h.node.Included() {
		require.Len(t, inc.Keys, 2)
	}

	h.cycle(types.DeletionIncomplete)
	report = h.cycle(types.DeletionUser)
	require.Equal(t, 4, report.Skipped)
	require.Len(t, report.Batches, 1)
	require.Empty(t, h.node.Files(types.BspScope(bsp)))
}

func TestCycleWithoutFinalizedCursorDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)

	report := h.cycle(types.DeletionUser)
	require.Zero(t, report.Intents)
	require.Empty(t, h.node.Included())
}

func TestIndexFailureAbortsCycle(t *testing.T) {
	h := newHarness(t)
	h.finalize(2)
	require.NoError(t, h.index.Close())

	report, err := h.fm.RunCycle(h.ctx)
	require.ErrorIs(t, err, chainindex.ErrClosed)
	require.Equal(t, types.DeletionUser, report.Type)

	// the next cycle still serves the other type
	report, err = h.fm.RunCycle(h.ctx)
	require.Error(t, err)
	require.Equal(t, types.DeletionIncomplete, report.Type)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), nil)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	require.NoError(t, h.fm.Start(h.ctx))
	require.Eventually(t, func() bool {
		return len(h.node.Included()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.fm.Stop(h.ctx))
}

// failingBucketProofs is a node whose bucket forests cannot produce proofs.
type failingBucketProofs struct {
	*mock.Node
}

func (n *failingBucketProofs) ForestGenerateProof(ctx context.Context, scope types.ProviderScope, keys []types.FileKey) (*types.ForestProof, error) {
	if scope.IsBucket() {
		return nil, xerrors.New("proof generation failed")
	}
	return n.Node.ForestGenerateProof(ctx, scope, keys)
}

func TestProofFailureOnlyFailsItsScope(t *testing.T) {
	h := newHarness(t)
	h.putBucket(bucket(0), &msp)
	h.storeFile(fk(1), bucket(0), 1, bsp)
	h.requestDeletion(fk(1), 2, true)
	h.finalize(2)

	fm, err := New(h.ctx, &failingBucketProofs{Node: h.node}, h.index, testConfig(), journal.NilJournal(), h.al)
	require.NoError(t, err)
	h.fm = fm

	bucketScope := types.BucketScope(msp, bucket(0))
	report := h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 2)

	failed := batchFor(t, report, bucketScope)
	require.Equal(t, OutcomePermanentFailure, failed.Outcome)
	require.ErrorContains(t, failed.Err, "proof generation failed")
	require.Equal(t, []types.FileKey{fk(1)}, failed.Pending)
	require.Empty(t, failed.Settled)

	require.Equal(t, OutcomeSuccess, batchFor(t, report, types.BspScope(bsp)).Outcome)
	require.Empty(t, h.node.Files(types.BspScope(bsp)))
	require.Contains(t, h.node.Files(bucketScope), fk(1))
	require.True(t, h.al.IsRaised(h.fm.permanentFailure))

	// only the failing scope is tried again
	h.cycle(types.DeletionIncomplete)
	report = h.cycle(types.DeletionUser)
	require.Len(t, report.Batches, 1)
	require.Equal(t, bucketScope, report.Batches[0].Scope)
	require.Equal(t, OutcomePermanentFailure, report.Batches[0].Outcome)
}

func TestStopLetsInFlightCallLand(t *testing.T) {
	h := newHarness(t)
	setupRevokedAcrossBuckets(h)

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	h.node.OnSubmit(func(ctx context.Context, scope types.ProviderScope) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	})

	require.NoError(t, h.fm.Start(h.ctx))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no deletion call was submitted")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- h.fm.Stop(h.ctx) }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	// the first call landed and no further batch was started
	require.EqualValues(t, 1, calls.Load())
	included := h.node.Included()
	require.Len(t, included, 1)
	require.Equal(t, types.DeletionIncomplete, included[0].Type)
}
