package fisherman

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

func group(scope types.ProviderScope, origin types.BlockNumber, keys ...types.FileKey) ScopeGroup {
	g := ScopeGroup{Scope: scope, Type: types.DeletionUser}
	for _, k := range keys {
		g.Intents = append(g.Intents, DeletionIntent{FileKey: k, Origin: origin, Payload: &UserPayload{}})
	}
	return g
}

func TestTrackerSettled(t *testing.T) {
	tr := NewTracker(16, time.Hour)
	s := types.BspScope(bsp)

	require.False(t, tr.Settled(fk(1), s))
	tr.MarkSettled(s, OutcomeSuccess, fk(1))
	require.True(t, tr.Settled(fk(1), s))

	// settlement is per scope
	require.False(t, tr.Settled(fk(1), types.BucketScope(msp, bucket(0))))
}

func TestTrackerBacklog(t *testing.T) {
	tr := NewTracker(16, time.Hour)
	s := types.BspScope(bsp)

	b := tr.Observe(types.DeletionUser, []ScopeGroup{group(s, 10, fk(1))}, 12, 3)
	require.Equal(t, Backlog{Outstanding: 1, OldestBlocks: 2}, b)

	// other types don't age user intents
	tr.Observe(types.DeletionIncomplete, nil, 12, 3)

	b = tr.Observe(types.DeletionUser, []ScopeGroup{group(s, 10, fk(1)), group(s, 14, fk(2))}, 15, 3)
	require.Equal(t, 2, b.Outstanding)
	require.EqualValues(t, 1, b.OldestCycles)
	require.EqualValues(t, 5, b.OldestBlocks)
	require.Zero(t, b.Stalled)

	tr.Observe(types.DeletionUser, []ScopeGroup{group(s, 10, fk(1), fk(2))}, 15, 3)
	b = tr.Observe(types.DeletionUser, []ScopeGroup{group(s, 10, fk(1), fk(2))}, 15, 3)
	require.EqualValues(t, 3, b.OldestCycles)
	require.Equal(t, 1, b.Stalled)

	// resolved by the index
	b = tr.Observe(types.DeletionUser, []ScopeGroup{group(s, 14, fk(2))}, 15, 3)
	require.Equal(t, 1, b.Outstanding)
	require.EqualValues(t, 3, b.OldestCycles)

	tr.MarkSettled(s, OutcomeSuccess, fk(2))
	b = tr.Observe(types.DeletionUser, nil, 15, 3)
	require.Equal(t, Backlog{}, b)
}
