package fisherman

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

type pairKey struct {
	Key   types.FileKey
	Scope types.ProviderScope
}

type firstSeen struct {
	typ    types.DeletionType
	cycle  uint64
	origin types.BlockNumber
}

// Tracker remembers which (file, scope) pairs reached a settled outcome, so
// cycles running before the index catches up don't act on them again. It
// also keeps the age of every outstanding pair.
type Tracker struct {
	settled *expirable.LRU[pairKey, Outcome]

	lk          sync.Mutex
	outstanding map[pairKey]firstSeen
	typeCycles  map[types.DeletionType]uint64
}

func NewTracker(size int, ttl time.Duration) *Tracker {
	return &Tracker{
		settled:     expirable.NewLRU[pairKey, Outcome](size, nil, ttl),
		outstanding: map[pairKey]firstSeen{},
		typeCycles:  map[types.DeletionType]uint64{},
	}
}

// Settled reports whether key already reached a settled outcome in scope.
func (t *Tracker) Settled(key types.FileKey, scope types.ProviderScope) bool {
	return t.settled.Contains(pairKey{Key: key, Scope: scope})
}

// MarkSettled records the outcome for keys in scope and stops tracking their
// age.
func (t *Tracker) MarkSettled(scope types.ProviderScope, outcome Outcome, keys ...types.FileKey) {
	t.lk.Lock()
	defer t.lk.Unlock()

	for _, k := range keys {
		pk := pairKey{Key: k, Scope: scope}
		t.settled.Add(pk, outcome)
		delete(t.outstanding, pk)
	}
}

// Forget drops keys from outstanding tracking without marking them settled.
func (t *Tracker) Forget(keys ...types.FileKey) {
	t.lk.Lock()
	defer t.lk.Unlock()

	drop := make(map[types.FileKey]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	for pk := range t.outstanding {
		if _, ok := drop[pk.Key]; ok {
			delete(t.outstanding, pk)
		}
	}
}

// Backlog describes the outstanding pairs of one deletion type.
type Backlog struct {
	Outstanding int

	// OldestCycles counts the cycles of this type the oldest pair has been
	// waiting for, OldestBlocks the blocks between its origin and the
	// finalized cursor.
	OldestCycles uint64
	OldestBlocks uint64

	// Stalled are pairs outstanding for at least the stall threshold.
	Stalled int
}

// Observe records a cycle of typ that found groups outstanding. Pairs of typ
// that are no longer reported were resolved by the index and are dropped.
func (t *Tracker) Observe(typ types.DeletionType, groups []ScopeGroup, finalized types.BlockNumber, stallAfter uint64) Backlog {
	t.lk.Lock()
	defer t.lk.Unlock()

	t.typeCycles[typ]++
	cycle := t.typeCycles[typ]

	seen := map[pairKey]struct{}{}
	for _, g := range groups {
		for _, in := range g.Intents {
			pk := pairKey{Key: in.FileKey, Scope: g.Scope}
			seen[pk] = struct{}{}
			if _, ok := t.outstanding[pk]; !ok {
				t.outstanding[pk] = firstSeen{typ: typ, cycle: cycle, origin: in.Origin}
			}
		}
	}

	var b Backlog
	for pk, fs := range t.outstanding {
		if fs.typ != typ {
			continue
		}
		if _, ok := seen[pk]; !ok {
			delete(t.outstanding, pk)
			continue
		}

		b.Outstanding++
		age := cycle - fs.cycle
		if age > b.OldestCycles {
			b.OldestCycles = age
		}
		if finalized > fs.origin && uint64(finalized-fs.origin) > b.OldestBlocks {
			b.OldestBlocks = uint64(finalized - fs.origin)
		}
		if stallAfter > 0 && age >= stallAfter {
			b.Stalled++
		}
	}
	return b
}
