package fisherman

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// ScopeGroup is the work for one forest: every intent of one type that has
// to be proven against Scope.
type ScopeGroup struct {
	Scope   types.ProviderScope
	Type    types.DeletionType
	Intents []DeletionIntent
}

func (g ScopeGroup) Keys() []types.FileKey {
	return lo.Map(g.Intents, func(in DeletionIntent, _ int) types.FileKey { return in.FileKey })
}

// Resolution is the outcome of resolving a set of intents. Orphans are files
// that no provider holds anymore and need no ledger call.
type Resolution struct {
	Groups  []ScopeGroup
	Orphans []types.FileKey
}

// Resolver finds the forests each intent has to be proven against.
//
// A bucket scope exists only while the bucket has an MSP. Every BSP on record
// yields a bsp scope. Incomplete requests carry the providers that confirmed
// the file before the request ended; those are used as is, and the current
// associations only serve when the record names nobody.
type Resolver struct {
	index   chainindex.EventIndex
	timeout time.Duration
}

func NewResolver(index chainindex.EventIndex, timeout time.Duration) *Resolver {
	return &Resolver{index: index, timeout: timeout}
}

type scopedIntent struct {
	scope  types.ProviderScope
	intent DeletionIntent
}

type groupKey struct {
	scope types.ProviderScope
	typ   types.DeletionType
}

func (r *Resolver) Resolve(ctx context.Context, intents []DeletionIntent) (*Resolution, error) {
	lookup := lo.FilterMap(intents, func(in DeletionIntent, _ int) (types.FileKey, bool) {
		if p, ok := in.Payload.(*IncompletePayload); ok {
			return in.FileKey, len(incompleteScopes(p)) == 0
		}
		return in.FileKey, true
	})

	var assocs map[types.FileKey]chainindex.Associations
	if len(lookup) > 0 {
		ictx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var err error
		assocs, err = r.index.FileAssociations(ictx, lookup)
		if err != nil {
			stats.Record(ctx, metrics.IndexQueryFailed.M(1))
			return nil, xerrors.Errorf("reading file associations: %w", err)
		}
	}

	res := &Resolution{}
	resolved := make([]DeletionIntent, 0, len(intents))
	for _, in := range intents {
		var scopes []types.ProviderScope
		if p, ok := in.Payload.(*IncompletePayload); ok {
			scopes = incompleteScopes(p)
		}
		if len(scopes) == 0 {
			if a, ok := assocs[in.FileKey]; ok {
				scopes = associationScopes(a)
			}
		}
		if len(scopes) == 0 {
			res.Orphans = append(res.Orphans, in.FileKey)
			continue
		}
		in.Scopes = scopes
		resolved = append(resolved, in)
	}

	pairs := lo.FlatMap(resolved, func(in DeletionIntent, _ int) []scopedIntent {
		return lo.Map(in.Scopes, func(s types.ProviderScope, _ int) scopedIntent {
			return scopedIntent{scope: s, intent: in}
		})
	})
	grouped := lo.GroupBy(pairs, func(p scopedIntent) groupKey {
		return groupKey{scope: p.scope, typ: p.intent.Type()}
	})

	for k, ps := range grouped {
		res.Groups = append(res.Groups, ScopeGroup{
			Scope:   k.scope,
			Type:    k.typ,
			Intents: lo.Map(ps, func(p scopedIntent, _ int) DeletionIntent { return p.intent }),
		})
	}
	sort.Slice(res.Groups, func(i, j int) bool {
		if res.Groups[i].Type != res.Groups[j].Type {
			return res.Groups[i].Type < res.Groups[j].Type
		}
		return scopeLess(res.Groups[i].Scope, res.Groups[j].Scope)
	})

	return res, nil
}

func incompleteScopes(p *IncompletePayload) []types.ProviderScope {
	var out []types.ProviderScope
	if p.PendingBucketRemoval && p.Msp != nil {
		out = append(out, types.BucketScope(*p.Msp, p.Bucket))
	}
	for _, bsp := range p.PendingBsps {
		out = append(out, types.BspScope(bsp))
	}
	return out
}

func associationScopes(a chainindex.Associations) []types.ProviderScope {
	var out []types.ProviderScope
	if a.Msp != nil {
		out = append(out, types.BucketScope(*a.Msp, a.Bucket))
	}
	for _, bsp := range a.Bsps {
		out = append(out, types.BspScope(bsp))
	}
	return out
}

// scopeLess orders bucket scopes before bsp scopes, then by ids.
func scopeLess(a, b types.ProviderScope) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if c := bytes.Compare(a.Provider[:], b.Provider[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Bucket[:], b.Bucket[:]) < 0
}
