package fisherman

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	Cycle     uint64
	Type      types.DeletionType
	Finalized types.BlockNumber

	// Intents is the number of finalized intents of Type found in the index.
	Intents int
	// Orphans are files with no provider left.
	Orphans []types.FileKey
	// Skipped counts (file, scope) pairs already settled by an earlier cycle.
	Skipped int
	// Deferred counts batches left for a later cycle of the same type.
	Deferred int

	Batches []*BatchResult
	Backlog Backlog
}

// RunCycle runs one reconciliation cycle for the next deletion type. Types
// alternate on every call, whether or not the previous cycle had work or
// failed.
func (f *Fisherman) RunCycle(ctx context.Context) (*CycleReport, error) {
	f.cycleLk.Lock()
	defer f.cycleLk.Unlock()

	typ := f.next
	f.next = typ.Next()
	f.cycle++

	report := &CycleReport{Cycle: f.cycle, Type: typ}

	ctx, span := trace.StartSpan(ctx, "fisherman.cycle")
	defer span.End()
	span.AddAttributes(
		trace.Int64Attribute("cycle", int64(report.Cycle)),
		trace.StringAttribute("type", typ.String()),
	)

	start := build.Clock.Now()
	err := f.runCycle(ctx, report)

	result := "ok"
	if err != nil {
		result = "error"
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
	}
	tctx, _ := tag.New(ctx,
		tag.Upsert(metrics.DeletionType, typ.String()),
		tag.Upsert(metrics.CycleResult, result),
	)
	stats.Record(tctx, metrics.CycleCount.M(1), metrics.CycleDuration.M(metrics.SinceInMilliseconds(start)))

	f.journal.RecordEvent(f.evtTypes[evtTypeCycle], func() interface{} {
		evt := CycleEvt{
			Cycle:     report.Cycle,
			Type:      report.Type,
			Finalized: report.Finalized,
			Intents:   report.Intents,
			Orphans:   len(report.Orphans),
			Skipped:   report.Skipped,
			Batches:   len(report.Batches),
			Deferred:  report.Deferred,
		}
		if err != nil {
			evt.Error = err.Error()
		}
		return evt
	})

	return report, err
}

func (f *Fisherman) runCycle(ctx context.Context, report *CycleReport) error {
	typ := report.Type

	if err := f.WaitSynced(ctx); err != nil {
		return err
	}

	finalized, err := f.finalizedCursor(ctx)
	switch {
	case errors.Is(err, chainindex.ErrCursorUnset):
		log.Infow("event index has not processed a finalized block yet", "type", typ)
		return nil
	case err != nil:
		return err
	}
	report.Finalized = finalized
	stats.Record(ctx, metrics.FinalizedCursor.M(int64(finalized)))

	intents, err := f.classifier.Classify(ctx, typ, finalized)
	if err != nil {
		return xerrors.Errorf("classifying %s deletions: %w", typ, err)
	}
	report.Intents = len(intents)

	tctx, _ := tag.New(ctx, tag.Upsert(metrics.DeletionType, typ.String()))
	stats.Record(tctx, metrics.IntentsPending.M(int64(len(intents))))
	if len(intents) == 0 {
		f.observe(ctx, typ, nil, finalized, report)
		return nil
	}

	res, err := f.resolver.Resolve(ctx, intents)
	if err != nil {
		return xerrors.Errorf("resolving scopes: %w", err)
	}
	report.Orphans = res.Orphans
	if err := f.pruneOrphans(ctx, res.Orphans); err != nil {
		return err
	}

	groups := f.dropSettled(res.Groups, report)
	f.observe(ctx, typ, groups, finalized, report)

	type chunk struct {
		scope   types.ProviderScope
		intents []DeletionIntent
	}
	var chunks []chunk
	for _, g := range groups {
		for _, c := range lo.Chunk(g.Intents, f.cfg.MaxBatchSize) {
			chunks = append(chunks, chunk{scope: g.Scope, intents: c})
		}
	}
	if limit := f.cfg.MaxBatchesPerCycle; limit > 0 && len(chunks) > limit {
		report.Deferred = len(chunks) - limit
		chunks = chunks[:limit]
		log.Infow("deferring batches to a later cycle", "type", typ, "deferred", report.Deferred)
	}

	for _, c := range chunks {
		if ctx.Err() != nil {
			log.Infow("stopping cycle before next batch", "type", typ, "remaining", len(chunks)-len(report.Batches))
			return nil
		}

		br, err := f.submitter.Process(ctx, c.scope, typ, c.intents)
		if br != nil && br.Outcome != OutcomeUnknown {
			report.Batches = append(report.Batches, br)
			f.recordBatch(ctx, br)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return xerrors.Errorf("processing %s batch for %s: %w", typ, c.scope, err)
		}
	}

	return nil
}

func (f *Fisherman) finalizedCursor(ctx context.Context) (types.BlockNumber, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(f.cfg.IndexTimeout))
	defer cancel()

	n, err := f.index.LastFinalizedBlock(ctx)
	if err != nil && !errors.Is(err, chainindex.ErrCursorUnset) {
		stats.Record(ctx, metrics.IndexQueryFailed.M(1))
		return 0, xerrors.Errorf("reading finalized cursor: %w", err)
	}
	return n, err
}

// dropSettled removes pairs that reached a settled outcome in an earlier
// cycle but are still reported by the index.
func (f *Fisherman) dropSettled(groups []ScopeGroup, report *CycleReport) []ScopeGroup {
	out := make([]ScopeGroup, 0, len(groups))
	for _, g := range groups {
		kept := lo.Filter(g.Intents, func(in DeletionIntent, _ int) bool {
			return !f.tracker.Settled(in.FileKey, g.Scope)
		})
		report.Skipped += len(g.Intents) - len(kept)
		if len(kept) == 0 {
			continue
		}
		g.Intents = kept
		out = append(out, g)
	}
	return out
}

func (f *Fisherman) pruneOrphans(ctx context.Context, orphans []types.FileKey) error {
	if len(orphans) == 0 {
		return nil
	}
	f.tracker.Forget(orphans...)
	if !f.cfg.PruneOrphanedFiles {
		log.Debugw("orphaned files left in the index", "count", len(orphans))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(f.cfg.IndexTimeout))
	defer cancel()

	for _, key := range orphans {
		if err := f.index.PruneFile(ctx, key); err != nil {
			stats.Record(ctx, metrics.IndexQueryFailed.M(1))
			return xerrors.Errorf("pruning orphaned file %s: %w", key, err)
		}
		log.Infow("pruned file with no remaining provider", "file", key)
	}
	stats.Record(ctx, metrics.OrphansPruned.M(int64(len(orphans))))
	return nil
}

func (f *Fisherman) observe(ctx context.Context, typ types.DeletionType, groups []ScopeGroup, finalized types.BlockNumber, report *CycleReport) {
	var stallAfter uint64
	if f.cfg.StallAfterCycles > 0 {
		stallAfter = uint64(f.cfg.StallAfterCycles)
	}
	b := f.tracker.Observe(typ, groups, finalized, stallAfter)
	report.Backlog = b

	stats.Record(ctx,
		metrics.OldestIntentCycles.M(int64(b.OldestCycles)),
		metrics.OldestIntentBlocks.M(int64(b.OldestBlocks)),
	)

	f.stalledByType[typ] = b.Stalled
	var stalled int
	for _, n := range f.stalledByType {
		stalled += n
	}
	stats.Record(ctx, metrics.StalledIntents.M(int64(stalled)))

	switch {
	case b.Stalled > 0:
		log.Warnw("deletion intents are not making progress", "type", typ, "stalled", b.Stalled,
			"oldestCycles", b.OldestCycles, "oldestBlocks", b.OldestBlocks)
		f.alerting.Raise(f.stalledIntents, map[string]interface{}{
			"type":         typ.String(),
			"stalled":      b.Stalled,
			"oldestCycles": b.OldestCycles,
			"oldestBlocks": b.OldestBlocks,
		})
	case stalled == 0 && f.alerting.IsRaised(f.stalledIntents):
		f.alerting.Resolve(f.stalledIntents, map[string]string{"message": "outstanding intents are progressing again"})
	}
}

func (f *Fisherman) recordBatch(ctx context.Context, br *BatchResult) {
	tctx, _ := tag.New(ctx,
		tag.Upsert(metrics.DeletionType, br.Type.String()),
		tag.Upsert(metrics.ScopeKind, br.Scope.Kind.String()),
		tag.Upsert(metrics.Outcome, br.Outcome.String()),
	)
	stats.Record(tctx,
		metrics.BatchOutcome.M(1),
		metrics.BatchSize.M(int64(len(br.Settled)+len(br.Pending))),
		metrics.BatchAttempts.M(int64(len(br.Attempts))),
	)

	if len(br.Settled) > 0 {
		f.tracker.MarkSettled(br.Scope, br.Outcome, br.Settled...)
	}

	var batchID string
	if n := len(br.Attempts); n > 0 {
		batchID = br.Attempts[n-1].BatchID.String()
	}

	switch br.Outcome {
	case OutcomePermanentFailure:
		log.Errorw("batch failed permanently", "batch", batchID, "scope", br.Scope, "type", br.Type,
			"keys", br.Pending, "attempts", len(br.Attempts), "error", br.Err)
		f.failingScopes[br.Scope] = struct{}{}
		f.alerting.Raise(f.permanentFailure, map[string]interface{}{
			"batch": batchID,
			"scope": br.Scope,
			"type":  br.Type.String(),
			"keys":  br.Pending,
			"error": errString(br.Err),
		})
	default:
		log.Infow("batch settled", "batch", batchID, "scope", br.Scope, "type", br.Type,
			"outcome", br.Outcome, "keys", len(br.Settled), "attempts", len(br.Attempts))
		if _, failing := f.failingScopes[br.Scope]; failing {
			delete(f.failingScopes, br.Scope)
			if len(f.failingScopes) == 0 {
				f.alerting.Resolve(f.permanentFailure, map[string]interface{}{
					"scope":   br.Scope,
					"message": "all failing scopes settled",
				})
			}
		}
	}

	f.journal.RecordEvent(f.evtTypes[evtTypeBatch], func() interface{} {
		evt := BatchEvt{
			Scope:    br.Scope,
			Type:     br.Type,
			Outcome:  br.Outcome,
			Keys:     append(append([]types.FileKey{}, br.Settled...), br.Pending...),
			Attempts: br.Attempts,
			Error:    errString(br.Err),
		}
		if n := len(br.Attempts); n > 0 {
			evt.ID = br.Attempts[n-1].BatchID
		}
		if br.Included != nil {
			inc := br.Included.Included
			evt.Included = &inc
		}
		return evt
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
