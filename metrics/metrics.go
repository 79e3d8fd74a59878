package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	rpcmetrics "github.com/filecoin-project/go-jsonrpc/metrics"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
)

// Distributions
var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, // Very short intervals for fast operations
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100, // 10 ms intervals up to 100 ms
	150, 200, 250, 300, 350, 400, 450, 500, // 50 ms intervals from 100 to 500 ms
	600, 700, 800, 900, 1000, // 100 ms intervals from 500 to 1000 ms
	1100, 1200, 1300, 1400, 1500, 1600, 1700, 1800, 1900, 2000, // 100 ms intervals from 1000 to 2000 ms
	3000, 4000, 5000, 6000, 8000, 10000, 13000, 16000, 20000, 25000, 30000, 40000, 50000, 65000, 80000, 100000,
)

var batchSizeDistribution = view.Distribution(0, 1, 2, 3, 5, 8, 10, 15, 20, 30, 50, 75, 100, 150, 200, 500)

// Tags
var (
	// common
	Version, _     = tag.NewKey("version")
	Commit, _      = tag.NewKey("commit")
	FailureType, _ = tag.NewKey("failure_type")
	Endpoint, _    = tag.NewKey("endpoint")

	// fisherman
	DeletionType, _ = tag.NewKey("deletion_type")
	ScopeKind, _    = tag.NewKey("scope_kind")
	Outcome, _      = tag.NewKey("outcome")
	CycleResult, _  = tag.NewKey("cycle_result")
)

// Measures
var (
	// common
	FishermanInfo      = stats.Int64("info", "Arbitrary counter to tag fisherman info to", stats.UnitDimensionless)
	APIRequestDuration = stats.Float64("api/request_duration_ms", "Duration of API requests", stats.UnitMilliseconds)

	// node
	NodeSyncLag      = stats.Int64("node/sync_lag", "Blocks between the node's current block and the highest known block", stats.UnitDimensionless)
	FinalizedCursor  = stats.Int64("index/finalized_block", "Last finalized block processed by the event index", stats.UnitDimensionless)
	IndexQueryFailed = stats.Int64("index/query_failed", "Counter for failed event index queries", stats.UnitDimensionless)

	// cycles
	CycleCount     = stats.Int64("fisherman/cycle", "Counter for reconciliation cycles", stats.UnitDimensionless)
	CycleDuration  = stats.Float64("fisherman/cycle_ms", "Duration of a reconciliation cycle", stats.UnitMilliseconds)
	IntentsPending = stats.Int64("fisherman/intents_pending", "Finalized deletion intents awaiting action", stats.UnitDimensionless)
	OrphansPruned  = stats.Int64("fisherman/orphans_pruned", "Files with no remaining provider scope removed from the index", stats.UnitDimensionless)

	// batches
	BatchOutcome   = stats.Int64("fisherman/batch_outcome", "Counter for submitted batches by outcome", stats.UnitDimensionless)
	BatchSize      = stats.Int64("fisherman/batch_size", "Number of file keys per submitted batch", stats.UnitDimensionless)
	BatchAttempts  = stats.Int64("fisherman/batch_attempts", "Attempts needed to reach a terminal outcome", stats.UnitDimensionless)
	ProofDuration  = stats.Float64("fisherman/proof_ms", "Duration of forest proof generation", stats.UnitMilliseconds)
	SubmitDuration = stats.Float64("fisherman/submit_ms", "Duration of extrinsic submission", stats.UnitMilliseconds)

	// stalls
	OldestIntentCycles = stats.Int64("fisherman/oldest_intent_cycles", "Cycles the oldest outstanding intent has been pending", stats.UnitDimensionless)
	OldestIntentBlocks = stats.Int64("fisherman/oldest_intent_blocks", "Blocks between the oldest outstanding intent's origin and the finalized cursor", stats.UnitDimensionless)
	StalledIntents     = stats.Int64("fisherman/stalled_intents", "Outstanding intents past the stall threshold", stats.UnitDimensionless)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "Fisherman node information",
		Measure:     FishermanInfo,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	APIRequestDurationView = &view.View{
		Measure:     APIRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Endpoint},
	}
	NodeSyncLagView = &view.View{
		Measure:     NodeSyncLag,
		Aggregation: view.LastValue(),
	}
	FinalizedCursorView = &view.View{
		Measure:     FinalizedCursor,
		Aggregation: view.LastValue(),
	}
	IndexQueryFailedView = &view.View{
		Measure:     IndexQueryFailed,
		Aggregation: view.Count(),
	}
	CycleCountView = &view.View{
		Measure:     CycleCount,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{DeletionType, CycleResult},
	}
	CycleDurationView = &view.View{
		Measure:     CycleDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{DeletionType},
	}
	IntentsPendingView = &view.View{
		Measure:     IntentsPending,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{DeletionType},
	}
	OrphansPrunedView = &view.View{
		Measure:     OrphansPruned,
		Aggregation: view.Sum(),
	}
	BatchOutcomeView = &view.View{
		Measure:     BatchOutcome,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{DeletionType, ScopeKind, Outcome},
	}
	BatchSizeView = &view.View{
		Measure:     BatchSize,
		Aggregation: batchSizeDistribution,
		TagKeys:     []tag.Key{DeletionType},
	}
	BatchAttemptsView = &view.View{
		Measure:     BatchAttempts,
		Aggregation: view.Distribution(1, 2, 3, 4, 5, 8, 10),
		TagKeys:     []tag.Key{DeletionType, Outcome},
	}
	ProofDurationView = &view.View{
		Measure:     ProofDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{ScopeKind},
	}
	SubmitDurationView = &view.View{
		Measure:     SubmitDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{DeletionType},
	}
	OldestIntentCyclesView = &view.View{
		Measure:     OldestIntentCycles,
		Aggregation: view.LastValue(),
	}
	OldestIntentBlocksView = &view.View{
		Measure:     OldestIntentBlocks,
		Aggregation: view.LastValue(),
	}
	StalledIntentsView = &view.View{
		Measure:     StalledIntents,
		Aggregation: view.LastValue(),
	}
)

var views = []*view.View{
	InfoView,
	APIRequestDurationView,
}

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = func() []*view.View {
	return views
}()

// RegisterViews adds views to the default list without modifying this file.
func RegisterViews(v ...*view.View) {
	views = append(views, v...)
}

func init() {
	RegisterViews(rpcmetrics.DefaultViews...)
}

var FishermanViews = []*view.View{
	NodeSyncLagView,
	FinalizedCursorView,
	IndexQueryFailedView,
	CycleCountView,
	CycleDurationView,
	IntentsPendingView,
	OrphansPrunedView,
	BatchOutcomeView,
	BatchSizeView,
	BatchAttemptsView,
	ProofDurationView,
	SubmitDurationView,
	OldestIntentCyclesView,
	OldestIntentBlocksView,
	StalledIntentsView,
}

// AllViews returns the fisherman views together with every view registered
// through RegisterViews.
func AllViews() []*view.View {
	return append(append([]*view.View{}, FishermanViews...), views...)
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(build.Clock.Since(startTime).Milliseconds())
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := build.Clock.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return build.Clock.Since(start)
	}
}

// RecordInfo publishes the build version as a tagged info measure.
func RecordInfo(ctx context.Context) error {
	ctx, err := tag.New(ctx,
		tag.Upsert(Version, build.BuildVersion),
		tag.Upsert(Commit, build.CurrentCommit),
	)
	if err != nil {
		return err
	}
	stats.Record(ctx, FishermanInfo.M(1))
	return nil
}
