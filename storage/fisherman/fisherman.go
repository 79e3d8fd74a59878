package fisherman

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal/alerting"
	"github.com/Moonsong-Labs/storage-hub-sub006/node/config"
)

var log = logging.Logger("fisherman")

type NodeAPI interface {
	ChainHead(context.Context) (types.BlockRef, error)
	ChainSyncState(context.Context) (api.SyncState, error)

	ForestOracle
	ExtrinsicSender
}

var _ NodeAPI = api.FishermanNode(nil)

// Fisherman proves the removal of files from provider forests once their
// deletion is finalized. Every cycle handles one deletion type, alternating
// between user deletions and incomplete storage requests.
//
// Intents are read from the index at or below the finalized cursor only;
// proofs are always built against the latest root the node sees.
type Fisherman struct {
	api   NodeAPI
	index chainindex.EventIndex
	cfg   config.FishermanConfig

	classifier *Classifier
	resolver   *Resolver
	submitter  *Submitter
	tracker    *Tracker

	evtTypes [2]journal.EventType
	journal  journal.Journal

	alerting         *alerting.Alerting
	permanentFailure alerting.AlertType
	stalledIntents   alerting.AlertType
	failingScopes    map[types.ProviderScope]struct{}
	stalledByType    map[types.DeletionType]int

	backoff *backoff.Backoff

	// cycleLk serialises cycles, next and cycle are guarded by it
	cycleLk sync.Mutex
	next    types.DeletionType
	cycle   uint64

	runningCtx context.Context
	cancelCtx  context.CancelFunc
	errgrp     *errgroup.Group
}

func New(ctx context.Context, node NodeAPI, index chainindex.EventIndex, cfg config.FishermanConfig, j journal.Journal, al *alerting.Alerting) (*Fisherman, error) {
	if cfg.MaxBatchSize <= 0 {
		return nil, xerrors.Errorf("MaxBatchSize must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, xerrors.Errorf("MaxAttempts must be positive, got %d", cfg.MaxAttempts)
	}
	if j == nil {
		j = journal.NilJournal()
	}
	if al == nil {
		al = alerting.NewAlertingSystem(j)
	}

	runningCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	errgrp, runningCtx := errgroup.WithContext(runningCtx)

	builder := NewProofBuilder(node, time.Duration(cfg.ProofTimeout))
	return &Fisherman{
		api:   node,
		index: index,
		cfg:   cfg,

		classifier: NewClassifier(index, time.Duration(cfg.IndexTimeout)),
		resolver:   NewResolver(index, time.Duration(cfg.IndexTimeout)),
		submitter:  NewSubmitter(node, builder, time.Duration(cfg.SubmitTimeout), cfg.MaxAttempts),
		tracker:    NewTracker(cfg.SuccessMemorySize, time.Duration(cfg.SuccessMemoryTTL)),

		evtTypes: [...]journal.EventType{
			evtTypeCycle: j.RegisterEventType("fisherman", "cycle"),
			evtTypeBatch: j.RegisterEventType("fisherman", "batch"),
		},
		journal: j,

		alerting:         al,
		permanentFailure: al.AddAlertType("fisherman", "permanent-failure"),
		stalledIntents:   al.AddAlertType("fisherman", "stalled-intents"),
		failingScopes:    map[types.ProviderScope]struct{}{},
		stalledByType:    map[types.DeletionType]int{},

		backoff: &backoff.Backoff{
			Min:    time.Duration(cfg.CycleInterval),
			Max:    10 * time.Duration(cfg.CycleInterval),
			Factor: 1.5,
			Jitter: true,
		},

		next: types.DeletionUser,

		runningCtx: runningCtx,
		cancelCtx:  cancel,
		errgrp:     errgrp,
	}, nil
}

func (f *Fisherman) Start(ctx context.Context) error {
	f.errgrp.Go(func() error {
		return f.run(f.runningCtx)
	})
	return nil
}

// Stop waits for the cycle in progress. A submitted call is allowed to
// complete; no new batch is started after Stop is called.
func (f *Fisherman) Stop(ctx context.Context) error {
	f.cancelCtx()
	return f.errgrp.Wait()
}

func (f *Fisherman) run(ctx context.Context) (_err error) {
	defer func() {
		if ctx.Err() != nil {
			_err = nil
		}
		if _err != nil {
			_err = fmt.Errorf("fisherman stopped unexpectedly: %w", _err)
			log.Error(_err)
		}
	}()

	log.Infow("starting fisherman", "interval", time.Duration(f.cfg.CycleInterval), "maxBatch", f.cfg.MaxBatchSize)

	for ctx.Err() == nil {
		delay := time.Duration(f.cfg.CycleInterval)

		switch report, err := f.RunCycle(ctx); {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			delay = f.backoff.Duration()
			log.Errorw("reconciliation cycle failed; retrying after delay", "type", report.Type, "delay", delay, "attempts", f.backoff.Attempt(), "error", err)
		default:
			f.backoff.Reset()
		}

		select {
		case <-build.Clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
