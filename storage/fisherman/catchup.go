package fisherman

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// WaitSynced blocks until the node is within MaxLagBlocks of the highest
// block it knows of. Proofs built by a node that is behind would be stale.
func (f *Fisherman) WaitSynced(ctx context.Context) error {
	behind := false
	for {
		state, err := f.api.ChainSyncState(ctx)
		if err != nil {
			return xerrors.Errorf("getting node sync state: %w", err)
		}

		lag := state.Lag()
		stats.Record(ctx, metrics.NodeSyncLag.M(int64(lag)))
		if uint64(lag) <= f.cfg.MaxLagBlocks {
			if behind {
				log.Infow("node caught up", "current", state.CurrentBlock, "highest", state.HighestBlock)
			}
			return nil
		}

		if !behind {
			log.Warnw("node is behind the network, waiting for it to catch up",
				"current", state.CurrentBlock, "highest", state.HighestBlock, "maxLag", f.cfg.MaxLagBlocks)
			behind = true
		} else {
			log.Debugw("still catching up", "current", state.CurrentBlock, "highest", state.HighestBlock)
		}

		select {
		case <-build.Clock.After(time.Duration(f.cfg.SyncPollInterval)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
