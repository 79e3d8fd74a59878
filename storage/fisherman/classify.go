package fisherman

import (
	"context"
	"sort"
	"time"

	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// Classifier turns finalized index rows into deletion intents. Rows that are
// not ready yet, like user deletions whose signature has not been indexed,
// are skipped until a later cycle.
type Classifier struct {
	index   chainindex.EventIndex
	timeout time.Duration
}

func NewClassifier(index chainindex.EventIndex, timeout time.Duration) *Classifier {
	return &Classifier{index: index, timeout: timeout}
}

// Classify returns the intents of type typ whose triggering event is at or
// below finalized, sorted by file key.
func (c *Classifier) Classify(ctx context.Context, typ types.DeletionType, finalized types.BlockNumber) ([]DeletionIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		intents []DeletionIntent
		err     error
	)
	switch typ {
	case types.DeletionUser:
		intents, err = c.userIntents(ctx, finalized)
	case types.DeletionIncomplete:
		intents, err = c.incompleteIntents(ctx, finalized)
	default:
		return nil, xerrors.Errorf("unknown deletion type %d", typ)
	}
	if err != nil {
		stats.Record(ctx, metrics.IndexQueryFailed.M(1))
		return nil, err
	}

	sort.Slice(intents, func(i, j int) bool { return intents[i].FileKey.Less(intents[j].FileKey) })
	return intents, nil
}

func (c *Classifier) userIntents(ctx context.Context, finalized types.BlockNumber) ([]DeletionIntent, error) {
	rows, err := c.index.PendingUserDeletions(ctx, finalized)
	if err != nil {
		return nil, xerrors.Errorf("reading pending user deletions: %w", err)
	}

	out := make([]DeletionIntent, 0, len(rows))
	for _, row := range rows {
		key := row.File.FileKey
		if row.Block > finalized {
			log.Warnw("index returned unfinalized deletion request", "file", key, "block", row.Block, "finalized", finalized)
			continue
		}
		if !row.HasSignature() {
			log.Debugw("deletion signature not indexed yet", "file", key, "block", row.Block)
			continue
		}

		out = append(out, DeletionIntent{
			FileKey:   key,
			Origin:    row.Block,
			Finalized: true,
			Payload: &UserPayload{
				File: row.File,
				Intention: types.SignedDeleteIntention{
					FileKey:   key,
					Operation: types.OperationDelete,
					Encoded:   row.Intention,
					Signature: row.Signature,
				},
			},
		})
	}
	return out, nil
}

func (c *Classifier) incompleteIntents(ctx context.Context, finalized types.BlockNumber) ([]DeletionIntent, error) {
	rows, err := c.index.PendingIncompleteDeletions(ctx, finalized)
	if err != nil {
		return nil, xerrors.Errorf("reading incomplete storage requests: %w", err)
	}

	out := make([]DeletionIntent, 0, len(rows))
	for _, row := range rows {
		if row.Block > finalized {
			log.Warnw("index returned unfinalized incomplete request", "file", row.FileKey, "block", row.Block, "finalized", finalized)
			continue
		}
		if !row.Reason.Valid() {
			log.Warnw("skipping incomplete request with unknown reason", "file", row.FileKey, "reason", row.Reason)
			continue
		}

		out = append(out, DeletionIntent{
			FileKey:   row.FileKey,
			Origin:    row.Block,
			Finalized: true,
			Payload: &IncompletePayload{
				Bucket:               row.Bucket,
				Reason:               row.Reason,
				Msp:                  row.Msp,
				PendingBucketRemoval: row.PendingBucketRemoval,
				PendingBsps:          row.PendingBsps,
			},
		})
	}
	return out, nil
}
