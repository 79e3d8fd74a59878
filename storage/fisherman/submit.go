package fisherman

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

// Outcome classifies what happened to a batch.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeSuccess: the call was included and the keys left the forest.
	OutcomeSuccess
	// OutcomeSatisfied: every user deletion was already absent from the
	// forest, nothing was submitted.
	OutcomeSatisfied
	// OutcomeStaleProof: the root moved between proof and execution, or a
	// proof or submit call timed out. Retryable.
	OutcomeStaleProof
	// OutcomeScopeVanished: the provider or bucket is gone, so is the file.
	OutcomeScopeVanished
	// OutcomePermanentFailure: any other dispatch error, or stale on every
	// attempt.
	OutcomePermanentFailure
)

var outcomeNames = map[Outcome]string{
	OutcomeUnknown:          "unknown",
	OutcomeSuccess:          "success",
	OutcomeSatisfied:        "satisfied",
	OutcomeStaleProof:       "stale-proof",
	OutcomeScopeVanished:    "scope-vanished",
	OutcomePermanentFailure: "permanent-failure",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Settled reports outcomes after which the keys need no further action in
// the batch's scope.
func (o Outcome) Settled() bool {
	switch o {
	case OutcomeSuccess, OutcomeSatisfied, OutcomeScopeVanished:
		return true
	default:
		return false
	}
}

// ExtrinsicSender submits the two deletion calls.
type ExtrinsicSender interface {
	FileSystemDeleteFiles(ctx context.Context, call *types.DeleteFilesCall) (*types.ExtrinsicResult, error)
	FileSystemDeleteFilesForIncompleteStorageRequest(ctx context.Context, call *types.DeleteIncompleteCall) (*types.ExtrinsicResult, error)
}

// Submitter turns proof batches into ledger calls and drives the per-batch
// retry state machine.
type Submitter struct {
	sender      ExtrinsicSender
	builder     *ProofBuilder
	timeout     time.Duration
	maxAttempts int
}

func NewSubmitter(sender ExtrinsicSender, builder *ProofBuilder, timeout time.Duration, maxAttempts int) *Submitter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Submitter{
		sender:      sender,
		builder:     builder,
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Submit sends batch and classifies the result. The call is not cancelled
// with ctx: once sent it is allowed to finish, bounded by the submit timeout.
//
// OutcomeUnknown with a non-nil error means the node could not be reached
// and the cycle has to be abandoned.
func (s *Submitter) Submit(ctx context.Context, batch *ProofBatch) (Outcome, *types.ExtrinsicResult, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	sctx, span := trace.StartSpan(sctx, "fisherman.submit")
	defer span.End()
	span.AddAttributes(
		trace.StringAttribute("batch", batch.ID.String()),
		trace.StringAttribute("scope", batch.Scope.String()),
		trace.Int64Attribute("keys", int64(len(batch.Keys))),
	)

	tctx, _ := tag.New(sctx, tag.Upsert(metrics.DeletionType, batch.Type.String()))
	stop := metrics.Timer(tctx, metrics.SubmitDuration)

	var (
		res *types.ExtrinsicResult
		err error
	)
	switch batch.Type {
	case types.DeletionUser:
		call, cerr := deleteFilesCall(batch)
		if cerr != nil {
			return OutcomePermanentFailure, nil, cerr
		}
		res, err = s.sender.FileSystemDeleteFiles(sctx, call)
	case types.DeletionIncomplete:
		res, err = s.sender.FileSystemDeleteFilesForIncompleteStorageRequest(sctx, deleteIncompleteCall(batch))
	default:
		return OutcomePermanentFailure, nil, xerrors.Errorf("unknown deletion type %d", batch.Type)
	}
	stop()

	outcome := classifySubmit(err)
	span.AddAttributes(trace.StringAttribute("outcome", outcome.String()))
	if err != nil {
		return outcome, nil, xerrors.Errorf("submitting batch %s: %w", batch.ID, err)
	}
	return outcome, res, nil
}

func classifySubmit(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, api.ErrStaleProof), errors.Is(err, context.DeadlineExceeded):
		return OutcomeStaleProof
	case errors.Is(err, api.ErrScopeNotFound):
		return OutcomeScopeVanished
	case isCycleFailure(err):
		return OutcomeUnknown
	default:
		return OutcomePermanentFailure
	}
}

func deleteFilesCall(batch *ProofBatch) (*types.DeleteFilesCall, error) {
	call := &types.DeleteFilesCall{
		Deletions: make([]types.FileDeletionRequest, 0, len(batch.Intents)),
		MspID:     batch.Scope.MspID(),
		BspID:     batch.Scope.BspID(),
		Root:      batch.BuiltAtRoot,
		Proof:     batch.Proof,
	}
	for _, in := range batch.Intents {
		p, ok := in.Payload.(*UserPayload)
		if !ok {
			return nil, xerrors.Errorf("intent for %s in user batch %s is a %s intent", in.FileKey, batch.ID, in.Type())
		}
		call.Deletions = append(call.Deletions, types.FileDeletionRequest{
			FileKey:     p.File.FileKey,
			Owner:       p.File.Owner,
			Intention:   p.Intention.Encoded,
			Signature:   p.Intention.Signature,
			Bucket:      p.File.Bucket,
			Location:    p.File.Location,
			Size:        p.File.Size,
			Fingerprint: p.File.Fingerprint,
		})
	}
	return call, nil
}

func deleteIncompleteCall(batch *ProofBatch) *types.DeleteIncompleteCall {
	call := &types.DeleteIncompleteCall{
		FileKeys: batch.Keys,
		MspID:    batch.Scope.MspID(),
		BspID:    batch.Scope.BspID(),
		Root:     batch.BuiltAtRoot,
		Proof:    batch.Proof,
	}
	if batch.Scope.IsBucket() {
		b := batch.Scope.Bucket
		call.Bucket = &b
	}
	return call
}

// AttemptRecord is one pass of the retry state machine.
type AttemptRecord struct {
	Attempt int
	BatchID uuid.UUID
	Root    types.ForestRoot
	Keys    int
	Outcome Outcome
	Error   string `json:",omitempty"`
}

// BatchResult is the terminal state of a batch after Process.
type BatchResult struct {
	Scope    types.ProviderScope
	Type     types.DeletionType
	Outcome  Outcome
	Attempts []AttemptRecord

	// Settled keys need no further action in Scope. Pending keys are left
	// for a later cycle.
	Settled []types.FileKey
	Pending []types.FileKey

	Included *types.ExtrinsicResult
	Err      error
}

func (r *BatchResult) record(attempt int, batch *ProofBatch, outcome Outcome, err error) {
	rec := AttemptRecord{Attempt: attempt, Outcome: outcome}
	if batch != nil {
		rec.BatchID = batch.ID
		rec.Root = batch.BuiltAtRoot
		rec.Keys = len(batch.Keys)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.Attempts = append(r.Attempts, rec)
}

func (r *BatchResult) settle(outcome Outcome, keys []types.FileKey) {
	r.Outcome = outcome
	r.Settled = keys
	r.Pending = nil
}

// Process drives one scope's intents to a terminal outcome. Every attempt
// rebuilds the proof against the current root; stale proofs and timeouts
// move to the next attempt until the attempts run out.
//
// An error is only returned for failures that abort the cycle: lost
// connectivity or a cancelled ctx. Anything else ends the batch as a
// permanent failure of its scope.
func (s *Submitter) Process(ctx context.Context, scope types.ProviderScope, typ types.DeletionType, intents []DeletionIntent) (*BatchResult, error) {
	all := lo.Map(intents, func(in DeletionIntent, _ int) types.FileKey { return in.FileKey })
	res := &BatchResult{Scope: scope, Type: typ, Pending: all}
	if len(intents) == 0 {
		res.settle(OutcomeSatisfied, nil)
		return res, nil
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		batch, err := s.builder.Build(ctx, scope, typ, intents)
		switch {
		case err == nil:
		case errors.Is(err, api.ErrScopeNotFound):
			res.record(attempt, nil, OutcomeScopeVanished, err)
			res.settle(OutcomeScopeVanished, all)
			return res, nil
		case isTimeout(ctx, err):
			res.record(attempt, nil, OutcomeStaleProof, err)
			log.Warnw("proof generation timed out", "scope", scope, "type", typ, "attempt", attempt, "error", err)
			continue
		case isCycleFailure(err) || ctx.Err() != nil:
			return res, err
		default:
			// the oracle rejected this scope; other scopes are still served
			res.record(attempt, nil, OutcomePermanentFailure, err)
			res.Outcome = OutcomePermanentFailure
			res.Err = xerrors.Errorf("building proof for %s: %w", scope, err)
			return res, nil
		}

		if len(batch.Keys) == 0 {
			res.record(attempt, batch, OutcomeSatisfied, nil)
			res.settle(OutcomeSatisfied, batch.Satisfied)
			return res, nil
		}

		outcome, included, err := s.Submit(ctx, batch)
		res.record(attempt, batch, outcome, err)

		switch outcome {
		case OutcomeSuccess:
			res.Included = included
			res.settle(OutcomeSuccess, all)
			return res, nil
		case OutcomeStaleProof:
			log.Infow("proof went stale, rebuilding", "batch", batch.ID, "scope", scope, "root", batch.BuiltAtRoot, "attempt", attempt, "error", err)
		case OutcomeScopeVanished:
			res.settle(OutcomeScopeVanished, all)
			return res, nil
		case OutcomePermanentFailure:
			res.Outcome = OutcomePermanentFailure
			res.Settled = batch.Satisfied
			res.Pending = batch.Keys
			res.Err = err
			return res, nil
		default:
			return res, err
		}
	}

	res.Outcome = OutcomePermanentFailure
	res.Err = xerrors.Errorf("%s: stale after %d attempts: %w", scope, s.maxAttempts, ErrAttemptsExhausted)
	return res, nil
}
