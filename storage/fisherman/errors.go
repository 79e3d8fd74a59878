package fisherman

import (
	"context"
	"errors"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/Moonsong-Labs/storage-hub-sub006/api"
	"github.com/Moonsong-Labs/storage-hub-sub006/chainindex"
)

// ErrAttemptsExhausted is recorded on a batch that was still stale after the
// last allowed attempt.
var ErrAttemptsExhausted = errors.New("batch attempts exhausted")

// isCycleFailure reports errors that abort the whole cycle: the node, the
// index or the forest oracle could not be reached.
func isCycleFailure(err error) bool {
	switch {
	case errors.As(err, new(*jsonrpc.RPCConnectionError)):
		return true
	case errors.Is(err, api.ErrNodeSyncing):
		return true
	case errors.Is(err, chainindex.ErrClosed):
		return true
	default:
		return false
	}
}

// isTimeout reports whether err is a deadline of a call we bounded ourselves,
// as opposed to the caller's context going away.
func isTimeout(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}
