package api

import (
	"errors"
	"fmt"

	"github.com/filecoin-project/go-jsonrpc"
)

const (
	EStaleProof = iota + jsonrpc.FirstUserCode
	EScopeNotFound
	ENodeSyncing
)

var (
	RPCErrors = jsonrpc.NewErrors()

	// ErrStaleProof signals that the forest root a proof was built against is
	// no longer the root of the scope when the call executed.
	ErrStaleProof = &errStaleProof{}
	// ErrScopeNotFound signals that the provider or bucket named by a scope
	// is no longer registered, or the bucket no longer has that MSP.
	ErrScopeNotFound = &errScopeNotFound{}
	// ErrNodeSyncing signals that the node refuses forest queries until it
	// has caught up with the network.
	ErrNodeSyncing = &errNodeSyncing{}

	_ error = (*errStaleProof)(nil)
	_ error = (*errScopeNotFound)(nil)
	_ error = (*errNodeSyncing)(nil)
	_ error = (*ErrDispatch)(nil)
)

func init() {
	RPCErrors.Register(EStaleProof, new(*errStaleProof))
	RPCErrors.Register(EScopeNotFound, new(*errScopeNotFound))
	RPCErrors.Register(ENodeSyncing, new(*errNodeSyncing))
}

type errStaleProof struct{}

func (errStaleProof) Error() string { return "forest proof built against a stale root" }

// Is matches any errStaleProof; values decoded by the rpc client are fresh
// pointers and must still match ErrStaleProof.
func (errStaleProof) Is(target error) bool {
	_, ok := target.(*errStaleProof)
	return ok
}

type errScopeNotFound struct{}

func (errScopeNotFound) Error() string { return "provider scope not found" }

func (errScopeNotFound) Is(target error) bool {
	_, ok := target.(*errScopeNotFound)
	return ok
}

type errNodeSyncing struct{}

func (errNodeSyncing) Error() string { return "node is major syncing" }

func (errNodeSyncing) Is(target error) bool {
	_, ok := target.(*errNodeSyncing)
	return ok
}

// ErrDispatch is any other dispatch error reported by the runtime for an
// included call.
type ErrDispatch struct {
	Module string
	Name   string
}

func (e *ErrDispatch) Error() string {
	return fmt.Sprintf("dispatch error: %s.%s", e.Module, e.Name)
}

// ErrNotSupported is returned by proxy methods the remote does not implement.
var ErrNotSupported = errors.New("method not supported")
