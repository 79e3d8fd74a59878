package fisherman

import (
	"github.com/google/uuid"

	"github.com/Moonsong-Labs/storage-hub-sub006/chain/types"
)

const (
	evtTypeCycle = iota
	evtTypeBatch
)

// CycleEvt is recorded once per reconciliation cycle.
type CycleEvt struct {
	Cycle     uint64
	Type      types.DeletionType
	Finalized types.BlockNumber
	Intents   int
	Orphans   int
	Skipped   int
	Batches   int
	Deferred  int
	Error     string `json:",omitempty"`
}

// BatchEvt is recorded once per batch that reached a terminal outcome.
type BatchEvt struct {
	ID       uuid.UUID
	Scope    types.ProviderScope
	Type     types.DeletionType
	Outcome  Outcome
	Keys     []types.FileKey
	Attempts []AttemptRecord
	Included *types.BlockRef `json:",omitempty"`
	Error    string          `json:",omitempty"`
}
