package config

// Fisherman is the configuration of the fisherman daemon.
type Fisherman struct {
	Node      NodeConfig
	Index     IndexConfig
	Fisherman FishermanConfig
	Journal   JournalConfig
	Metrics   MetricsConfig
}

// NodeConfig describes how to reach the ledger node.
type NodeConfig struct {
	// ApiInfo is the node's RPC endpoint, either a bare multiaddr-free URL
	// (ws://127.0.0.1:9944) or "token:url".
	ApiInfo string

	// Token is sent as a bearer token when ApiInfo carries none.
	Token string

	// ConnectTimeout bounds a single RPC call made through the client.
	ConnectTimeout Duration
}

// IndexConfig selects the event index backend.
type IndexConfig struct {
	// Backend is either "sqlite" or "postgres".
	Backend string

	// SqlitePath is the location of the sqlite event index. Used when Backend
	// is "sqlite".
	SqlitePath string

	// HarmonyDB is the postgres connection used when Backend is "postgres".
	HarmonyDB HarmonyDB
}

type HarmonyDB struct {
	// HOSTS is a list of hostnames to nodes running YugabyteDB
	// in a cluster. Only 1 is required
	Hosts []string

	// The Yugabyte server's username with full credentials to operate on the index. Blank for default.
	Username string

	// The password for the related username. Blank for default.
	Password string

	// The database (logical partition) within Yugabyte. Blank for default.
	Database string

	// The port to find Yugabyte. Blank for default.
	Port string
}

// FishermanConfig tunes the reconciliation loop.
type FishermanConfig struct {
	// CycleInterval is the delay between two reconciliation cycles. Every
	// cycle handles a single deletion type; types alternate.
	CycleInterval Duration

	// MaxBatchSize is the maximum number of file keys in one deletion call.
	MaxBatchSize int

	// MaxBatchesPerCycle caps the number of batches submitted in one cycle.
	// Surplus batches are picked up by a later cycle of the same type.
	MaxBatchesPerCycle int

	// MaxAttempts is the number of proof+submit attempts for a batch within a
	// cycle before it is treated as a permanent failure.
	MaxAttempts int

	// ProofTimeout bounds membership queries and proof generation.
	ProofTimeout Duration

	// SubmitTimeout bounds a single extrinsic submission, including waiting
	// for inclusion. A timeout is retried like a stale proof.
	SubmitTimeout Duration

	// IndexTimeout bounds every event index query.
	IndexTimeout Duration

	// MaxLagBlocks is how far behind the highest known block the node may be
	// before cycling pauses until it catches up.
	MaxLagBlocks uint64

	// SyncPollInterval is the delay between sync state checks while catching up.
	SyncPollInterval Duration

	// PruneOrphanedFiles removes files with no remaining provider scope from
	// the event index.
	PruneOrphanedFiles bool

	// SuccessMemorySize is the number of (file, scope) pairs remembered after
	// a successful deletion, so that they are not acted on again before the
	// index catches up.
	SuccessMemorySize int

	// SuccessMemoryTTL is how long a successful deletion is remembered.
	SuccessMemoryTTL Duration

	// StallAfterCycles raises the stalled-intents alert once an intent stayed
	// outstanding for this many cycles of its type. 0 disables the alert.
	StallAfterCycles int
}

type JournalConfig struct {
	// Path is the directory the journal is written to. Empty disables the
	// filesystem journal.
	Path string

	// DisabledEvents is a comma separated list of system:event pairs.
	DisabledEvents string
}

type MetricsConfig struct {
	// ListenAddress serves /metrics for prometheus. Empty disables it.
	ListenAddress string
}
