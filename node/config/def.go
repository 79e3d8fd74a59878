package config

import (
	"encoding"
	"time"
)

const (
	IndexBackendSqlite   = "sqlite"
	IndexBackendPostgres = "postgres"
)

// DefaultFisherman returns the default config
func DefaultFisherman() *Fisherman {
	return &Fisherman{
		Node: NodeConfig{
			ApiInfo:        "ws://127.0.0.1:9944/rpc/v0",
			ConnectTimeout: Duration(90 * time.Second),
		},
		Index: IndexConfig{
			Backend:    IndexBackendSqlite,
			SqlitePath: "~/.fisherman/index.db",
			HarmonyDB: HarmonyDB{
				Hosts:    []string{"127.0.0.1"},
				Username: "yugabyte",
				Password: "yugabyte",
				Database: "yugabyte",
				Port:     "5433",
			},
		},
		Fisherman: FishermanConfig{
			CycleInterval:      Duration(6 * time.Second),
			MaxBatchSize:       100,
			MaxBatchesPerCycle: 32,
			MaxAttempts:        3,
			ProofTimeout:       Duration(30 * time.Second),
			SubmitTimeout:      Duration(60 * time.Second),
			IndexTimeout:       Duration(15 * time.Second),
			MaxLagBlocks:       5,
			SyncPollInterval:   Duration(6 * time.Second),
			PruneOrphanedFiles: true,
			SuccessMemorySize:  1 << 16,
			SuccessMemoryTTL:   Duration(time.Hour),
			StallAfterCycles:   20,
		},
		Journal: JournalConfig{
			Path: "~/.fisherman/journal",
		},
		Metrics: MetricsConfig{
			ListenAddress: "127.0.0.1:9616",
		},
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
