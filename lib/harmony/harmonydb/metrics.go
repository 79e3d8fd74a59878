package harmonydb

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
)

var (
	schemaTag, _   = tag.NewKey("schema")
	latencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}
)

// DBMeasures are recorded for every index query. Opencensus measures carry
// the schema tag; the prometheus collectors are registered directly since
// they are labelled per host or need their own buckets.
var DBMeasures = struct {
	Queries         *stats.Int64Measure
	QueryErrors     *stats.Int64Measure
	OpenConnections *stats.Int64Measure
	TxRetries       *stats.Int64Measure
	QueryLatency    prometheus.Histogram
	HostConnections *prometheus.CounterVec
}{
	Queries:         stats.Int64("indexdb/queries", "Queries run against the index database", stats.UnitDimensionless),
	QueryErrors:     stats.Int64("indexdb/query_errors", "Index queries that returned an error", stats.UnitDimensionless),
	OpenConnections: stats.Int64("indexdb/open_connections", "Connections held by the index pool", stats.UnitDimensionless),
	TxRetries:       stats.Int64("indexdb/tx_retries", "Transactions rerun after a serialization failure", stats.UnitDimensionless),
	QueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fisherman_indexdb_query_latency_ms",
		Help:    "Latency of index database queries.",
		Buckets: latencyBuckets,
	}),
	HostConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fisherman_indexdb_host_connections",
		Help: "Connections opened to each index database host.",
	}, []string{"host"}),
}

func init() {
	metrics.RegisterViews(
		&view.View{
			Measure:     DBMeasures.Queries,
			Aggregation: view.Count(),
			TagKeys:     []tag.Key{schemaTag},
		},
		&view.View{
			Measure:     DBMeasures.QueryErrors,
			Aggregation: view.Count(),
			TagKeys:     []tag.Key{schemaTag},
		},
		&view.View{
			Measure:     DBMeasures.OpenConnections,
			Aggregation: view.LastValue(),
			TagKeys:     []tag.Key{schemaTag},
		},
		&view.View{
			Measure:     DBMeasures.TxRetries,
			Aggregation: view.Count(),
			TagKeys:     []tag.Key{schemaTag},
		},
	)
	prometheus.MustRegister(DBMeasures.QueryLatency, DBMeasures.HostConnections)
}
