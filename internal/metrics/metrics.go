// Package metrics exposes Prometheus counters and gauges for the
// engine and server. Metrics are observational only: nothing in the
// storage engine's correctness depends on this package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine holds the metrics instruments the storage engine updates.
type Engine struct {
	SegmentCount    prometheus.Gauge
	LiveBytes       prometheus.Gauge
	DeadBytes       prometheus.Gauge
	SetTotal        prometheus.Counter
	GetTotal        prometheus.Counter
	RmTotal         prometheus.Counter
	CompactionTotal prometheus.Counter
	CorruptRecords  prometheus.Counter
}

// NewEngine registers the engine's instruments against reg. If reg is
// nil, a fresh private registry is used so that opening multiple
// engines in the same process (as the test suite does) never collides
// on prometheus's global default registerer.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Engine{
		SegmentCount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "segment_count",
			Help: "Number of segment files currently on disk.",
		}),
		LiveBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "live_bytes",
			Help: "Estimated bytes referenced by the index.",
		}),
		DeadBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "dead_bytes",
			Help: "Cumulative bytes of values superseded or removed since the engine was opened; compaction does not reduce it.",
		}),
		SetTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "set_total",
			Help: "Total number of successful Set operations.",
		}),
		GetTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "get_total",
			Help: "Total number of Get operations, hit or miss.",
		}),
		RmTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "rm_total",
			Help: "Total number of successful Rm operations.",
		}),
		CompactionTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "compaction_total",
			Help: "Total number of completed compaction passes.",
		}),
		CorruptRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: "rustkv", Subsystem: "engine", Name: "corrupt_records_total",
			Help: "Total number of corrupt records encountered during recovery or compaction.",
		}),
	}
}

// Server holds the metrics instruments the TCP server updates.
type Server struct {
	ConnectionsActive prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
}

// NewServer registers the server's instruments against reg.
func NewServer(reg prometheus.Registerer) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Server{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rustkv", Subsystem: "server", Name: "connections_active",
			Help: "Number of currently open client connections.",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rustkv", Subsystem: "server", Name: "requests_total",
			Help: "Total requests handled, labeled by op and status.",
		}, []string{"op", "status"}),
	}
}
