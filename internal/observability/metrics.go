package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpVault.
type Metrics struct {
	// --- Command processing ---
	CommandsApplied   *prometheus.CounterVec
	CommandsRejected  *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	EventsEmitted     *prometheus.CounterVec
	OperationSequence prometheus.Gauge
	IngestToApply     *prometheus.HistogramVec

	// --- Vault state ---
	PoolAmount     *prometheus.GaugeVec
	ReservedAmount *prometheus.GaugeVec
	GuaranteedUsd  *prometheus.GaugeVec
	ShortSize      *prometheus.GaugeVec
	FeeReserve     *prometheus.GaugeVec
	FundingRate    *prometheus.GaugeVec
	ShareSupply    prometheus.Gauge

	// --- Oracle ---
	PriceUpdates *prometheus.CounterVec
	PriceStale   *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	StreamDrops         prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistBatchDur        prometheus.Histogram
	PersistCommandsWritten prometheus.Counter
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken       prometheus.Counter
	SnapshotDuration    prometheus.Histogram
	SnapshotSizeBytes   prometheus.Gauge
	SnapshotLastSeq     prometheus.Gauge
	ReplayCommandsTotal prometheus.Counter
	ReplayDuration      prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionWatermark prometheus.Gauge

	// --- Query API & streaming ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	CacheRequests *prometheus.CounterVec
	WSClients     prometheus.Gauge
}

// NewMetrics registers every metric with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every metric with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	dbBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_commands_applied_total",
			Help: "Commands committed by the processor",
		}, []string{"kind"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_commands_rejected_total",
			Help: "Commands rejected (duplicate, parse, error class)",
		}, []string{"kind", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpvault_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_events_emitted_total",
			Help: "Vault events emitted",
		}, []string{"event_type"}),

		OperationSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_operation_sequence",
			Help: "Committed vault operations",
		}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpvault_ingest_to_apply_seconds",
			Help:    "NATS receive to processor apply complete",
			Buckets: ingestBuckets,
		}, []string{"kind"}),

		PoolAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_pool_amount",
			Help: "Pool amount per asset (base units)",
		}, []string{"asset"}),

		ReservedAmount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_reserved_amount",
			Help: "Reserved amount per asset (base units)",
		}, []string{"asset"}),

		GuaranteedUsd: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_guaranteed_usd",
			Help: "Guaranteed USD per asset (1e8)",
		}, []string{"asset"}),

		ShortSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_short_size",
			Help: "Aggregate short size per index asset (USD 1e8)",
		}, []string{"asset"}),

		FeeReserve: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_fee_reserve",
			Help: "Fee reserve per asset (base units)",
		}, []string{"asset"}),

		FundingRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_cumulative_funding_rate",
			Help: "Cumulative funding rate per asset (1e6)",
		}, []string{"asset"}),

		ShareSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_share_supply",
			Help: "Pool-share token supply",
		}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_price_updates_total",
			Help: "Oracle price updates applied",
		}, []string{"asset"}),

		PriceStale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_price_stale_total",
			Help: "Oracle price updates ignored as stale",
		}, []string{"asset"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perpvault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		StreamDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_stream_drops_total",
			Help: "Outputs dropped due to full websocket broadcast channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_persist_backpressure_total",
			Help: "Times the processor blocked on the persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"kind", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpvault_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpvault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: dbBuckets,
		}),

		PersistCommandsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_persist_commands_written_total",
			Help: "Commands written to Postgres",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_persist_journals_written_total",
			Help: "Custody journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpvault_persist_batch_size",
			Help:    "Commands per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_persist_last_sequence",
			Help: "Last persisted command sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpvault_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_snapshot_last_sequence",
			Help: "Command sequence of last snapshot",
		}),

		ReplayCommandsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "perpvault_replay_commands_total",
			Help: "Commands replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_replay_duration_seconds",
			Help: "Total replay time",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpvault_projection_update_duration_seconds",
			Help:    "Projection update duration",
			Buckets: dbBuckets,
		}, []string{"projection"}),

		ProjectionWatermark: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_projection_watermark",
			Help: "Last event sequence applied to projections",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpvault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perpvault_cache_requests_total",
			Help: "Read-through cache lookups",
		}, []string{"cache", "result"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "perpvault_ws_clients",
			Help: "Connected websocket clients",
		}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
