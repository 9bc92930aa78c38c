package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SynthVault.
// Every collector is optional at call sites: components accept a nil *Metrics.
type Metrics struct {
	// --- Vault operations ---
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Compensations     *prometheus.CounterVec
	Signals           *prometheus.CounterVec

	// --- Vault state ---
	HealthFactorBps  prometheus.Gauge
	BackingRatioBps  prometheus.Gauge
	ReserveBalance   prometheus.Gauge
	LendingPrincipal prometheus.Gauge
	SynthSupply      prometheus.Gauge
	OracleRate       prometheus.Gauge

	// --- Channels ---
	EventDrops          *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	RatesReceived   *prometheus.CounterVec
	RateOutOfOrder  prometheus.Counter
	EventsPublished *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge

	// --- API ---
	APIRequests    *prometheus.CounterVec
	APIDuration    *prometheus.HistogramVec
	APIRateLimited prometheus.Counter
	APIDuplicates  *prometheus.CounterVec

	// --- Keeper ---
	KeeperRuns *prometheus.CounterVec
}

// NewMetrics registers every metric with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers every metric with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}
	persistBuckets := []float64{
		0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		// Vault operations
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations by outcome",
		}, []string{"operation", "result"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_operation_duration_seconds",
			Help:    "Time spent inside a vault operation, including venue calls",
			Buckets: opBuckets,
		}, []string{"operation"}),

		Compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_compensations_total",
			Help: "Compensating actions run after a failed operation",
		}, []string{"operation", "result"}),

		Signals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_signals_total",
			Help: "Soft monitoring signals (low_reserve, margin_deficit, manual_intervention_required)",
		}, []string{"signal"}),

		// Vault state
		HealthFactorBps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_hedge_health_bps",
			Help: "Hedge position health factor in basis points",
		}),

		BackingRatioBps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_backing_ratio_bps",
			Help: "Venue-held value over issued synth value in basis points",
		}),

		ReserveBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_reserve_balance",
			Help: "Reserve balance in reference units (fixed point)",
		}),

		LendingPrincipal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_lending_principal",
			Help: "User backing held by the lending venue (fixed point)",
		}),

		SynthSupply: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_synth_supply",
			Help: "Issued synth supply (fixed point)",
		}),

		OracleRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_oracle_rate",
			Help: "Last oracle rate used by the vault (fixed point)",
		}),

		// Channels
		EventDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_event_drops_total",
			Help: "Events dropped because a non-blocking consumer was full",
		}, []string{"channel"}),

		PersistBackpressure: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the engine blocked on a full persist channel",
		}),

		// Ingestion
		RatesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rates_received_total",
			Help: "Oracle rate messages by outcome",
		}, []string{"pair", "result"}),

		RateOutOfOrder: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_rate_out_of_order_total",
			Help: "Rate messages rejected for sequence ordering",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_published_total",
			Help: "Vault events published to NATS",
		}, []string{"type", "result"}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to the operation journal",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: persistBuckets,
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors by stage",
		}, []string{"stage"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Batch write retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Highest event sequence written",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshots_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Time to take and store a snapshot",
			Buckets: persistBuckets,
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		// API
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),

		APIDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_api_duration_seconds",
			Help:    "API request latency",
			Buckets: opBuckets,
		}, []string{"method"}),

		APIRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_api_rate_limited_total",
			Help: "Requests rejected by the API limiter",
		}),

		APIDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_api_duplicates_total",
			Help: "Requests answered from the idempotency cache, by tier",
		}, []string{"tier"}),

		// Keeper
		KeeperRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_keeper_runs_total",
			Help: "Scheduled keeper job runs by outcome",
		}, []string{"job", "result"}),
	}
}
