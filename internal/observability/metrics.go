package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pool service.
type Metrics struct {
	// --- Pool operations ---
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	PoolSequence prometheus.Gauge

	// --- Reserves ---
	ReserveUtilization  *prometheus.GaugeVec
	ReserveBorrowRate   *prometheus.GaugeVec
	ReserveLiquidityIdx *prometheus.GaugeVec
	ReserveBorrowIdx    *prometheus.GaugeVec

	// --- Liquidations ---
	LiquidationsExecuted *prometheus.CounterVec
	LiquidationsRejected *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistOpsWritten       prometheus.Counter
	PersistSnapshotsWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistBatchDur         prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refi_pool_ops_applied_total",
			Help: "Operations committed by the pool",
		}, []string{"op_type", "asset"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refi_pool_ops_rejected_total",
			Help: "Operations rejected (validation, health, liquidity)",
		}, []string{"op_type", "code"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refi_pool_op_duration_seconds",
			Help:    "Time to apply a single operation",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		PoolSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "refi_pool_sequence",
			Help: "Current global sequence number",
		}),

		ReserveUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_reserve_utilization",
			Help: "Reserve utilization (0.0-1.0)",
		}, []string{"asset"}),

		ReserveBorrowRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_reserve_borrow_rate",
			Help: "Current variable borrow rate (annualized fraction)",
		}, []string{"asset"}),

		ReserveLiquidityIdx: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_reserve_liquidity_index",
			Help: "Cumulative liquidity index (1.0 at listing)",
		}, []string{"asset"}),

		ReserveBorrowIdx: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_reserve_borrow_index",
			Help: "Cumulative variable borrow index (1.0 at listing)",
		}, []string{"asset"}),

		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refi_liquidations_executed_total",
			Help: "Liquidation calls that seized collateral",
		}, []string{"collateral_asset", "debt_asset"}),

		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refi_liquidations_rejected_total",
			Help: "Liquidation calls rejected",
		}, []string{"code"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refi_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refi_publish_drops_total",
			Help: "Operations dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refi_persist_backpressure_total",
			Help: "Times the pool blocked on the persist channel",
		}),

		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refi_persist_ops_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistSnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refi_persist_snapshots_written_total",
			Help: "Reserve snapshots written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "refi_persist_batch_size",
			Help:    "Operations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "refi_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refi_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refi_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "refi_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refi_http_requests_total",
			Help: "HTTP requests",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refi_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
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
