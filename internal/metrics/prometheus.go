package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soroscan/soroscan/pkg/utils"
)

// PrometheusMetrics contains all Prometheus metrics for the indexer. Each
// Manager owns its registry so multiple instances never collide.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	EventsIngestedTotal  *prometheus.CounterVec
	LedgersFetchedTotal  prometheus.Counter
	TaskDurationSeconds  *prometheus.HistogramVec
	LastIndexedLedger    *prometheus.GaugeVec
	ActiveContractsGauge prometheus.Gauge

	// RPC metrics
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Delivery metrics
	WebhookDeliveriesTotal *prometheus.CounterVec
	WebhookSuspendedTotal  prometheus.Counter
	AlertsSentTotal        *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		registry: registry,

		EventsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroscan_events_ingested_total",
				Help: "Total number of contract events ingested",
			},
			[]string{"contract_id", "network", "event_type"},
		),

		LedgersFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "soroscan_ledger_fetches_total",
				Help: "Total number of upstream getEvents calls",
			},
		),

		TaskDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soroscan_task_duration_seconds",
				Help:    "Time spent running schedulable units of work",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task_name"},
		),

		LastIndexedLedger: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "soroscan_last_indexed_ledger",
				Help: "Last ledger sequence indexed per contract",
			},
			[]string{"contract_id"},
		),

		ActiveContractsGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "soroscan_active_contracts",
				Help: "Number of contracts with indexing enabled",
			},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroscan_rpc_requests_total",
				Help: "Total number of ledger RPC requests",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "soroscan_rpc_request_duration_seconds",
				Help:    "Ledger RPC request latency",
				Buckets: prometheus.DefBuckets,
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroscan_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soroscan_database_operation_duration_seconds",
				Help:    "Database operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		WebhookDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroscan_webhook_deliveries_total",
				Help: "Total webhook delivery attempts by outcome",
			},
			[]string{"status"},
		),

		WebhookSuspendedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "soroscan_webhook_suspensions_total",
				Help: "Total subscriptions suspended after exhausting retries",
			},
		),

		AlertsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroscan_alerts_sent_total",
				Help: "Total alert send attempts by action and outcome",
			},
			[]string{"action", "status"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soroscan_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soroscan_http_request_duration_seconds",
				Help:    "HTTP API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "soroscan_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "soroscan_memory_usage_bytes",
				Help: "Current heap allocation in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "soroscan_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// Handler returns an HTTP handler serving this instance's registry
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordEventIngested records a newly created contract event
func (p *PrometheusMetrics) RecordEventIngested(contractID, network, eventType string) {
	p.EventsIngestedTotal.WithLabelValues(utils.ShortContractID(contractID), network, eventType).Inc()
}

// RecordLedgerFetch records one upstream getEvents call
func (p *PrometheusMetrics) RecordLedgerFetch() {
	p.LedgersFetchedTotal.Inc()
}

// ObserveTaskDuration records the duration of one schedulable unit
func (p *PrometheusMetrics) ObserveTaskDuration(taskName string, d time.Duration) {
	p.TaskDurationSeconds.WithLabelValues(taskName).Observe(d.Seconds())
}

// RecordRPCRequest records one upstream RPC call
func (p *PrometheusMetrics) RecordRPCRequest(method, status string, d time.Duration) {
	p.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	p.RPCRequestDuration.Observe(d.Seconds())
}

// RecordDatabaseOperation records one storage operation
func (p *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, d time.Duration) {
	p.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	p.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(d.Seconds())
}

// RecordWebhookDelivery records one delivery attempt outcome
func (p *PrometheusMetrics) RecordWebhookDelivery(status string) {
	p.WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordAlertSent records one alert send attempt outcome
func (p *PrometheusMetrics) RecordAlertSent(action, status string) {
	p.AlertsSentTotal.WithLabelValues(action, status).Inc()
}

// RecordHTTPRequest records one HTTP API request
func (p *PrometheusMetrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	p.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	p.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// UpdateLastIndexedLedger updates the per-contract cursor gauge
func (p *PrometheusMetrics) UpdateLastIndexedLedger(contractID string, ledger uint64) {
	p.LastIndexedLedger.WithLabelValues(utils.ShortContractID(contractID)).Set(float64(ledger))
}

// UpdateActiveContracts updates the active contracts gauge
func (p *PrometheusMetrics) UpdateActiveContracts(count int) {
	p.ActiveContractsGauge.Set(float64(count))
}

// UpdateMemoryUsage updates the heap allocation gauge
func (p *PrometheusMetrics) UpdateMemoryUsage(alloc uint64) {
	p.MemoryUsage.Set(float64(alloc))
}

// UpdateGoroutineCount updates the goroutine gauge
func (p *PrometheusMetrics) UpdateGoroutineCount(count int) {
	p.GoroutineCount.Set(float64(count))
}

// UpdateApplicationUptime updates the uptime gauge
func (p *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	p.ApplicationUptime.Set(time.Since(startTime).Seconds())
}
