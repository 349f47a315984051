package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager handles all application metrics. It is constructed once in main
// and passed explicitly to every component that records metrics; nothing in
// the pipeline reaches for ambient registry state.
type Manager struct {
	prometheus *PrometheusMetrics
	network    string
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates a new metrics manager. network labels every per-event
// counter (mainnet/testnet/unknown).
func NewManager(network string) *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		network:    network,
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// Network returns the network label
func (m *Manager) Network() string {
	return m.network
}

// UpdateSystemMetrics updates system-level metrics like memory and goroutines
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
