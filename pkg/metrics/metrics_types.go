package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the hub.
type Registry struct {
	// Replication metrics
	RecordsForwardedTotal *prometheus.CounterVec
	RecordsDroppedTotal   *prometheus.CounterVec
	SendFailuresTotal     *prometheus.CounterVec
	ConnectFailuresTotal  *prometheus.CounterVec
	ReadRetriesTotal      *prometheus.CounterVec
	ActiveSenders         prometheus.Gauge
	FatalSendersTotal     prometheus.Counter
	HandshakesTotal       *prometheus.CounterVec

	// Binlog metrics
	BinlogSegmentNumber prometheus.Gauge
	BinlogWritesTotal   prometheus.Counter

	// Conflict cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initReplicationMetrics()
	r.initBinlogMetrics()

	return r
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
