package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.RecordsForwardedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaykv_replication_records_forwarded_total",
			Help: "Total number of binlog records forwarded to peers",
		},
		[]string{"peer"},
	)

	r.RecordsDroppedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaykv_replication_records_dropped_total",
			Help: "Total number of binlog records dropped before forwarding",
		},
		[]string{"peer", "reason"}, // self_origin, cache_miss, stale
	)

	r.SendFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaykv_replication_send_failures_total",
			Help: "Total number of failed batch transmissions",
		},
		[]string{"peer"},
	)

	r.ConnectFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaykv_replication_connect_failures_total",
			Help: "Total number of failed data-channel connection attempts",
		},
		[]string{"peer"},
	)

	r.ReadRetriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaykv_replication_read_retries_total",
			Help: "Total number of binlog read retries",
		},
		[]string{"peer"},
	)

	r.ActiveSenders = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "relaykv_replication_active_senders",
			Help: "Number of currently running binlog senders",
		},
	)

	r.FatalSendersTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "relaykv_replication_fatal_senders_total",
			Help: "Total number of senders disabled after exceeding the read retry ceiling",
		},
	)

	r.HandshakesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaykv_replication_handshakes_total",
			Help: "Total number of trysync handshakes attempted",
		},
		[]string{"peer", "outcome"}, // ok, rejected, error
	)
}

func (r *Registry) initBinlogMetrics() {
	r.BinlogSegmentNumber = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "relaykv_binlog_segment_number",
			Help: "Number of the binlog segment currently being written",
		},
	)

	r.BinlogWritesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "relaykv_binlog_writes_total",
			Help: "Total number of records appended to the local binlog",
		},
	)

	r.CacheHitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "relaykv_conflict_cache_hits_total",
			Help: "Total number of conflict cache hits during send filtering",
		},
	)

	r.CacheMissesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "relaykv_conflict_cache_misses_total",
			Help: "Total number of conflict cache misses during send filtering",
		},
	)
}
