// Package metrics exposes per-engine Prometheus counters and gauges, per
// SPEC_FULL.md's DOMAIN STACK table: "per-engine counters/gauges (devices
// discovered, HTTP requests served, Castlink envelopes sent/received,
// heartbeat round-trip latency) exposed on a /metrics endpoint served by
// our own internal/http11 server".
//
// Grounded on the pack's grimm-is-glacic repo
// (internal/metrics/prometheus.go): a lazily-initialized, promauto-backed
// Registry singleton with one method per event worth recording. The shape
// (sync.Once-guarded Get(), one CounterVec/GaugeVec/HistogramVec per
// metric, small Record*/Update* methods) is kept; the metric names and
// label sets are retargeted from firewall/DHCP/DNS concerns to castbeam's
// discovery/http11/castlink engines.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds every metric castbeam exports.
type Registry struct {
	// Discovery
	DevicesDiscovered  *prometheus.GaugeVec
	PacketsSent        prometheus.Counter
	PacketsReceived    prometheus.Counter
	PacketsDropped     *prometheus.CounterVec
	DiscoveryDurationS prometheus.Histogram

	// HTTP/1.1
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
	HTTPBytesServed    *prometheus.CounterVec
	HTTPConnsActive    prometheus.Gauge

	// Castlink
	EnvelopesSent       *prometheus.CounterVec
	EnvelopesReceived   *prometheus.CounterVec
	HeartbeatLatencyS   prometheus.Histogram
	PendingRequests     prometheus.Gauge
	SessionStateChanges *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it on first use.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.DevicesDiscovered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "castbeam_discovery_devices",
		Help: "Number of distinct devices currently known per service name",
	}, []string{"service"})

	r.PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castbeam_discovery_packets_sent_total",
		Help: "Total mDNS query datagrams sent",
	})

	r.PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "castbeam_discovery_packets_received_total",
		Help: "Total mDNS datagrams received",
	})

	r.PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbeam_discovery_packets_dropped_total",
		Help: "mDNS datagrams dropped, by reason",
	}, []string{"reason"})

	r.DiscoveryDurationS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "castbeam_discovery_duration_seconds",
		Help:    "Wall-clock time spent in FindDevices",
		Buckets: prometheus.DefBuckets,
	})

	r.HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbeam_http11_requests_total",
		Help: "Total HTTP/1.1 requests served",
	}, []string{"method", "status"})

	r.HTTPRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "castbeam_http11_request_duration_seconds",
		Help:    "HTTP/1.1 request handling latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	r.HTTPBytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbeam_http11_bytes_served_total",
		Help: "Total response bytes served",
	}, []string{"method"})

	r.HTTPConnsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castbeam_http11_connections_active",
		Help: "Currently open server connections",
	})

	r.EnvelopesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbeam_castlink_envelopes_sent_total",
		Help: "Total Castlink envelopes sent, by namespace",
	}, []string{"namespace"})

	r.EnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbeam_castlink_envelopes_received_total",
		Help: "Total Castlink envelopes received, by namespace",
	}, []string{"namespace"})

	r.HeartbeatLatencyS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "castbeam_castlink_heartbeat_round_trip_seconds",
		Help:    "PING-to-PONG round trip latency",
		Buckets: prometheus.DefBuckets,
	})

	r.PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "castbeam_castlink_pending_requests",
		Help: "Number of put_and_wait calls currently awaiting a reply",
	})

	r.SessionStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "castbeam_castlink_session_state_changes_total",
		Help: "Session state machine transitions, by resulting state",
	}, []string{"state"})

	return r
}

// RecordDiscoveryRound updates the devices-discovered gauge and packet
// counters for one FindDevices call.
func (r *Registry) RecordDiscoveryRound(service string, deviceCount int, sent, received int, durationSeconds float64) {
	r.DevicesDiscovered.WithLabelValues(service).Set(float64(deviceCount))
	for i := 0; i < sent; i++ {
		r.PacketsSent.Inc()
	}
	for i := 0; i < received; i++ {
		r.PacketsReceived.Inc()
	}
	r.DiscoveryDurationS.Observe(durationSeconds)
}

// RecordPacketDropped records a malformed or unmatched datagram being
// discarded, per spec.md §7's "Protocol violation ... record dropped"
// policy.
func (r *Registry) RecordPacketDropped(reason string) {
	r.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records one completed HTTP/1.1 request/response cycle.
func (r *Registry) RecordHTTPRequest(method string, status int, bytesServed int, durationSeconds float64) {
	statusStr := statusString(status)
	r.HTTPRequestsTotal.WithLabelValues(method, statusStr).Inc()
	r.HTTPRequestLatency.WithLabelValues(method).Observe(durationSeconds)
	r.HTTPBytesServed.WithLabelValues(method).Add(float64(bytesServed))
}

// RecordEnvelopeSent and RecordEnvelopeReceived record one Castlink
// envelope crossing the wire in the named direction.
func (r *Registry) RecordEnvelopeSent(namespace string) {
	r.EnvelopesSent.WithLabelValues(namespace).Inc()
}

func (r *Registry) RecordEnvelopeReceived(namespace string) {
	r.EnvelopesReceived.WithLabelValues(namespace).Inc()
}

// RecordHeartbeat records one PING-to-PONG round trip's latency.
func (r *Registry) RecordHeartbeat(durationSeconds float64) {
	r.HeartbeatLatencyS.Observe(durationSeconds)
}

// RecordSessionStateChange records a Session transitioning to newState.
func (r *Registry) RecordSessionStateChange(newState string) {
	r.SessionStateChanges.WithLabelValues(newState).Inc()
}

func statusString(status int) string {
	return strconv.Itoa(status)
}
