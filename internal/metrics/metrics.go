// Package metrics exposes the sensor's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all sensor metrics
type Metrics struct {
	// Capture path
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	BytesReceived  prometheus.Counter

	// Classification
	Discarded   *prometheus.CounterVec
	Events      *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Orphans     prometheus.Counter
	Tainted     prometheus.Counter

	// Flow table
	ActiveFlows prometheus.Gauge
	ShardResets prometheus.Counter

	// Output
	EventsDropped prometheus.Counter
	SinkWrites    *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec
	DumpedFrames  prometheus.Counter
}

// NewMetrics creates a new set of sensor metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_frames_received_total",
			Help: "Total number of frames handed to the sensor",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_frames_dropped_total",
			Help: "Total number of frames dropped because a worker queue was full",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_bytes_received_total",
			Help: "Total number of captured bytes handed to the sensor",
		}),

		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sensor_discarded_total",
			Help: "Total number of frames discarded before classification",
		}, []string{"reason"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sensor_events_total",
			Help: "Total number of classification events emitted",
		}, []string{"kind"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sensor_flow_transitions_total",
			Help: "Total number of flow state transitions",
		}, []string{"state"}),
		Orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_icmp_orphans_total",
			Help: "Total number of ICMP errors quoting no tracked flow",
		}),
		Tainted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_tainted_packets_total",
			Help: "Total number of packets whose options or quoted datagram could not be fully parsed",
		}),

		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ns_sensor_active_flows",
			Help: "Number of flows in the flow table",
		}),
		ShardResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_shard_resets_total",
			Help: "Total number of flow table shards dropped after an internal error",
		}),

		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_events_dropped_total",
			Help: "Total number of events dropped because the dispatcher queue was full",
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sensor_sink_events_total",
			Help: "Total number of events written per sink",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sensor_sink_errors_total",
			Help: "Total number of failed sink writes",
		}, []string{"sink"}),
		DumpedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sensor_dumped_frames_total",
			Help: "Total number of frames written to the forensic dump",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesReceived, m.FramesDropped, m.BytesReceived,
		m.Discarded, m.Events, m.Transitions, m.Orphans, m.Tainted,
		m.ActiveFlows, m.ShardResets,
		m.EventsDropped, m.SinkWrites, m.SinkErrors, m.DumpedFrames,
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Register registers the metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}
