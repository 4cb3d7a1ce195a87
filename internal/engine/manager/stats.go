package manager

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time summary of the pipeline.
type Stats struct {
	StartedAt      time.Time         `json:"started_at"`
	Uptime         string            `json:"uptime"`
	Running        bool              `json:"running"`
	Workers        int               `json:"workers"`
	Shards         int               `json:"shards"`
	ActiveFlows    int               `json:"active_flows"`
	FramesReceived uint64            `json:"frames_received"`
	FramesDropped  uint64            `json:"frames_dropped"`
	Discarded      map[string]uint64 `json:"discarded"`
	Events         uint64            `json:"events"`
	EventsDropped  uint64            `json:"events_dropped"`
	Tainted        uint64            `json:"tainted"`
	ShardResets    uint64            `json:"shard_resets"`
	ScannerWindow  time.Time         `json:"scanner_window_start"`
}

type counters struct {
	startedAt     time.Time
	frames        atomic.Uint64
	dropped       atomic.Uint64
	events        atomic.Uint64
	eventsDropped atomic.Uint64
	tainted       atomic.Uint64
	resets        atomic.Uint64

	mu       sync.Mutex
	discards map[string]uint64
}

func newCounters() *counters {
	return &counters{startedAt: time.Now(), discards: make(map[string]uint64)}
}

func (c *counters) discard(reason string) {
	c.mu.Lock()
	c.discards[reason]++
	c.mu.Unlock()
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.stats.mu.Lock()
	discarded := make(map[string]uint64, len(m.stats.discards))
	for k, v := range m.stats.discards {
		discarded[k] = v
	}
	m.stats.mu.Unlock()

	return Stats{
		StartedAt:      m.stats.startedAt,
		Uptime:         time.Since(m.stats.startedAt).Round(time.Second).String(),
		Running:        m.Running(),
		Workers:        len(m.queues),
		Shards:         m.flows.NumShards(),
		ActiveFlows:    m.flows.Len(),
		FramesReceived: m.stats.frames.Load(),
		FramesDropped:  m.stats.dropped.Load(),
		Discarded:      discarded,
		Events:         m.stats.events.Load(),
		EventsDropped:  m.stats.eventsDropped.Load(),
		Tainted:        m.stats.tainted.Load(),
		ShardResets:    m.stats.resets.Load(),
		ScannerWindow:  m.scanners.Since(),
	}
}
