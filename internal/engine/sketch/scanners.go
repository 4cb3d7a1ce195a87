package sketch

import (
	"net/netip"
	"sync"
	"time"
)

// Scanner is a probe source and its estimated number of probes.
type Scanner struct {
	Addr   netip.Addr `json:"addr"`
	Probes uint32     `json:"probes"`
}

// ScannerTable is a concurrency-safe sketch of probe sources over a
// measurement window.
type ScannerTable struct {
	mu    sync.Mutex
	cm    *CountMin
	since time.Time
}

func NewScannerTable(width, depth, threshold uint32) *ScannerTable {
	return &ScannerTable{cm: NewCountMin(width, depth, threshold), since: time.Now()}
}

// Observe counts one probe from addr.
func (s *ScannerTable) Observe(addr netip.Addr) {
	key := Key(addr.As16())
	s.mu.Lock()
	s.cm.Insert(key)
	s.mu.Unlock()
}

// Count returns the estimated number of probes from addr.
func (s *ScannerTable) Count(addr netip.Addr) uint32 {
	key := Key(addr.As16())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cm.Query(key)
}

// Top returns up to limit sources above the threshold, busiest first. A
// limit of zero or less returns all of them.
func (s *ScannerTable) Top(limit int) []Scanner {
	s.mu.Lock()
	records := s.cm.HeavyHitters()
	s.mu.Unlock()

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([]Scanner, 0, len(records))
	for _, r := range records {
		out = append(out, Scanner{Addr: netip.AddrFrom16([16]byte(r.Key)).Unmap(), Probes: r.Count})
	}
	return out
}

// Since returns the start of the current window.
func (s *ScannerTable) Since() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since
}

// Reset starts a new measurement window.
func (s *ScannerTable) Reset() {
	s.mu.Lock()
	s.cm.Reset()
	s.since = time.Now()
	s.mu.Unlock()
}
