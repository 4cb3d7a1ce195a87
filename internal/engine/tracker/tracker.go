// Package tracker keeps per-flow lifecycle state for every flow seen on the
// monitored address space and reports state transitions.
package tracker

import (
	"container/list"
	"encoding/binary"
	"sync"
	"time"

	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/model"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultShardCount       = 256
	defaultMaxFlowsPerShard = 4096
	defaultIdleTimeout      = 300 * time.Second
)

// Config bounds the flow table and sets its timers.
type Config struct {
	NumShards        int
	MaxFlowsPerShard int
	IdleTimeout      time.Duration
	// ICMPCloseGrace keeps a flow in CLOSING after a matching ICMP error.
	// Zero closes it immediately.
	ICMPCloseGrace time.Duration
	// ClosedLinger keeps a tombstone of closed flows so late retransmissions
	// do not reopen them. Zero removes closed flows at once.
	ClosedLinger time.Duration
}

// Flow is the tracked state of one flow. Identity is oriented from the
// endpoint that sent the first observed packet.
type Flow struct {
	Identity        model.FlowIdentity `json:"flow"`
	State           State              `json:"state"`
	Reason          string             `json:"reason,omitempty"`
	FirstSeen       time.Time          `json:"first_seen"`
	LastSeen        time.Time          `json:"last_seen"`
	PacketsToServer uint64             `json:"packets_toserver"`
	PacketsToClient uint64             `json:"packets_toclient"`
	BytesToServer   uint64             `json:"bytes_toserver"`
	BytesToClient   uint64             `json:"bytes_toclient"`

	key              model.FlowIdentity
	elem             *list.Element
	closedAt         time.Time
	finFromInitiator bool
	graceDeadline    time.Time
}

func (f *Flow) copy() Flow {
	c := *f
	c.elem = nil
	return c
}

func (f *Flow) account(fromInitiator bool, size int) {
	if fromInitiator {
		f.PacketsToServer++
		f.BytesToServer += uint64(size)
	} else {
		f.PacketsToClient++
		f.BytesToClient += uint64(size)
	}
}

// Transition is a single state change of a flow.
type Transition struct {
	Flow   Flow
	From   State
	To     State
	Reason string
	At     time.Time
}

// Observation is what the tracker learned from one packet.
type Observation struct {
	// Opened is set when the packet created a new flow.
	Opened bool
	// Matched is set when an ICMP error quoted a tracked flow.
	Matched bool
	// Orphan is set when an ICMP error quoted no tracked flow.
	Orphan bool
	// Ignored is set when the packet hit a recently closed flow.
	Ignored bool
	// Evicted lists flows pushed out before the packet was accounted: a
	// stale flow with the same identity or capacity victims of the shard.
	Evicted []Transition
	// Transitions are the state changes of the packet's own flow.
	Transitions []Transition
	Flow        *Flow
}

type shard struct {
	index int
	mu    sync.RWMutex
	flows map[model.FlowIdentity]*Flow
	live  *list.List // least recently seen first
	tombs *list.List // oldest closure first
	grace map[*Flow]struct{}
}

func newShard(index int) *shard {
	return &shard{
		index: index,
		flows: make(map[model.FlowIdentity]*Flow),
		live:  list.New(),
		tombs: list.New(),
		grace: make(map[*Flow]struct{}),
	}
}

// Tracker is a flow table split into independently locked shards.
type Tracker struct {
	cfg    Config
	shards []*shard
}

// New creates a tracker, filling unset limits with defaults.
func New(cfg Config) *Tracker {
	if cfg.NumShards <= 0 {
		cfg.NumShards = defaultShardCount
	}
	if cfg.MaxFlowsPerShard <= 0 {
		cfg.MaxFlowsPerShard = defaultMaxFlowsPerShard
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	t := &Tracker{cfg: cfg, shards: make([]*shard, cfg.NumShards)}
	for i := range t.shards {
		t.shards[i] = newShard(i)
	}
	return t
}

// NumShards returns the number of shards.
func (t *Tracker) NumShards() int { return len(t.shards) }

// ShardOf returns the shard index owning a flow identity, in either direction.
func (t *Tracker) ShardOf(id model.FlowIdentity) int {
	return int(hashIdentity(id.Canonical()) % uint64(len(t.shards)))
}

// RoutingKey returns the flow identity whose shard a packet touches: the
// quoted datagram for ICMP errors, the packet's own flow otherwise. The bool
// result is false for packets that never touch the table.
func (t *Tracker) RoutingKey(v *protocol.PacketView) (model.FlowIdentity, bool) {
	if v.ICMP != nil {
		switch {
		case v.ICMP.Kind.IsError():
			if v.ICMP.Embedded == nil {
				return model.FlowIdentity{}, false
			}
			return v.ICMP.Embedded.Flow(), true
		case !v.ICMP.Kind.IsQuery():
			return model.FlowIdentity{}, false
		}
	}
	return v.Flow(), true
}

func hashIdentity(id model.FlowIdentity) uint64 {
	var b [37]byte
	b[0] = id.Protocol
	src, dst := id.SrcIP.As16(), id.DstIP.As16()
	copy(b[1:17], src[:])
	copy(b[17:33], dst[:])
	binary.BigEndian.PutUint16(b[33:35], id.SrcPort)
	binary.BigEndian.PutUint16(b[35:37], id.DstPort)
	return xxhash.Sum64(b[:])
}

func (t *Tracker) shardFor(key model.FlowIdentity) *shard {
	return t.shards[hashIdentity(key)%uint64(len(t.shards))]
}

// Observe folds one packet into the flow table. Transitions are reported
// only when the flow changes state; packets within a state only update
// counters.
func (t *Tracker) Observe(v *protocol.PacketView, ts time.Time) Observation {
	if v.ICMP != nil {
		switch {
		case v.ICMP.Kind.IsError():
			return t.observeICMPError(v, ts)
		case !v.ICMP.Kind.IsQuery():
			return Observation{}
		}
	}

	dir := v.Flow()
	key := dir.Canonical()
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	size := v.FrameLen - v.LinkLen
	f, ok := s.flows[key]
	if ok && f.State.Terminal() {
		if ts.Sub(f.closedAt) < t.cfg.ClosedLinger {
			return Observation{Ignored: true}
		}
		s.tombs.Remove(f.elem)
		delete(s.flows, key)
		ok = false
	}

	var obs Observation
	// A flow idle for longer than the timeout is gone even if no sweep ran
	// since; the packet starts a new one.
	if ok && ts.Sub(f.LastSeen) >= t.cfg.IdleTimeout {
		obs.Evicted = append(obs.Evicted, t.close(s, f, StateEvicted, ReasonIdleTimeout, ts))
		ok = false
	}
	if !ok {
		obs.Evicted = append(obs.Evicted, t.makeRoom(s, ts)...)
		f = &Flow{Identity: dir, key: key, State: StateNew, FirstSeen: ts, LastSeen: ts}
		f.elem = s.live.PushBack(f)
		s.flows[key] = f
		f.account(true, size)
		obs.Opened = true
		if v.TCP != nil && v.TCP.Flags.Has(protocol.TCPFlagRST) {
			obs.Transitions = append(obs.Transitions, t.close(s, f, StateClosed, ReasonReset, ts))
		}
		c := f.copy()
		obs.Flow = &c
		return obs
	}

	fromInitiator := dir == f.Identity
	f.account(fromInitiator, size)
	// The live list stays ordered by LastSeen, so late packets keep their
	// flow in place.
	if ts.After(f.LastSeen) {
		f.LastSeen = ts
		s.live.MoveToBack(f.elem)
	}

	obs.Transitions = t.advance(s, f, v, fromInitiator, ts)
	c := f.copy()
	obs.Flow = &c
	return obs
}

func synOnly(flags protocol.TCPFlags) bool {
	const control = protocol.TCPFlagSYN | protocol.TCPFlagACK | protocol.TCPFlagFIN | protocol.TCPFlagRST
	return flags&control == protocol.TCPFlagSYN
}

func (t *Tracker) advance(s *shard, f *Flow, v *protocol.PacketView, fromInitiator bool, ts time.Time) []Transition {
	if v.TCP == nil {
		if f.State == StateNew && !fromInitiator {
			return []Transition{t.move(s, f, StateEstablished, "", ts)}
		}
		return nil
	}

	flags := v.TCP.Flags
	if flags.Has(protocol.TCPFlagRST) {
		return []Transition{t.close(s, f, StateClosed, ReasonReset, ts)}
	}

	var out []Transition
	if f.State == StateNew && !synOnly(flags) {
		out = append(out, t.move(s, f, StateEstablished, "", ts))
	}
	if flags.Has(protocol.TCPFlagFIN) {
		switch f.State {
		case StateEstablished:
			f.finFromInitiator = fromInitiator
			out = append(out, t.move(s, f, StateClosing, ReasonFIN, ts))
		case StateClosing:
			_, icmpPending := s.grace[f]
			if !icmpPending && f.finFromInitiator != fromInitiator {
				out = append(out, t.close(s, f, StateClosed, ReasonFIN, ts))
			}
		}
	}
	return out
}

func (t *Tracker) observeICMPError(v *protocol.PacketView, ts time.Time) Observation {
	emb := v.ICMP.Embedded
	if emb == nil {
		return Observation{Orphan: true}
	}

	key := emb.Flow().Canonical()
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[key]
	if !ok {
		return Observation{Orphan: true}
	}

	obs := Observation{Matched: true}
	if !v.ICMP.Kind.Closes() {
		c := f.copy()
		obs.Flow = &c
		return obs
	}
	reason := ReasonICMPPrefix + v.ICMP.Kind.Semantic
	switch f.State {
	case StateNew, StateEstablished:
		obs.Transitions = append(obs.Transitions, t.move(s, f, StateClosing, reason, ts))
		if t.cfg.ICMPCloseGrace <= 0 {
			obs.Transitions = append(obs.Transitions, t.close(s, f, StateClosed, reason, ts))
		} else {
			f.graceDeadline = ts.Add(t.cfg.ICMPCloseGrace)
			s.grace[f] = struct{}{}
		}
	case StateClosing:
		if _, pending := s.grace[f]; !pending {
			obs.Transitions = append(obs.Transitions, t.close(s, f, StateClosed, reason, ts))
		}
	}
	c := f.copy()
	obs.Flow = &c
	return obs
}

// move changes the state of a live flow. Callers hold the shard lock.
func (t *Tracker) move(s *shard, f *Flow, to State, reason string, ts time.Time) Transition {
	from := f.State
	if !canTransition(from, to) {
		panic(&InvariantError{Shard: s.index, From: from, To: to})
	}
	f.State = to
	f.Reason = reason
	return Transition{Flow: f.copy(), From: from, To: to, Reason: reason, At: ts}
}

// close moves a flow to a terminal state and takes it out of the live table.
// Closed flows leave a tombstone when lingering is enabled.
func (t *Tracker) close(s *shard, f *Flow, to State, reason string, ts time.Time) Transition {
	tr := t.move(s, f, to, reason, ts)
	s.live.Remove(f.elem)
	delete(s.grace, f)
	f.elem = nil
	if to == StateClosed && t.cfg.ClosedLinger > 0 {
		f.closedAt = ts
		f.elem = s.tombs.PushBack(f)
		return tr
	}
	delete(s.flows, f.key)
	return tr
}

// makeRoom frees a slot in a full shard: tombstones go first, then the least
// recently seen live flow.
func (t *Tracker) makeRoom(s *shard, now time.Time) []Transition {
	var out []Transition
	for len(s.flows) >= t.cfg.MaxFlowsPerShard {
		if e := s.tombs.Front(); e != nil {
			f := s.tombs.Remove(e).(*Flow)
			delete(s.flows, f.key)
			continue
		}
		e := s.live.Front()
		if e == nil {
			break
		}
		f := e.Value.(*Flow)
		reason := ReasonCapacity
		if now.Sub(f.LastSeen) >= t.cfg.IdleTimeout {
			reason = ReasonIdleTimeout
		}
		out = append(out, t.close(s, f, StateEvicted, reason, now))
	}
	return out
}

// Sweep evicts idle flows, closes flows whose ICMP grace period ran out and
// drops expired tombstones. Every flow is reported at most once.
func (t *Tracker) Sweep(now time.Time) []Transition {
	var out []Transition
	for _, s := range t.shards {
		s.mu.Lock()
		out = t.sweepShard(s, now, out)
		s.mu.Unlock()
	}
	return out
}

func (t *Tracker) sweepShard(s *shard, now time.Time, out []Transition) []Transition {
	for f := range s.grace {
		if !now.Before(f.graceDeadline) {
			out = append(out, t.close(s, f, StateClosed, f.Reason, now))
		}
	}

	for e := s.live.Front(); e != nil; {
		f := e.Value.(*Flow)
		if now.Sub(f.LastSeen) < t.cfg.IdleTimeout {
			break
		}
		e = e.Next()
		out = append(out, t.close(s, f, StateEvicted, ReasonIdleTimeout, now))
	}

	for e := s.tombs.Front(); e != nil; {
		f := e.Value.(*Flow)
		if now.Sub(f.closedAt) < t.cfg.ClosedLinger {
			break
		}
		e = e.Next()
		s.tombs.Remove(f.elem)
		delete(s.flows, f.key)
	}
	return out
}

// Flush evicts every live flow with the given reason and empties the table.
func (t *Tracker) Flush(now time.Time, reason string) []Transition {
	var out []Transition
	for _, s := range t.shards {
		s.mu.Lock()
		for e := s.live.Front(); e != nil; {
			f := e.Value.(*Flow)
			e = e.Next()
			out = append(out, t.close(s, f, StateEvicted, reason, now))
		}
		s.tombs.Init()
		clear(s.flows)
		s.mu.Unlock()
	}
	return out
}

// ResetShard drops all state of one shard without reporting it and returns
// how many flows were lost.
func (t *Tracker) ResetShard(i int) int {
	s := t.shards[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.live.Len()
	s.flows = make(map[model.FlowIdentity]*Flow)
	s.live.Init()
	s.tombs.Init()
	s.grace = make(map[*Flow]struct{})
	return n
}

// Len returns the number of live flows.
func (t *Tracker) Len() int {
	count := 0
	for _, s := range t.shards {
		s.mu.RLock()
		count += s.live.Len()
		s.mu.RUnlock()
	}
	return count
}

// Snapshot returns copies of all live flows.
func (t *Tracker) Snapshot() []Flow {
	var flows []Flow
	for _, s := range t.shards {
		s.mu.RLock()
		for e := s.live.Front(); e != nil; e = e.Next() {
			flows = append(flows, e.Value.(*Flow).copy())
		}
		s.mu.RUnlock()
	}
	return flows
}

// Lookup returns a copy of the flow with the given identity, in either
// direction.
func (t *Tracker) Lookup(id model.FlowIdentity) (Flow, bool) {
	key := id.Canonical()
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.flows[key]; ok {
		return f.copy(), true
	}
	return Flow{}, false
}
