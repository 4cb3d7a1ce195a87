// Package classifier turns decoded frames into labelled events, driving the
// flow tracker and the scanner sketch along the way.
package classifier

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"Go2NetSensor/internal/engine/options"
	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/engine/sketch"
	"Go2NetSensor/internal/engine/tracker"
	"Go2NetSensor/internal/model"
)

// Discard reasons that do not come from the decoder.
const (
	ReasonUnmonitored = "unmonitored"
)

// OutcomeKind tells what classification produced.
type OutcomeKind uint8

const (
	OutcomeNoOp OutcomeKind = iota
	OutcomeEvent
	OutcomeDiscarded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeEvent:
		return "event"
	case OutcomeDiscarded:
		return "discarded"
	}
	return "noop"
}

// Outcome is the result of classifying one frame. Events is set for
// OutcomeEvent, Reason for OutcomeDiscarded.
type Outcome struct {
	Kind    OutcomeKind
	Events  []model.Event
	Reason  string
	Tainted bool
}

// Meta carries the capture metadata of a frame through classification.
type Meta struct {
	Timestamp   time.Time
	InterfaceID string
}

// Config selects which traffic is classified.
type Config struct {
	// MonitoredCIDRs lists the watched address space. Empty means all.
	MonitoredCIDRs []netip.Prefix
	// BufferSize clips frames before decoding. Zero means
	// protocol.DefaultBufSize.
	BufferSize int
}

// Classifier is safe for concurrent use as long as packets of the same flow
// are classified in order.
type Classifier struct {
	cfg      Config
	flows    *tracker.Tracker
	scanners *sketch.ScannerTable
}

// New creates a classifier. scanners may be nil.
func New(cfg Config, flows *tracker.Tracker, scanners *sketch.ScannerTable) *Classifier {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = protocol.DefaultBufSize
	}
	return &Classifier{cfg: cfg, flows: flows, scanners: scanners}
}

// Tracker returns the flow table the classifier drives.
func (c *Classifier) Tracker() *tracker.Tracker { return c.flows }

// Monitored reports whether addr is inside the watched address space.
func (c *Classifier) Monitored(addr netip.Addr) bool {
	if len(c.cfg.MonitoredCIDRs) == 0 {
		return true
	}
	for _, p := range c.cfg.MonitoredCIDRs {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Decode validates a frame and checks it against the monitored ranges. On
// failure it returns the discard reason.
func (c *Classifier) Decode(frame model.Frame) (*protocol.PacketView, string) {
	data := frame.Data
	if len(data) > c.cfg.BufferSize {
		data = data[:c.cfg.BufferSize]
	}
	v, err := protocol.Decode(data, frame.LinkType)
	if err != nil {
		return nil, protocol.Reason(err)
	}
	if !c.admit(v) {
		return nil, ReasonUnmonitored
	}
	return v, ""
}

// admit accepts packets addressed to the monitored space, and replies sent
// from it so responder traffic can establish flows.
func (c *Classifier) admit(v *protocol.PacketView) bool {
	return c.Monitored(v.IP.Dst) || c.Monitored(v.IP.Src)
}

// Classify decodes and classifies one frame.
func (c *Classifier) Classify(frame model.Frame) Outcome {
	v, reason := c.Decode(frame)
	if v == nil {
		return Outcome{Kind: OutcomeDiscarded, Reason: reason}
	}
	return c.ClassifyView(v, Meta{Timestamp: frame.Timestamp, InterfaceID: frame.InterfaceID})
}

// ClassifyView classifies an already decoded packet.
func (c *Classifier) ClassifyView(v *protocol.PacketView, meta Meta) Outcome {
	if !c.admit(v) {
		return Outcome{Kind: OutcomeDiscarded, Reason: ReasonUnmonitored}
	}

	obs := c.flows.Observe(v, meta.Timestamp)
	if obs.Opened && c.scanners != nil {
		c.scanners.Observe(v.IP.Src)
	}

	events := TransitionEvents(obs.Evicted, meta.InterfaceID)
	var tainted bool
	if v.ICMP != nil || obs.Opened {
		primary := c.packetEvent(v, meta)
		primary.Orphan = obs.Orphan
		tainted = primary.Tainted
		events = append(events, primary)
	} else {
		tainted = c.tainted(v)
	}
	events = append(events, TransitionEvents(obs.Transitions, meta.InterfaceID)...)

	if len(events) == 0 {
		return Outcome{Kind: OutcomeNoOp, Tainted: tainted}
	}
	return Outcome{Kind: OutcomeEvent, Events: events, Tainted: tainted}
}

// tainted reports whether any part of the packet could not be fully parsed.
func (c *Classifier) tainted(v *protocol.PacketView) bool {
	if options.ParseIP(v.IP.Options).Tainted() {
		return true
	}
	if v.TCP != nil && options.ParseTCP(v.TCP.Options).Tainted() {
		return true
	}
	return v.ICMP != nil && v.ICMP.EmbeddedErr != nil
}

func (c *Classifier) packetEvent(v *protocol.PacketView, meta Meta) model.Event {
	ev := model.Event{
		Timestamp:   meta.Timestamp,
		InterfaceID: meta.InterfaceID,
		Flow:        v.Flow(),
		IP:          ipDetails(&v.IP),
	}
	ev.Tainted = ev.IP.OptionsTruncated != ""

	switch {
	case v.ICMP != nil:
		ev.Kind = model.KindICMP
		ev.SemanticCode = v.ICMP.Kind.Semantic
		ev.RawCode = uint32(v.ICMP.Kind.RawCode())
		ev.ICMP = icmpDetails(v.ICMP)
		if v.ICMP.EmbeddedErr != nil {
			ev.Tainted = true
		}
	case v.TCP != nil:
		ev.Kind = model.KindTCP
		ev.SemanticCode = TCPLabel(v.TCP.Flags, len(v.TCP.Payload))
		ev.RawCode = uint32(v.TCP.Flags)
		ev.TCP = tcpDetails(v.TCP)
		if ev.TCP.OptionsTruncated != "" {
			ev.Tainted = true
		}
	case v.UDP != nil:
		ev.Kind = model.KindUDP
		ev.SemanticCode = UDPLabel(len(v.UDP.Payload))
		ev.RawCode = uint32(v.UDP.DstPort)
		ev.UDP = &model.UDPDetails{Length: v.UDP.Length}
	}

	if p := v.Payload(); len(p) > 0 {
		sum := sha1.Sum(p)
		ev.Payload = &model.PayloadDetails{Length: len(p), SHA1: hex.EncodeToString(sum[:])}
	}
	return ev
}

// TCPLabel names the flag combination of a segment.
func TCPLabel(flags protocol.TCPFlags, payloadLen int) string {
	const (
		fin = protocol.TCPFlagFIN
		syn = protocol.TCPFlagSYN
		rst = protocol.TCPFlagRST
		psh = protocol.TCPFlagPSH
		ack = protocol.TCPFlagACK
		urg = protocol.TCPFlagURG
	)
	control := flags & (fin | syn | rst | psh | ack | urg)
	switch control {
	case 0:
		return "null_scan"
	case fin | psh | urg:
		return "xmas_scan"
	case syn:
		return "syn"
	case syn | ack:
		return "syn_ack"
	case rst:
		return "rst"
	case rst | ack:
		return "rst_ack"
	case fin:
		return "fin"
	case fin | ack, fin | ack | psh:
		return "fin_ack"
	case ack, ack | psh:
		if payloadLen > 0 {
			return "data"
		}
		return "ack"
	}
	return fmt.Sprintf("flags(0x%02x)", uint16(flags))
}

// UDPLabel names a UDP datagram by whether it carries data.
func UDPLabel(payloadLen int) string {
	if payloadLen == 0 {
		return "udp_empty_probe"
	}
	return "udp_probe"
}

// TransitionEvents converts tracker transitions into events. It is used for
// packet-driven transitions as well as sweeps and flushes.
func TransitionEvents(trs []tracker.Transition, interfaceID string) []model.Event {
	if len(trs) == 0 {
		return nil
	}
	events := make([]model.Event, 0, len(trs))
	for _, tr := range trs {
		ev := model.Event{
			Timestamp:   tr.At,
			InterfaceID: interfaceID,
			Flow:        tr.Flow.Identity,
			RawCode:     uint32(tr.To),
			Transition: &model.Transition{
				From:   tr.From.String(),
				To:     tr.To.String(),
				Reason: tr.Reason,
			},
		}
		switch tr.To {
		case tracker.StateClosed, tracker.StateEvicted:
			ev.Kind = model.KindConnectionClosed
			ev.SemanticCode = closureLabel(tr.To, tr.Reason)
			ev.Counters = &model.FlowCounters{
				PacketsToServer: tr.Flow.PacketsToServer,
				PacketsToClient: tr.Flow.PacketsToClient,
				BytesToServer:   tr.Flow.BytesToServer,
				BytesToClient:   tr.Flow.BytesToClient,
				FirstSeen:       tr.Flow.FirstSeen,
				LastSeen:        tr.Flow.LastSeen,
			}
		default:
			ev.Kind = model.EventKind(model.ProtocolName(tr.Flow.Identity.Protocol))
			ev.SemanticCode = "flow_" + strings.ToLower(tr.To.String())
		}
		events = append(events, ev)
	}
	return events
}

func closureLabel(to tracker.State, reason string) string {
	if to == tracker.StateEvicted {
		return "evicted_" + reason
	}
	if strings.HasPrefix(reason, tracker.ReasonICMPPrefix) {
		return "closed_icmp"
	}
	return "closed_" + reason
}
