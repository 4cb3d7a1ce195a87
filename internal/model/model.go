package model

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"
)

// Frame is one captured link-layer frame as handed over by a capture source.
type Frame struct {
	Data        []byte
	Timestamp   time.Time
	InterfaceID string
	LinkType    layers.LinkType
}

// FlowIdentity identifies a flow by protocol, endpoints and ports. ICMP query
// flows carry the ICMP identifier in both port fields.
type FlowIdentity struct {
	Protocol uint8      `json:"protocol"`
	SrcIP    netip.Addr `json:"src_ip"`
	DstIP    netip.Addr `json:"dst_ip"`
	SrcPort  uint16     `json:"src_port"`
	DstPort  uint16     `json:"dst_port"`
}

// Reverse swaps the two endpoints.
func (f FlowIdentity) Reverse() FlowIdentity {
	return FlowIdentity{
		Protocol: f.Protocol,
		SrcIP:    f.DstIP,
		DstIP:    f.SrcIP,
		SrcPort:  f.DstPort,
		DstPort:  f.SrcPort,
	}
}

// Canonical returns the direction-independent form of the identity: the
// lower endpoint (address, then port) is always the source.
func (f FlowIdentity) Canonical() FlowIdentity {
	switch c := f.SrcIP.Compare(f.DstIP); {
	case c > 0:
		return f.Reverse()
	case c == 0 && f.SrcPort > f.DstPort:
		return f.Reverse()
	}
	return f
}

// IsValid reports whether both endpoints are set.
func (f FlowIdentity) IsValid() bool {
	return f.SrcIP.IsValid() && f.DstIP.IsValid()
}

func (f FlowIdentity) String() string {
	return fmt.Sprintf("%s %s -> %s",
		ProtocolName(f.Protocol),
		netip.AddrPortFrom(f.SrcIP, f.SrcPort),
		netip.AddrPortFrom(f.DstIP, f.DstPort))
}

// ProtocolName returns the lower-case name of an IP protocol number.
func ProtocolName(proto uint8) string {
	switch layers.IPProtocol(proto) {
	case layers.IPProtocolICMPv4:
		return "icmp"
	case layers.IPProtocolTCP:
		return "tcp"
	case layers.IPProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto-%d", proto)
	}
}
