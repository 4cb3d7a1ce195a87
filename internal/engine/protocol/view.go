package protocol

import (
	"net/netip"
	"strings"

	"Go2NetSensor/internal/engine/registry"
	"Go2NetSensor/internal/model"
)

// Header sizes used for bounds checks.
const (
	EthernetHeaderLen   = 14
	Dot1QHeaderLen      = 4
	LinuxSLLHeaderLen   = 16
	IPOrTCPHeaderMinLen = 20
	ICMPHeaderLen       = 8
	UDPHeaderLen        = 8
	DefaultBufSize      = 9000
)

// IP protocol numbers handled by the decoder.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// IPv4 is a validated IPv4 header. Options aliases the frame.
type IPv4 struct {
	Version     uint8
	IHL         uint8
	TOS         uint8
	TotalLength uint16
	ID          uint16
	Flags       uint8
	FragOffset  uint16
	TTL         uint8
	Protocol    uint8
	Checksum    uint16
	Src         netip.Addr
	Dst         netip.Addr
	Options     []byte
}

// HeaderLen returns the header length in bytes.
func (ip *IPv4) HeaderLen() int { return int(ip.IHL) * 4 }

// Embedded is the offending datagram quoted by an ICMP error message: its IP
// header plus the first eight transport bytes.
type Embedded struct {
	IP      IPv4
	SrcPort uint16
	DstPort uint16
}

// Flow returns the identity of the quoted datagram as it was originally sent.
func (e *Embedded) Flow() model.FlowIdentity {
	return model.FlowIdentity{
		Protocol: e.IP.Protocol,
		SrcIP:    e.IP.Src,
		DstIP:    e.IP.Dst,
		SrcPort:  e.SrcPort,
		DstPort:  e.DstPort,
	}
}

// ICMP is a validated ICMP header.
type ICMP struct {
	Kind     registry.ICMPKind
	Checksum uint16
	ID       uint16
	Seq      uint16
	Data     []byte
	// Embedded is nil when the message is not an error or the quoted
	// datagram could not be decoded; EmbeddedErr tells the two apart.
	Embedded    *Embedded
	EmbeddedErr error
}

// TCPFlags holds the nine TCP control bits.
type TCPFlags uint16

const (
	TCPFlagFIN TCPFlags = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
	TCPFlagNS
)

var tcpFlagNames = []string{"fin", "syn", "rst", "psh", "ack", "urg", "ece", "cwr", "ns"}

// Has reports whether every bit in f2 is set.
func (f TCPFlags) Has(f2 TCPFlags) bool { return f&f2 == f2 }

// Names lists the set flags in wire order.
func (f TCPFlags) Names() []string {
	var names []string
	for i, name := range tcpFlagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return names
}

func (f TCPFlags) String() string { return strings.Join(f.Names(), ",") }

// TCP is a validated TCP header. Options and Payload alias the frame.
type TCP struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8
	Flags      TCPFlags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
	Options    []byte
	Payload    []byte
}

// UDP is a validated UDP header. Payload aliases the frame.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
	Payload  []byte
}

// PacketView is a read-only, fully validated view over one frame. Exactly one
// of ICMP, TCP and UDP is set.
type PacketView struct {
	FrameLen int
	LinkLen  int
	VLAN     uint16
	HasVLAN  bool
	IP       IPv4
	ICMP     *ICMP
	TCP      *TCP
	UDP      *UDP
	// CaptureTruncated is set when the IP total length exceeds the captured
	// bytes.
	CaptureTruncated bool
}

// Flow returns the identity of the packet in its direction of travel.
func (v *PacketView) Flow() model.FlowIdentity {
	f := model.FlowIdentity{
		Protocol: v.IP.Protocol,
		SrcIP:    v.IP.Src,
		DstIP:    v.IP.Dst,
	}
	switch {
	case v.TCP != nil:
		f.SrcPort, f.DstPort = v.TCP.SrcPort, v.TCP.DstPort
	case v.UDP != nil:
		f.SrcPort, f.DstPort = v.UDP.SrcPort, v.UDP.DstPort
	case v.ICMP != nil && v.ICMP.Kind.IsQuery():
		f.SrcPort, f.DstPort = v.ICMP.ID, v.ICMP.ID
	}
	return f
}

// Payload returns the transport payload (ICMP data for ICMP).
func (v *PacketView) Payload() []byte {
	switch {
	case v.TCP != nil:
		return v.TCP.Payload
	case v.UDP != nil:
		return v.UDP.Payload
	case v.ICMP != nil:
		return v.ICMP.Data
	}
	return nil
}
