package model

import "time"

// EventKind is the top-level category of a classification event.
type EventKind string

const (
	KindICMP             EventKind = "icmp"
	KindTCP              EventKind = "tcp"
	KindUDP              EventKind = "udp"
	KindConnectionClosed EventKind = "connection_closed"
)

// Transition describes a flow state change carried by an event.
type Transition struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// OptionRecord is a decoded IP or TCP option. Data is hex encoded.
type OptionRecord struct {
	Code   uint8  `json:"code"`
	Name   string `json:"name"`
	Length int    `json:"length"`
	Data   string `json:"data,omitempty"`
}

// IPDetails holds the IPv4 header fields worth keeping on an event.
type IPDetails struct {
	TTL              uint8          `json:"ttl"`
	TOS              uint8          `json:"tos"`
	ID               uint16         `json:"id"`
	Flags            uint8          `json:"flags"`
	TotalLength      uint16         `json:"total_length"`
	Options          []OptionRecord `json:"options,omitempty"`
	OptionsTruncated string         `json:"options_truncated,omitempty"`
	Padding          string         `json:"padding,omitempty"`
}

// ICMPDetails describes an ICMP message. Embedded is set for error messages
// whose quoted datagram could be decoded.
type ICMPDetails struct {
	Type          uint8         `json:"type"`
	Code          uint8         `json:"code"`
	TypeName      string        `json:"type_name"`
	CodeName      string        `json:"code_name"`
	ID            uint16        `json:"id,omitempty"`
	Seq           uint16        `json:"seq,omitempty"`
	Embedded      *FlowIdentity `json:"embedded,omitempty"`
	EmbeddedError string        `json:"embedded_error,omitempty"`
}

// TCPDetails describes a TCP segment.
type TCPDetails struct {
	Flags            uint16         `json:"flags"`
	FlagNames        []string       `json:"flag_names,omitempty"`
	Seq              uint32         `json:"seq"`
	Ack              uint32         `json:"ack"`
	Window           uint16         `json:"window"`
	Options          []OptionRecord `json:"options,omitempty"`
	OptionsTruncated string         `json:"options_truncated,omitempty"`
	Padding          string         `json:"padding,omitempty"`
}

// UDPDetails describes a UDP datagram.
type UDPDetails struct {
	Length uint16 `json:"length"`
}

// PayloadDetails fingerprints the transport payload.
type PayloadDetails struct {
	Length int    `json:"length"`
	SHA1   string `json:"sha1,omitempty"`
}

// FlowCounters summarises a flow when it is closed or evicted.
type FlowCounters struct {
	PacketsToServer uint64    `json:"packets_toserver"`
	PacketsToClient uint64    `json:"packets_toclient"`
	BytesToServer   uint64    `json:"bytes_toserver"`
	BytesToClient   uint64    `json:"bytes_toclient"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// Event is a single classification result handed to the sinks.
type Event struct {
	Timestamp    time.Time       `json:"timestamp"`
	InterfaceID  string          `json:"interface,omitempty"`
	Kind         EventKind       `json:"kind"`
	SemanticCode string          `json:"semantic_code"`
	RawCode      uint32          `json:"raw_code"`
	Flow         FlowIdentity    `json:"flow"`
	Transition   *Transition     `json:"transition,omitempty"`
	IP           *IPDetails      `json:"ip,omitempty"`
	ICMP         *ICMPDetails    `json:"icmp,omitempty"`
	TCP          *TCPDetails     `json:"tcp,omitempty"`
	UDP          *UDPDetails     `json:"udp,omitempty"`
	Payload      *PayloadDetails `json:"payload,omitempty"`
	Counters     *FlowCounters   `json:"counters,omitempty"`
	// Orphan is set on ICMP errors that quote no tracked flow.
	Orphan  bool `json:"orphan,omitempty"`
	Tainted bool `json:"tainted,omitempty"`
}
