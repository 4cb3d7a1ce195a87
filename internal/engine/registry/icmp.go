package registry

import "fmt"

// ICMPClass groups ICMP types by how the sensor treats them.
type ICMPClass uint8

const (
	// ICMPClassOther covers informational messages without identifier or
	// embedded datagram.
	ICMPClassOther ICMPClass = iota
	// ICMPClassQuery messages carry an identifier and sequence number.
	ICMPClassQuery
	// ICMPClassError messages carry the header of the datagram that caused them.
	ICMPClassError
)

func (c ICMPClass) String() string {
	switch c {
	case ICMPClassQuery:
		return "query"
	case ICMPClassError:
		return "error"
	default:
		return "other"
	}
}

// ICMP types known to the registry.
const (
	ICMPEchoReply           uint8 = 0
	ICMPDestUnreachable     uint8 = 3
	ICMPSourceQuench        uint8 = 4
	ICMPRedirect            uint8 = 5
	ICMPAlternateHost       uint8 = 6
	ICMPEchoRequest         uint8 = 8
	ICMPRouterAdvertisement uint8 = 9
	ICMPRouterSolicitation  uint8 = 10
	ICMPTimeExceeded        uint8 = 11
	ICMPParameterProblem    uint8 = 12
	ICMPTimestampRequest    uint8 = 13
	ICMPTimestampReply      uint8 = 14
	ICMPInfoRequest         uint8 = 15
	ICMPInfoReply           uint8 = 16
	ICMPAddressMaskRequest  uint8 = 17
	ICMPAddressMaskReply    uint8 = 18
	ICMPPhoturis            uint8 = 40
	ICMPExtendedEchoRequest uint8 = 42
	ICMPExtendedEchoReply   uint8 = 43
)

// Destination unreachable codes.
const (
	UnreachNet              uint8 = 0
	UnreachHost             uint8 = 1
	UnreachProtocol         uint8 = 2
	UnreachPort             uint8 = 3
	UnreachNeedFrag         uint8 = 4
	UnreachSrcRoute         uint8 = 5
	UnreachNetUnknown       uint8 = 6
	UnreachHostUnknown      uint8 = 7
	UnreachIsolated         uint8 = 8
	UnreachNetProhib        uint8 = 9
	UnreachHostProhib       uint8 = 10
	UnreachTOSNet           uint8 = 11
	UnreachTOSHost          uint8 = 12
	UnreachFilterProhib     uint8 = 13
	UnreachHostPrecedence   uint8 = 14
	UnreachPrecedenceCutoff uint8 = 15
)

// ICMPKind is the resolved meaning of an ICMP type/code pair.
type ICMPKind struct {
	Type     uint8
	Code     uint8
	TypeName string
	CodeName string
	// Semantic is the label carried on events, e.g. "port_unreachable".
	Semantic   string
	Recognized bool
	Class      ICMPClass
}

// IsError reports whether the message embeds an offending datagram.
func (k ICMPKind) IsError() bool { return k.Class == ICMPClassError }

// Closes reports whether the message ends the flow it quotes. Only
// destination unreachable and time exceeded do; redirect, source quench and
// parameter problem are advisory.
func (k ICMPKind) Closes() bool {
	return k.Type == ICMPDestUnreachable || k.Type == ICMPTimeExceeded
}

// IsQuery reports whether the message carries an identifier and sequence.
func (k ICMPKind) IsQuery() bool { return k.Class == ICMPClassQuery }

// RawCode packs the type and code into one number.
func (k ICMPKind) RawCode() uint32 { return uint32(k.Type)<<8 | uint32(k.Code) }

func (k ICMPKind) String() string {
	return fmt.Sprintf("%s(%d/%d)", k.Semantic, k.Type, k.Code)
}

type icmpTypeEntry struct {
	name  string
	class ICMPClass
	codes map[uint8]string
}

var icmpTypes = map[uint8]icmpTypeEntry{
	ICMPEchoReply: {name: "echo_reply", class: ICMPClassQuery},
	ICMPDestUnreachable: {name: "destination_unreachable", class: ICMPClassError, codes: map[uint8]string{
		UnreachNet:              "net_unreachable",
		UnreachHost:             "host_unreachable",
		UnreachProtocol:         "protocol_unreachable",
		UnreachPort:             "port_unreachable",
		UnreachNeedFrag:         "fragmentation_needed",
		UnreachSrcRoute:         "source_route_failed",
		UnreachNetUnknown:       "net_unknown",
		UnreachHostUnknown:      "host_unknown",
		UnreachIsolated:         "host_isolated",
		UnreachNetProhib:        "net_prohibited",
		UnreachHostProhib:       "host_prohibited",
		UnreachTOSNet:           "net_unreachable_for_tos",
		UnreachTOSHost:          "host_unreachable_for_tos",
		UnreachFilterProhib:     "packet_filtered",
		UnreachHostPrecedence:   "precedence_violation",
		UnreachPrecedenceCutoff: "precedence_cutoff",
	}},
	ICMPSourceQuench: {name: "source_quench", class: ICMPClassError},
	ICMPRedirect: {name: "redirect", class: ICMPClassError, codes: map[uint8]string{
		0: "redirect_network",
		1: "redirect_host",
		2: "redirect_tos_network",
		3: "redirect_tos_host",
	}},
	ICMPAlternateHost: {name: "alternate_host_address"},
	ICMPEchoRequest:   {name: "echo_request", class: ICMPClassQuery},
	ICMPRouterAdvertisement: {name: "router_advertisement", codes: map[uint8]string{
		0:  "normal_router_advertisement",
		16: "does_not_route_common_traffic",
	}},
	ICMPRouterSolicitation: {name: "router_solicitation"},
	ICMPTimeExceeded: {name: "time_exceeded", class: ICMPClassError, codes: map[uint8]string{
		0: "ttl_exceeded_in_transit",
		1: "fragment_reassembly_time_exceeded",
	}},
	ICMPParameterProblem: {name: "parameter_problem", class: ICMPClassError, codes: map[uint8]string{
		0: "pointer_indicates_error",
		1: "missing_required_option",
		2: "bad_length",
	}},
	ICMPTimestampRequest:   {name: "timestamp_request", class: ICMPClassQuery},
	ICMPTimestampReply:     {name: "timestamp_reply", class: ICMPClassQuery},
	ICMPInfoRequest:        {name: "information_request", class: ICMPClassQuery},
	ICMPInfoReply:          {name: "information_reply", class: ICMPClassQuery},
	ICMPAddressMaskRequest: {name: "address_mask_request", class: ICMPClassQuery},
	ICMPAddressMaskReply:   {name: "address_mask_reply", class: ICMPClassQuery},
	ICMPPhoturis: {name: "photuris", codes: map[uint8]string{
		0: "bad_spi",
		1: "authentication_failed",
		2: "decompression_failed",
		3: "decryption_failed",
		4: "need_authentication",
		5: "need_authorization",
	}},
	ICMPExtendedEchoRequest: {name: "extended_echo_request", class: ICMPClassQuery},
	ICMPExtendedEchoReply: {name: "extended_echo_reply", class: ICMPClassQuery, codes: map[uint8]string{
		0: "no_error",
		1: "malformed_query",
		2: "no_such_interface",
		3: "no_such_table_entry",
		4: "multiple_interfaces_satisfy_query",
	}},
}

// ResolveICMP maps an ICMP type/code pair to its semantic kind. Unknown types
// resolve to "unrecognized(T)", unknown codes of a known type to
// "<type>/unrecognized(C)".
func ResolveICMP(icmpType, code uint8) ICMPKind {
	kind := ICMPKind{Type: icmpType, Code: code}

	entry, ok := icmpTypes[icmpType]
	if !ok {
		kind.TypeName = Unrecognized(int(icmpType))
		kind.CodeName = Unrecognized(int(code))
		kind.Semantic = kind.TypeName
		return kind
	}
	kind.TypeName = entry.name
	kind.Class = entry.class

	if name, ok := entry.codes[code]; ok {
		kind.CodeName = name
		kind.Semantic = name
		kind.Recognized = true
		return kind
	}
	if len(entry.codes) == 0 && code == 0 {
		kind.CodeName = entry.name
		kind.Semantic = entry.name
		kind.Recognized = true
		return kind
	}

	kind.CodeName = Unrecognized(int(code))
	kind.Semantic = entry.name + "/" + kind.CodeName
	return kind
}
