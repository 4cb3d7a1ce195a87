package registry

// IPv4 option numbers. The copy flag (0x80) and class bits are part of the
// number as it appears on the wire.
const (
	IPOptEOOL   uint8 = 0x00
	IPOptNOP    uint8 = 0x01
	IPOptRR     uint8 = 0x07
	IPOptZSU    uint8 = 0x0a
	IPOptMTUP   uint8 = 0x0b
	IPOptMTUR   uint8 = 0x0c
	IPOptENCODE uint8 = 0x0f
	IPOptQS     uint8 = 0x19
	IPOptEXP    uint8 = 0x1e
	IPOptTS     uint8 = 0x44
	IPOptTR     uint8 = 0x52
	IPOptSEC    uint8 = 0x82
	IPOptLSR    uint8 = 0x83
	IPOptESEC   uint8 = 0x85
	IPOptCIPSO  uint8 = 0x86
	IPOptSID    uint8 = 0x88
	IPOptSSR    uint8 = 0x89
	IPOptVISA   uint8 = 0x8e
	IPOptIMITD  uint8 = 0x90
	IPOptEIP    uint8 = 0x91
	IPOptADDEXT uint8 = 0x93
	IPOptRTRALT uint8 = 0x94
	IPOptSDB    uint8 = 0x95
	IPOptUN     uint8 = 0x96
	IPOptDPS    uint8 = 0x97
	IPOptUMP    uint8 = 0x98
	IPOptFINN   uint8 = 0xcd
)

var ipOptions = map[uint8]optionEntry{
	IPOptEOOL:   {"end_of_options_list", Fixed(1)},
	IPOptNOP:    {"no_operation", Fixed(1)},
	IPOptRR:     {"record_route", Variable(3)},
	IPOptZSU:    {"experimental_measurement", Variable(2)},
	IPOptMTUP:   {"mtu_probe", Fixed(4)},
	IPOptMTUR:   {"mtu_reply", Fixed(4)},
	IPOptENCODE: {"encode", Variable(2)},
	IPOptQS:     {"quick_start", Fixed(8)},
	IPOptEXP:    {"experimental", Variable(2)},
	IPOptTS:     {"timestamp", Variable(4)},
	IPOptTR:     {"traceroute", Fixed(12)},
	IPOptSEC:    {"security", Variable(3)},
	IPOptLSR:    {"loose_source_route", Variable(3)},
	IPOptESEC:   {"extended_security", Variable(3)},
	IPOptCIPSO:  {"commercial_security", Variable(6)},
	IPOptSID:    {"stream_id", Fixed(4)},
	IPOptSSR:    {"strict_source_route", Variable(3)},
	IPOptVISA:   {"visa", Variable(2)},
	IPOptIMITD:  {"imi_traffic_descriptor", Variable(2)},
	IPOptEIP:    {"extended_ip", Variable(2)},
	IPOptADDEXT: {"address_extension", Variable(2)},
	IPOptRTRALT: {"router_alert", Fixed(4)},
	IPOptSDB:    {"selective_directed_broadcast", Variable(2)},
	IPOptUN:     {"unassigned_150", Variable(2)},
	IPOptDPS:    {"dynamic_packet_state", Variable(2)},
	IPOptUMP:    {"upstream_multicast_packet", Variable(2)},
	IPOptFINN:   {"experimental_flow_control", Variable(2)},
}

// ResolveIPOption maps an IPv4 option number to its description.
func ResolveIPOption(number uint8) OptionSpec {
	return resolveOption(ipOptions, number)
}

// IPOptionCopied reports whether the option must be copied into fragments.
func IPOptionCopied(number uint8) bool { return number&0x80 != 0 }

// IPOptionClass returns the option class bits (0 control, 2 debugging and
// measurement).
func IPOptionClass(number uint8) uint8 { return (number >> 5) & 0x03 }
