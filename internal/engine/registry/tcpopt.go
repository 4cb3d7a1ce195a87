package registry

// TCP option kinds.
const (
	TCPOptEOL       uint8 = 0
	TCPOptNOP       uint8 = 1
	TCPOptMSS       uint8 = 2
	TCPOptWindow    uint8 = 3
	TCPOptSACKPerm  uint8 = 4
	TCPOptSACK      uint8 = 5
	TCPOptEcho      uint8 = 6
	TCPOptEchoReply uint8 = 7
	TCPOptTimestamp uint8 = 8
	TCPOptCC        uint8 = 11
	TCPOptCCNew     uint8 = 12
	TCPOptCCEcho    uint8 = 13
	TCPOptMD5       uint8 = 19
	TCPOptSCPS      uint8 = 20
	TCPOptSNACK     uint8 = 21
	TCPOptRecBound  uint8 = 22
	TCPOptCorrExp   uint8 = 23
	TCPOptQS        uint8 = 27
	TCPOptUserTO    uint8 = 28
	TCPOptAO        uint8 = 29
	TCPOptMPTCP     uint8 = 30
	TCPOptFastOpen  uint8 = 34
	TCPOptRvbdProbe uint8 = 76
	TCPOptRvbdTrpy  uint8 = 78
	TCPOptExp1      uint8 = 253
	TCPOptExp2      uint8 = 254
)

var tcpOptions = map[uint8]optionEntry{
	TCPOptEOL:       {"end_of_options_list", Fixed(1)},
	TCPOptNOP:       {"no_operation", Fixed(1)},
	TCPOptMSS:       {"maximum_segment_size", Fixed(4)},
	TCPOptWindow:    {"window_scale", Fixed(3)},
	TCPOptSACKPerm:  {"sack_permitted", Fixed(2)},
	TCPOptSACK:      {"sack", Variable(2)},
	TCPOptEcho:      {"echo", Fixed(6)},
	TCPOptEchoReply: {"echo_reply", Fixed(6)},
	TCPOptTimestamp: {"timestamp", Fixed(10)},
	TCPOptCC:        {"connection_count", Fixed(6)},
	TCPOptCCNew:     {"connection_count_new", Fixed(6)},
	TCPOptCCEcho:    {"connection_count_echo", Fixed(6)},
	TCPOptMD5:       {"md5_signature", Fixed(18)},
	TCPOptSCPS:      {"scps_capabilities", Fixed(4)},
	TCPOptSNACK:     {"selective_negative_ack", Fixed(6)},
	TCPOptRecBound:  {"record_boundaries", Fixed(2)},
	TCPOptCorrExp:   {"corruption_experienced", Fixed(2)},
	TCPOptQS:        {"quick_start_response", Fixed(8)},
	TCPOptUserTO:    {"user_timeout", Fixed(4)},
	TCPOptAO:        {"tcp_authentication", Variable(4)},
	TCPOptMPTCP:     {"multipath_tcp", Variable(3)},
	TCPOptFastOpen:  {"fast_open_cookie", Variable(2)},
	TCPOptRvbdProbe: {"riverbed_probe", Variable(3)},
	TCPOptRvbdTrpy:  {"riverbed_transparency", Variable(16)},
	TCPOptExp1:      {"experimental_1", Variable(2)},
	TCPOptExp2:      {"experimental_2", Variable(2)},
}

// ResolveTCPOption maps a TCP option kind to its description and expected
// on-wire length.
func ResolveTCPOption(kind uint8) (OptionSpec, ExpectedLength) {
	spec := resolveOption(tcpOptions, kind)
	return spec, spec.Length
}
