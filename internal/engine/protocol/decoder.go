package protocol

import (
	"encoding/binary"
	"net/netip"

	"Go2NetSensor/internal/engine/registry"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Decode validates a captured frame and returns a view over it. The buffer is
// never written and never read past its end. Link types other than Ethernet,
// Linux cooked capture and raw IPv4 are unsupported.
func Decode(data []byte, linkType layers.LinkType) (*PacketView, error) {
	v := &PacketView{FrameLen: len(data)}

	network, err := decodeLink(data, linkType, v)
	if err != nil {
		return nil, err
	}

	payload, captureTruncated, err := decodeIPv4(network, &v.IP)
	if err != nil {
		return nil, err
	}
	v.CaptureTruncated = captureTruncated
	if v.IP.FragOffset != 0 {
		return nil, &DecodeError{Kind: ErrFragment, Layer: "ipv4"}
	}

	switch v.IP.Protocol {
	case ProtoICMP:
		v.ICMP, err = decodeICMP(payload)
	case ProtoTCP:
		v.TCP, err = decodeTCP(payload)
	case ProtoUDP:
		v.UDP, err = decodeUDP(payload)
	default:
		err = unsupported("ipv4")
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeLink(data []byte, linkType layers.LinkType, v *PacketView) ([]byte, error) {
	switch linkType {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		if len(data) < IPOrTCPHeaderMinLen {
			return nil, truncated("ipv4", IPOrTCPHeaderMinLen, len(data))
		}
		return data, nil

	case layers.LinkTypeLinuxSLL:
		if len(data) < LinuxSLLHeaderLen+IPOrTCPHeaderMinLen {
			return nil, truncated("linux_sll", LinuxSLLHeaderLen+IPOrTCPHeaderMinLen, len(data))
		}
		var sll layers.LinuxSLL
		if err := sll.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, truncated("linux_sll", LinuxSLLHeaderLen, len(data))
		}
		v.LinkLen = LinuxSLLHeaderLen
		return etherPayload(sll.EthernetType, sll.Payload, v)

	case layers.LinkTypeEthernet:
		if len(data) < EthernetHeaderLen+IPOrTCPHeaderMinLen {
			return nil, truncated("ethernet", EthernetHeaderLen+IPOrTCPHeaderMinLen, len(data))
		}
		var eth layers.Ethernet
		if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, truncated("ethernet", EthernetHeaderLen, len(data))
		}
		v.LinkLen = EthernetHeaderLen
		return etherPayload(eth.EthernetType, eth.Payload, v)
	}
	return nil, unsupported("link:" + linkType.String())
}

// etherPayload unwraps a single 802.1Q tag and checks the EtherType is IPv4.
func etherPayload(etherType layers.EthernetType, payload []byte, v *PacketView) ([]byte, error) {
	if etherType == layers.EthernetTypeDot1Q {
		if len(payload) < Dot1QHeaderLen+IPOrTCPHeaderMinLen {
			return nil, truncated("dot1q", Dot1QHeaderLen+IPOrTCPHeaderMinLen, len(payload))
		}
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return nil, truncated("dot1q", Dot1QHeaderLen, len(payload))
		}
		v.LinkLen += Dot1QHeaderLen
		v.VLAN = tag.VLANIdentifier
		v.HasVLAN = true
		etherType, payload = tag.Type, tag.Payload
	}
	if etherType != layers.EthernetTypeIPv4 {
		return nil, unsupported("ethertype:" + etherType.String())
	}
	return payload, nil
}

// decodeIPv4 fills ip from b and returns the IP payload bounded by the total
// length field. The bool result is set when the datagram was cut short by
// the capture.
func decodeIPv4(b []byte, ip *IPv4) ([]byte, bool, error) {
	if len(b) < IPOrTCPHeaderMinLen {
		return nil, false, truncated("ipv4", IPOrTCPHeaderMinLen, len(b))
	}
	ip.Version = b[0] >> 4
	if ip.Version != 4 {
		return nil, false, unsupported("ipv4")
	}
	ip.IHL = b[0] & 0x0f
	hlen := ip.HeaderLen()
	if hlen < IPOrTCPHeaderMinLen || hlen > len(b) {
		return nil, false, invalidLength("ipv4", hlen, len(b))
	}

	ip.TOS = b[1]
	ip.TotalLength = binary.BigEndian.Uint16(b[2:4])
	ip.ID = binary.BigEndian.Uint16(b[4:6])
	frag := binary.BigEndian.Uint16(b[6:8])
	ip.Flags = uint8(frag >> 13)
	ip.FragOffset = frag & 0x1fff
	ip.TTL = b[8]
	ip.Protocol = b[9]
	ip.Checksum = binary.BigEndian.Uint16(b[10:12])
	ip.Src = netip.AddrFrom4([4]byte(b[12:16]))
	ip.Dst = netip.AddrFrom4([4]byte(b[16:20]))
	ip.Options = b[IPOrTCPHeaderMinLen:hlen]

	total := int(ip.TotalLength)
	if total == 0 {
		// Segmentation offload leaves the field unset.
		total = len(b)
	}
	if total < hlen {
		return nil, false, invalidLength("ipv4", hlen, total)
	}
	if total > len(b) {
		return b[hlen:], true, nil
	}
	return b[hlen:total], false, nil
}

func decodeICMP(b []byte) (*ICMP, error) {
	if len(b) < ICMPHeaderLen {
		return nil, truncated("icmp", ICMPHeaderLen, len(b))
	}
	icmp := &ICMP{
		Kind:     registry.ResolveICMP(b[0], b[1]),
		Checksum: binary.BigEndian.Uint16(b[2:4]),
		Data:     b[ICMPHeaderLen:],
	}
	if icmp.Kind.IsQuery() {
		icmp.ID = binary.BigEndian.Uint16(b[4:6])
		icmp.Seq = binary.BigEndian.Uint16(b[6:8])
	}
	if icmp.Kind.IsError() {
		icmp.Embedded, icmp.EmbeddedErr = decodeEmbedded(icmp.Data)
	}
	return icmp, nil
}

// decodeEmbedded decodes the datagram quoted by an ICMP error: an IPv4 header
// followed by at least eight transport bytes.
func decodeEmbedded(b []byte) (*Embedded, error) {
	e := &Embedded{}
	payload, _, err := decodeIPv4(b, &e.IP)
	if err != nil {
		return nil, err
	}
	if e.IP.FragOffset != 0 {
		return nil, &DecodeError{Kind: ErrFragment, Layer: "embedded_ipv4"}
	}
	if len(payload) < 8 {
		return nil, truncated("embedded_transport", 8, len(payload))
	}
	switch e.IP.Protocol {
	case ProtoTCP, ProtoUDP:
		e.SrcPort = binary.BigEndian.Uint16(payload[0:2])
		e.DstPort = binary.BigEndian.Uint16(payload[2:4])
	case ProtoICMP:
		if registry.ResolveICMP(payload[0], payload[1]).IsQuery() {
			id := binary.BigEndian.Uint16(payload[4:6])
			e.SrcPort, e.DstPort = id, id
		}
	}
	return e, nil
}

func decodeTCP(b []byte) (*TCP, error) {
	if len(b) < IPOrTCPHeaderMinLen {
		return nil, truncated("tcp", IPOrTCPHeaderMinLen, len(b))
	}
	tcp := &TCP{
		SrcPort:    binary.BigEndian.Uint16(b[0:2]),
		DstPort:    binary.BigEndian.Uint16(b[2:4]),
		Seq:        binary.BigEndian.Uint32(b[4:8]),
		Ack:        binary.BigEndian.Uint32(b[8:12]),
		DataOffset: b[12] >> 4,
		Flags:      TCPFlags(b[12]&0x01)<<8 | TCPFlags(b[13]),
		Window:     binary.BigEndian.Uint16(b[14:16]),
		Checksum:   binary.BigEndian.Uint16(b[16:18]),
		Urgent:     binary.BigEndian.Uint16(b[18:20]),
	}
	hlen := int(tcp.DataOffset) * 4
	if hlen < IPOrTCPHeaderMinLen || hlen > len(b) {
		return nil, invalidLength("tcp", hlen, len(b))
	}
	tcp.Options = b[IPOrTCPHeaderMinLen:hlen]
	tcp.Payload = b[hlen:]
	return tcp, nil
}

func decodeUDP(b []byte) (*UDP, error) {
	if len(b) < UDPHeaderLen {
		return nil, truncated("udp", UDPHeaderLen, len(b))
	}
	udp := &UDP{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Length:   binary.BigEndian.Uint16(b[4:6]),
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}
	if udp.Length < UDPHeaderLen {
		return nil, invalidLength("udp", UDPHeaderLen, int(udp.Length))
	}
	end := min(int(udp.Length), len(b))
	udp.Payload = b[UDPHeaderLen:end]
	return udp, nil
}
