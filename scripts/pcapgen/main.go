package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

type generator struct {
	w    *pcapgo.Writer
	rng  *rand.Rand
	dark *net.IPNet
	ts   time.Time
	n    int
}

func main() {
	outputFile := flag.String("o", "darknet.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of scan rounds to generate")
	darknet := flag.String("net", "192.0.2.0/24", "Monitored IPv4 range the traffic targets")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	_, dark, err := net.ParseCIDR(*darknet)
	if err != nil || dark.IP.To4() == nil {
		log.Fatalf("Invalid darknet range %q", *darknet)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	g := &generator{
		w:    pcapWriter,
		rng:  rand.New(rand.NewSource(*seed)),
		dark: dark,
		ts:   time.Now(),
	}

	log.Printf("Generating %d rounds into %s...", *packetCount, *outputFile)
	for i := 0; i < *packetCount; i++ {
		switch g.rng.Intn(10) {
		case 0, 1, 2, 3:
			g.synScan()
		case 4:
			g.handshake()
		case 5, 6:
			g.udpProbe()
		case 7:
			g.portUnreachable()
		case 8:
			g.stealthScan()
		default:
			g.malformedOptions()
		}
	}
	log.Printf("Successfully generated %d packets into %s.", g.n, *outputFile)
}

func (g *generator) scanner() net.IP {
	// A small scanner population so the heavy-hitter table has something to rank.
	return net.IPv4(203, 0, 113, byte(g.rng.Intn(16)+1)).To4()
}

func (g *generator) target() net.IP {
	ip := make(net.IP, 4)
	copy(ip, g.dark.IP.To4())
	ones, _ := g.dark.Mask.Size()
	host := g.rng.Uint32() & (1<<(32-ones) - 1)
	ip[0] |= byte(host >> 24)
	ip[1] |= byte(host >> 16)
	ip[2] |= byte(host >> 8)
	ip[3] |= byte(host)
	return ip
}

func (g *generator) port() layers.TCPPort {
	common := []layers.TCPPort{22, 23, 80, 443, 445, 3389, 8080}
	if g.rng.Intn(3) == 0 {
		return layers.TCPPort(g.rng.Intn(65535) + 1)
	}
	return common[g.rng.Intn(len(common))]
}

func (g *generator) ipv4(src, dst net.IP, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		SrcIP:    src,
		DstIP:    dst,
		Version:  4,
		TTL:      uint8(g.rng.Intn(200) + 40),
		Id:       uint16(g.rng.Intn(65536)),
		Protocol: proto,
	}
}

func (g *generator) write(ls ...gopacket.SerializableLayer) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	if err := gopacket.SerializeLayers(buf, opts, append([]gopacket.SerializableLayer{eth}, ls...)...); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	g.writeRaw(buf.Bytes())
}

func (g *generator) writeRaw(data []byte) {
	g.ts = g.ts.Add(time.Duration(g.rng.Intn(5000)) * time.Microsecond)
	ci := gopacket.CaptureInfo{Timestamp: g.ts, CaptureLength: len(data), Length: len(data)}
	if err := g.w.WritePacket(ci, data); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
	g.n++
	if g.n%100000 == 0 {
		log.Printf("Generated %d packets...", g.n)
	}
}

func (g *generator) tcp(src, dst net.IP, sport, dport layers.TCPPort, seq, ack uint32, set func(*layers.TCP), payload []byte) {
	ip := g.ipv4(src, dst, layers.IPProtocolTCP)
	t := &layers.TCP{SrcPort: sport, DstPort: dport, Seq: seq, Ack: ack, Window: 14600}
	set(t)
	t.SetNetworkLayerForChecksum(ip)
	if payload != nil {
		g.write(ip, t, gopacket.Payload(payload))
		return
	}
	g.write(ip, t)
}

func (g *generator) synScan() {
	src, dst := g.scanner(), g.target()
	sport := layers.TCPPort(g.rng.Intn(65535-1024) + 1024)
	g.tcp(src, dst, sport, g.port(), g.rng.Uint32(), 0, func(t *layers.TCP) {
		t.SYN = true
		t.Options = []layers.TCPOption{
			{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
		}
	}, nil)
}

// handshake plays a full connection from a scanner against a responder in
// the monitored range.
func (g *generator) handshake() {
	cli, srv := g.scanner(), g.target()
	cport := layers.TCPPort(g.rng.Intn(65535-1024) + 1024)
	sport := g.port()
	cseq, sseq := g.rng.Uint32(), g.rng.Uint32()

	g.tcp(cli, srv, cport, sport, cseq, 0, func(t *layers.TCP) { t.SYN = true }, nil)
	g.tcp(srv, cli, sport, cport, sseq, cseq+1, func(t *layers.TCP) { t.SYN, t.ACK = true, true }, nil)
	g.tcp(cli, srv, cport, sport, cseq+1, sseq+1, func(t *layers.TCP) { t.ACK = true }, nil)
	payload := []byte("GET / HTTP/1.0\r\n\r\n")
	g.tcp(cli, srv, cport, sport, cseq+1, sseq+1, func(t *layers.TCP) { t.ACK, t.PSH = true, true }, payload)
	cseq += uint32(len(payload))
	g.tcp(cli, srv, cport, sport, cseq+1, sseq+1, func(t *layers.TCP) { t.FIN, t.ACK = true, true }, nil)
	g.tcp(srv, cli, sport, cport, sseq+1, cseq+2, func(t *layers.TCP) { t.FIN, t.ACK = true, true }, nil)
	g.tcp(cli, srv, cport, sport, cseq+2, sseq+2, func(t *layers.TCP) { t.ACK = true }, nil)
}

func (g *generator) stealthScan() {
	src, dst := g.scanner(), g.target()
	sport := layers.TCPPort(g.rng.Intn(65535-1024) + 1024)
	g.tcp(src, dst, sport, g.port(), g.rng.Uint32(), 0, func(t *layers.TCP) {
		switch g.rng.Intn(3) {
		case 0: // null
		case 1:
			t.FIN, t.PSH, t.URG = true, true, true
		default:
			t.FIN = true
		}
	}, nil)
}

func (g *generator) udpProbe() {
	src, dst := g.scanner(), g.target()
	ports := []layers.UDPPort{53, 123, 161, 1900, 5060}
	ip := g.ipv4(src, dst, layers.IPProtocolUDP)
	u := &layers.UDP{SrcPort: layers.UDPPort(g.rng.Intn(65535-1024) + 1024), DstPort: ports[g.rng.Intn(len(ports))]}
	u.SetNetworkLayerForChecksum(ip)
	if g.rng.Intn(4) == 0 {
		g.write(ip, u)
		return
	}
	payload := make([]byte, g.rng.Intn(64)+1)
	g.rng.Read(payload)
	g.write(ip, u, gopacket.Payload(payload))
}

// portUnreachable is backscatter: a monitored host answers a spoofed UDP
// probe with an ICMP error quoting it.
func (g *generator) portUnreachable() {
	victim, dark := g.scanner(), g.target()
	inner := g.ipv4(dark, victim, layers.IPProtocolUDP)
	u := &layers.UDP{SrcPort: layers.UDPPort(g.rng.Intn(65535-1024) + 1024), DstPort: 53}
	u.SetNetworkLayerForChecksum(inner)
	quoted := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(quoted, gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}, inner, u); err != nil {
		log.Fatalf("Failed to serialize quoted datagram: %v", err)
	}

	ip := g.ipv4(victim, dark, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePort)}
	g.write(ip, icmp, gopacket.Payload(quoted.Bytes()))
}

// malformedOptions emits a SYN whose option list overruns its header.
func (g *generator) malformedOptions() {
	src, dst := g.scanner(), g.target()
	sport := layers.TCPPort(g.rng.Intn(65535-1024) + 1024)
	buf := gopacket.NewSerializeBuffer()
	ip := g.ipv4(src, dst, layers.IPProtocolTCP)
	t := &layers.TCP{SrcPort: sport, DstPort: g.port(), Seq: g.rng.Uint32(), SYN: true, Window: 1024}
	t.SetNetworkLayerForChecksum(ip)
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}, eth, ip, t); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	data := buf.Bytes()
	// Widen the TCP header to 24 bytes and declare a window scale option
	// of length 10 in the 4 option bytes.
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, data...)
	frame = append(frame, 0x03, 0x0a, 0x07, 0x00)
	tcpOff := 14 + 20
	frame[tcpOff+12] = 6 << 4
	total := len(frame) - 14
	frame[14+2], frame[14+3] = byte(total>>8), byte(total)
	setIPChecksum(frame[14 : 14+20])
	g.writeRaw(frame)
}

func setIPChecksum(hdr []byte) {
	hdr[10], hdr[11] = 0, 0
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	for sum > 0xffff {
		sum = sum&0xffff + sum>>16
	}
	cs := ^uint16(sum)
	hdr[10], hdr[11] = byte(cs>>8), byte(cs)
}
