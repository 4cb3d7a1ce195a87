package manager

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"Go2NetSensor/internal/config"
	"Go2NetSensor/internal/engine/classifier"
	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/engine/tracker"
	"Go2NetSensor/internal/metrics"
	"Go2NetSensor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	scannerIP = net.IP{203, 0, 113, 9}
	darknetIP = net.IP{192, 0, 2, 10}
	t0        = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type memorySink struct {
	mu     sync.Mutex
	events []model.Event
	closed bool
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, string(ev.Kind)+":"+ev.SemanticCode)
	}
	return out
}

type memoryDump struct {
	mu      sync.Mutex
	frames  []model.Frame
	stopped bool
}

func (d *memoryDump) Enqueue(f model.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
	return true
}

func (d *memoryDump) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *memoryDump) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func testConfig(t *testing.T, edit func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sensor.MonitoredCIDRs = []string{"192.0.2.0/24"}
	cfg.Engine.NumWorkers = 2
	cfg.Engine.NumShards = 8
	cfg.Engine.Backpressure = "block"
	cfg.Sinks.FlushInterval = "10ms"
	if edit != nil {
		edit(cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *memorySink, *memoryDump, *metrics.Metrics) {
	t.Helper()
	sink := &memorySink{}
	dump := &memoryDump{}
	mtr := metrics.NewMetrics()
	m, err := NewManager(cfg, zaptest.NewLogger(t), mtr, WithSinks(sink), WithDumper(dump))
	require.NoError(t, err)
	return m, sink, dump, mtr
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("Failed to serialize layers: %v", err)
	}
	return buf.Bytes()
}

func ethernet() *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa},
		EthernetType: layers.EthernetTypeIPv4,
	}
}

func tcpFrame(t testing.TB, src, dst net.IP, sport, dport layers.TCPPort, ts time.Time, set func(*layers.TCP)) model.Frame {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: sport, DstPort: dport, Window: 1024}
	set(tcp)
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return model.Frame{Data: serialize(t, ethernet(), ip, tcp), Timestamp: ts, InterfaceID: "eth0", LinkType: layers.LinkTypeEthernet}
}

func udpFrame(t testing.TB, sport layers.UDPPort, ts time.Time) model.Frame {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: scannerIP, DstIP: darknetIP}
	udp := &layers.UDP{SrcPort: sport, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return model.Frame{Data: serialize(t, ethernet(), ip, udp), Timestamp: ts, InterfaceID: "eth0", LinkType: layers.LinkTypeEthernet}
}

func TestManagerPipelineAndShutdownFlush(t *testing.T) {
	m, sink, dump, mtr := newTestManager(t, testConfig(t, nil))
	m.Start()
	assert.True(t, m.Running())

	syn := tcpFrame(t, scannerIP, darknetIP, 40000, 23, t0, func(p *layers.TCP) { p.SYN = true })
	synAck := tcpFrame(t, darknetIP, scannerIP, 23, 40000, t0.Add(time.Millisecond), func(p *layers.TCP) { p.SYN, p.ACK = true, true })
	assert.True(t, m.Deliver(syn))
	assert.True(t, m.Deliver(synAck))
	assert.False(t, m.Deliver(model.Frame{Data: make([]byte, 10), LinkType: layers.LinkTypeEthernet}))

	require.Eventually(t, func() bool { return len(m.Flows()) == 1 && len(sink.labels()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.False(t, m.Running())
	assert.False(t, m.Deliver(syn))

	assert.Equal(t, []string{"tcp:syn", "tcp:flow_established", "connection_closed:evicted_shutdown"}, sink.labels())
	assert.True(t, sink.closed)
	assert.True(t, dump.stopped)
	assert.Equal(t, 1, dump.count())

	stats := m.Stats()
	assert.Equal(t, uint64(4), stats.FramesReceived)
	assert.Equal(t, uint64(1), stats.Discarded["truncated"])
	assert.Equal(t, uint64(3), stats.Events)
	assert.Equal(t, 0, stats.ActiveFlows)
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.Discarded.WithLabelValues("truncated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mtr.Events.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.Transitions.WithLabelValues("EVICTED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(mtr.SinkWrites.WithLabelValues("memory")))
}

func TestManagerUnmonitoredNotDumped(t *testing.T) {
	m, _, dump, _ := newTestManager(t, testConfig(t, nil))
	m.Start()

	other := net.IP{198, 51, 100, 7}
	assert.False(t, m.Deliver(tcpFrame(t, scannerIP, other, 40000, 23, t0, func(p *layers.TCP) { p.SYN = true })))
	require.NoError(t, m.Stop())

	assert.Equal(t, uint64(1), m.Stats().Discarded[classifier.ReasonUnmonitored])
	assert.Equal(t, 0, dump.count())
}

func TestManagerSweepsWithCaptureClock(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Engine.Clock = "capture"
		c.Engine.IdleTimeoutSeconds = 1
		c.Engine.SweepInterval = "10ms"
	})
	m, sink, _, _ := newTestManager(t, cfg)
	m.Start()
	defer m.Stop()

	m.Deliver(udpFrame(t, 5353, t0))
	// A later frame moves the capture clock past the idle timeout.
	m.Deliver(udpFrame(t, 5354, t0.Add(5*time.Second)))

	require.Eventually(t, func() bool {
		for _, l := range sink.labels() {
			if l == "connection_closed:evicted_idle_timeout" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	flows := m.Flows()
	require.Len(t, flows, 1)
	assert.Equal(t, uint16(5354), flows[0].Identity.SrcPort)
}

func TestManagerReplayHonoursIdleTimeout(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Engine.Clock = "capture"
		c.Engine.IdleTimeoutSeconds = 300
		c.Engine.SweepInterval = "1h"
	})
	m, sink, _, mtr := newTestManager(t, cfg)
	m.Start()

	// Replay delivers both frames long before any wall-clock sweep.
	assert.True(t, m.Deliver(udpFrame(t, 5353, t0)))
	assert.True(t, m.Deliver(udpFrame(t, 5353, t0.Add(time.Hour))))
	require.NoError(t, m.Stop())

	assert.Equal(t, []string{
		"udp:udp_empty_probe",
		"connection_closed:evicted_idle_timeout",
		"udp:udp_empty_probe",
		"connection_closed:evicted_shutdown",
	}, sink.labels())

	sink.mu.Lock()
	idle, shutdown := sink.events[1], sink.events[3]
	sink.mu.Unlock()
	require.NotNil(t, idle.Counters)
	assert.Equal(t, uint64(1), idle.Counters.PacketsToServer)
	assert.True(t, idle.Counters.LastSeen.Equal(t0))
	require.NotNil(t, shutdown.Counters)
	assert.True(t, shutdown.Counters.FirstSeen.Equal(t0.Add(time.Hour)))
	assert.Equal(t, 2.0, testutil.ToFloat64(mtr.Transitions.WithLabelValues("EVICTED")))
}

func TestManagerCaptureClockTriggersSweep(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Engine.Clock = "capture"
		c.Engine.NumWorkers = 1
		c.Engine.IdleTimeoutSeconds = 60
		c.Engine.SweepInterval = "30s"
	})
	m, sink, _, _ := newTestManager(t, cfg)
	m.Start()
	defer m.Stop()

	m.Deliver(udpFrame(t, 5353, t0))
	m.Deliver(udpFrame(t, 5354, t0.Add(50*time.Second)))
	// The wall ticker never fires within the test; capture time alone
	// drives the sweep once the clock passes the idle timeout.
	m.Deliver(udpFrame(t, 5355, t0.Add(90*time.Second)))
	m.Deliver(udpFrame(t, 5356, t0.Add(130*time.Second)))

	require.Eventually(t, func() bool {
		for _, l := range sink.labels() {
			if l == "connection_closed:evicted_idle_timeout" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := m.flows.Lookup(model.FlowIdentity{
		Protocol: protocol.ProtoUDP,
		SrcIP:    netip.AddrFrom4([4]byte(scannerIP.To4())),
		DstIP:    netip.AddrFrom4([4]byte(darknetIP.To4())),
		SrcPort:  5353,
		DstPort:  53,
	})
	assert.False(t, ok)
}

func TestManagerRecoversFromPanic(t *testing.T) {
	m, sink, _, mtr := newTestManager(t, testConfig(t, func(c *config.Config) { c.Engine.NumWorkers = 1 }))
	var once sync.Once
	classify := m.classify
	m.classify = func(v *protocol.PacketView, meta classifier.Meta) classifier.Outcome {
		var panicked bool
		once.Do(func() { panicked = true })
		if panicked {
			panic(&tracker.InvariantError{From: tracker.StateClosed, To: tracker.StateEstablished})
		}
		return classify(v, meta)
	}
	m.Start()

	m.Deliver(udpFrame(t, 5353, t0))
	m.Deliver(udpFrame(t, 5354, t0))
	require.NoError(t, m.Stop())

	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.ShardResets))
	assert.Equal(t, uint64(1), m.Stats().ShardResets)
	assert.Contains(t, sink.labels(), "udp:udp_empty_probe")
}

func TestManagerDropsWhenQueueFull(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Engine.Backpressure = "drop"
		c.Engine.NumWorkers = 1
		c.Engine.ChannelSize = 1
	})
	m, sink, _, mtr := newTestManager(t, cfg)

	// Workers are not running yet, so the second frame finds the queue full.
	assert.True(t, m.Deliver(udpFrame(t, 5353, t0)))
	assert.False(t, m.Deliver(udpFrame(t, 5354, t0)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mtr.FramesDropped))

	m.Start()
	require.NoError(t, m.Stop())
	assert.Equal(t, []string{"udp:udp_empty_probe", "connection_closed:evicted_shutdown"}, sink.labels())
	assert.Equal(t, uint64(1), m.Stats().FramesDropped)
}
