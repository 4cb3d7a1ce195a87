package tracker

import (
	"net/netip"
	"testing"
	"time"

	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/engine/registry"
	"Go2NetSensor/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client = netip.MustParseAddr("203.0.113.9")
	server = netip.MustParseAddr("192.0.2.10")
	t0     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func tcpView(src, dst netip.Addr, sport, dport uint16, flags protocol.TCPFlags) *protocol.PacketView {
	return &protocol.PacketView{
		FrameLen: 54,
		LinkLen:  14,
		IP:       protocol.IPv4{Version: 4, IHL: 5, Protocol: protocol.ProtoTCP, Src: src, Dst: dst},
		TCP:      &protocol.TCP{SrcPort: sport, DstPort: dport, Flags: flags, DataOffset: 5},
	}
}

func udpView(src, dst netip.Addr, sport, dport uint16) *protocol.PacketView {
	return &protocol.PacketView{
		FrameLen: 50,
		LinkLen:  14,
		IP:       protocol.IPv4{Version: 4, IHL: 5, Protocol: protocol.ProtoUDP, Src: src, Dst: dst},
		UDP:      &protocol.UDP{SrcPort: sport, DstPort: dport, Length: 16},
	}
}

func icmpErrorView(quoted *protocol.Embedded) *protocol.PacketView {
	return &protocol.PacketView{
		FrameLen: 70,
		LinkLen:  14,
		IP:       protocol.IPv4{Version: 4, IHL: 5, Protocol: protocol.ProtoICMP, Src: client, Dst: server},
		ICMP: &protocol.ICMP{
			Kind:     registry.ResolveICMP(registry.ICMPDestUnreachable, registry.UnreachPort),
			Embedded: quoted,
		},
	}
}

func quotedUDP(src, dst netip.Addr, sport, dport uint16) *protocol.Embedded {
	return &protocol.Embedded{
		IP:      protocol.IPv4{Version: 4, IHL: 5, Protocol: protocol.ProtoUDP, Src: src, Dst: dst},
		SrcPort: sport,
		DstPort: dport,
	}
}

const (
	syn    = protocol.TCPFlagSYN
	synAck = protocol.TCPFlagSYN | protocol.TCPFlagACK
	ack    = protocol.TCPFlagACK
	finAck = protocol.TCPFlagFIN | protocol.TCPFlagACK
	rst    = protocol.TCPFlagRST
)

func states(trs []Transition) []State {
	var out []State
	for _, tr := range trs {
		out = append(out, tr.To)
	}
	return out
}

func TestTCPLifecycle(t *testing.T) {
	tr := New(Config{NumShards: 4})

	obs := tr.Observe(tcpView(client, server, 40000, 80, syn), t0)
	assert.True(t, obs.Opened)
	assert.Empty(t, obs.Transitions)
	assert.Equal(t, StateNew, obs.Flow.State)

	// Retransmitted SYN stays in NEW.
	obs = tr.Observe(tcpView(client, server, 40000, 80, syn), t0.Add(time.Second))
	assert.False(t, obs.Opened)
	assert.Empty(t, obs.Transitions)

	obs = tr.Observe(tcpView(server, client, 80, 40000, synAck), t0.Add(2*time.Second))
	require.Len(t, obs.Transitions, 1)
	assert.Equal(t, StateNew, obs.Transitions[0].From)
	assert.Equal(t, StateEstablished, obs.Transitions[0].To)

	obs = tr.Observe(tcpView(client, server, 40000, 80, ack), t0.Add(3*time.Second))
	assert.Empty(t, obs.Transitions)

	obs = tr.Observe(tcpView(client, server, 40000, 80, finAck), t0.Add(4*time.Second))
	require.Len(t, obs.Transitions, 1)
	assert.Equal(t, StateClosing, obs.Transitions[0].To)

	// Retransmitted FIN from the same side.
	obs = tr.Observe(tcpView(client, server, 40000, 80, finAck), t0.Add(5*time.Second))
	assert.Empty(t, obs.Transitions)

	obs = tr.Observe(tcpView(server, client, 80, 40000, finAck), t0.Add(6*time.Second))
	require.Len(t, obs.Transitions, 1)
	closed := obs.Transitions[0]
	assert.Equal(t, StateClosing, closed.From)
	assert.Equal(t, StateClosed, closed.To)
	assert.Equal(t, ReasonFIN, closed.Reason)
	assert.Equal(t, uint64(5), closed.Flow.PacketsToServer)
	assert.Equal(t, uint64(2), closed.Flow.PacketsToClient)
	assert.Equal(t, client, closed.Flow.Identity.SrcIP)

	assert.Equal(t, 0, tr.Len())
}

func TestResetSkipsClosing(t *testing.T) {
	tr := New(Config{NumShards: 4})
	tr.Observe(tcpView(client, server, 40000, 22, syn), t0)
	tr.Observe(tcpView(server, client, 22, 40000, synAck), t0)

	obs := tr.Observe(tcpView(server, client, 22, 40000, rst), t0.Add(time.Second))
	require.Len(t, obs.Transitions, 1)
	assert.Equal(t, StateEstablished, obs.Transitions[0].From)
	assert.Equal(t, StateClosed, obs.Transitions[0].To)
	assert.Equal(t, ReasonReset, obs.Transitions[0].Reason)
}

func TestResetAsFirstPacket(t *testing.T) {
	tr := New(Config{NumShards: 1})

	obs := tr.Observe(tcpView(server, client, 80, 40000, rst|ack), t0)
	assert.True(t, obs.Opened)
	assert.Equal(t, []State{StateClosed}, states(obs.Transitions))
	assert.Equal(t, 0, tr.Len())
}

func TestClosedFlowLingers(t *testing.T) {
	tr := New(Config{NumShards: 1, ClosedLinger: 10 * time.Second})
	tr.Observe(tcpView(client, server, 40000, 22, syn), t0)
	tr.Observe(tcpView(server, client, 22, 40000, rst|ack), t0)

	obs := tr.Observe(tcpView(server, client, 22, 40000, rst|ack), t0.Add(time.Second))
	assert.True(t, obs.Ignored)
	assert.False(t, obs.Opened)
	assert.Empty(t, obs.Transitions)

	assert.Empty(t, tr.Sweep(t0.Add(11*time.Second)))

	obs = tr.Observe(tcpView(client, server, 40000, 22, syn), t0.Add(12*time.Second))
	assert.True(t, obs.Opened)
}

func TestUDPPseudoFlow(t *testing.T) {
	tr := New(Config{NumShards: 4})

	obs := tr.Observe(udpView(client, server, 5353, 161), t0)
	assert.True(t, obs.Opened)

	obs = tr.Observe(udpView(client, server, 5353, 161), t0.Add(time.Second))
	assert.Empty(t, obs.Transitions)

	obs = tr.Observe(udpView(server, client, 161, 5353), t0.Add(2*time.Second))
	assert.Equal(t, []State{StateEstablished}, states(obs.Transitions))

	obs = tr.Observe(udpView(server, client, 161, 5353), t0.Add(3*time.Second))
	assert.Empty(t, obs.Transitions)
}

func TestICMPQueryPseudoFlow(t *testing.T) {
	tr := New(Config{NumShards: 4})
	echo := func(src, dst netip.Addr, typ uint8) *protocol.PacketView {
		return &protocol.PacketView{
			FrameLen: 98,
			LinkLen:  14,
			IP:       protocol.IPv4{Protocol: protocol.ProtoICMP, Src: src, Dst: dst},
			ICMP:     &protocol.ICMP{Kind: registry.ResolveICMP(typ, 0), ID: 77},
		}
	}

	assert.True(t, tr.Observe(echo(client, server, registry.ICMPEchoRequest), t0).Opened)
	obs := tr.Observe(echo(server, client, registry.ICMPEchoReply), t0)
	assert.Equal(t, []State{StateEstablished}, states(obs.Transitions))
}

func TestICMPUnreachableClosesFlow(t *testing.T) {
	tr := New(Config{NumShards: 4})
	tr.Observe(udpView(server, client, 5353, 161), t0)

	obs := tr.Observe(icmpErrorView(quotedUDP(server, client, 5353, 161)), t0.Add(time.Second))
	assert.True(t, obs.Matched)
	assert.False(t, obs.Orphan)
	assert.Equal(t, []State{StateClosing, StateClosed}, states(obs.Transitions))
	assert.Equal(t, "icmp_port_unreachable", obs.Transitions[1].Reason)
	assert.Equal(t, 0, tr.Len())
}

func TestICMPUnreachableGracePeriod(t *testing.T) {
	tr := New(Config{NumShards: 4, ICMPCloseGrace: 5 * time.Second})
	tr.Observe(udpView(server, client, 5353, 161), t0)

	obs := tr.Observe(icmpErrorView(quotedUDP(server, client, 5353, 161)), t0.Add(time.Second))
	assert.Equal(t, []State{StateClosing}, states(obs.Transitions))

	// A second error for the same flow changes nothing.
	obs = tr.Observe(icmpErrorView(quotedUDP(server, client, 5353, 161)), t0.Add(2*time.Second))
	assert.True(t, obs.Matched)
	assert.Empty(t, obs.Transitions)

	assert.Empty(t, tr.Sweep(t0.Add(3*time.Second)))
	swept := tr.Sweep(t0.Add(6 * time.Second))
	require.Len(t, swept, 1)
	assert.Equal(t, StateClosed, swept[0].To)
	assert.Equal(t, "icmp_port_unreachable", swept[0].Reason)
}

func TestICMPOrphan(t *testing.T) {
	tr := New(Config{NumShards: 4})

	obs := tr.Observe(icmpErrorView(quotedUDP(server, client, 1, 2)), t0)
	assert.True(t, obs.Orphan)
	assert.Empty(t, obs.Transitions)

	obs = tr.Observe(icmpErrorView(nil), t0)
	assert.True(t, obs.Orphan)
}

func TestIdleEvictionHappensOnce(t *testing.T) {
	tr := New(Config{NumShards: 8, IdleTimeout: 30 * time.Second})
	tr.Observe(tcpView(client, server, 40000, 80, syn), t0)
	tr.Observe(udpView(client, server, 40001, 53), t0.Add(20*time.Second))

	swept := tr.Sweep(t0.Add(35 * time.Second))
	require.Len(t, swept, 1)
	assert.Equal(t, StateEvicted, swept[0].To)
	assert.Equal(t, ReasonIdleTimeout, swept[0].Reason)
	assert.Equal(t, protocol.ProtoTCP, swept[0].Flow.Identity.Protocol)

	assert.Empty(t, tr.Sweep(t0.Add(36*time.Second)))
	assert.Equal(t, 1, tr.Len())
}

func TestCapacityEviction(t *testing.T) {
	tr := New(Config{NumShards: 1, MaxFlowsPerShard: 2, IdleTimeout: time.Hour})
	tr.Observe(udpView(client, server, 1, 53), t0)
	tr.Observe(udpView(client, server, 2, 53), t0.Add(time.Second))
	tr.Observe(udpView(client, server, 1, 53), t0.Add(2*time.Second))

	obs := tr.Observe(udpView(client, server, 3, 53), t0.Add(3*time.Second))
	assert.Empty(t, obs.Transitions)
	require.Len(t, obs.Evicted, 1)
	evicted := obs.Evicted[0]
	assert.Equal(t, StateEvicted, evicted.To)
	assert.Equal(t, ReasonCapacity, evicted.Reason)
	assert.Equal(t, uint16(2), evicted.Flow.Identity.SrcPort)
	assert.Equal(t, 2, tr.Len())
}

func TestFlushAndSnapshot(t *testing.T) {
	tr := New(Config{NumShards: 4})
	tr.Observe(tcpView(client, server, 40000, 80, syn), t0)
	tr.Observe(udpView(client, server, 40001, 53), t0)

	snap := tr.Snapshot()
	assert.Len(t, snap, 2)

	f, ok := tr.Lookup(model.FlowIdentity{Protocol: protocol.ProtoUDP, SrcIP: server, DstIP: client, SrcPort: 53, DstPort: 40001})
	require.True(t, ok)
	assert.Equal(t, StateNew, f.State)

	flushed := tr.Flush(t0.Add(time.Minute), ReasonShutdown)
	assert.Len(t, flushed, 2)
	for _, ev := range flushed {
		assert.Equal(t, StateEvicted, ev.To)
		assert.Equal(t, ReasonShutdown, ev.Reason)
	}
	assert.Equal(t, 0, tr.Len())
}

func TestResetShard(t *testing.T) {
	tr := New(Config{NumShards: 1})
	tr.Observe(udpView(client, server, 1, 53), t0)
	tr.Observe(udpView(client, server, 2, 53), t0)

	assert.Equal(t, 2, tr.ResetShard(0))
	assert.Equal(t, 0, tr.Len())
}

func TestIllegalTransitionPanics(t *testing.T) {
	tr := New(Config{NumShards: 1})
	s := tr.shards[0]
	f := &Flow{State: StateClosed}

	assert.PanicsWithError(t, "shard 0: illegal transition CLOSED -> ESTABLISHED", func() {
		tr.move(s, f, StateEstablished, "", t0)
	})
}

func TestRoutingKeyFollowsQuotedDatagram(t *testing.T) {
	tr := New(Config{NumShards: 64})
	quoted := quotedUDP(server, client, 5353, 161)

	key, ok := tr.RoutingKey(icmpErrorView(quoted))
	require.True(t, ok)
	assert.Equal(t, tr.ShardOf(udpView(client, server, 161, 5353).Flow()), tr.ShardOf(key))

	_, ok = tr.RoutingKey(icmpErrorView(nil))
	assert.False(t, ok)
}

func TestIdleFlowReplacedByNextPacket(t *testing.T) {
	tr := New(Config{NumShards: 4, IdleTimeout: 300 * time.Second})
	tr.Observe(udpView(client, server, 5353, 53), t0)

	obs := tr.Observe(udpView(client, server, 5353, 53), t0.Add(time.Hour))
	assert.True(t, obs.Opened)
	assert.Empty(t, obs.Transitions)
	require.Len(t, obs.Evicted, 1)
	assert.Equal(t, StateEvicted, obs.Evicted[0].To)
	assert.Equal(t, ReasonIdleTimeout, obs.Evicted[0].Reason)
	assert.Equal(t, uint64(1), obs.Evicted[0].Flow.PacketsToServer)
	assert.True(t, obs.Evicted[0].Flow.LastSeen.Equal(t0))

	require.NotNil(t, obs.Flow)
	assert.True(t, obs.Flow.FirstSeen.Equal(t0.Add(time.Hour)))
	assert.Equal(t, uint64(1), obs.Flow.PacketsToServer)
	assert.Equal(t, 1, tr.Len())

	// The replaced flow is not reported again.
	assert.Empty(t, tr.Sweep(t0.Add(time.Hour+time.Second)))
}

func TestExpiredTombstoneIsReplaced(t *testing.T) {
	tr := New(Config{NumShards: 1, ClosedLinger: 10 * time.Second})
	tr.Observe(tcpView(client, server, 40000, 22, syn), t0)
	tr.Observe(tcpView(server, client, 22, 40000, rst|ack), t0)

	obs := tr.Observe(tcpView(client, server, 40000, 22, syn), t0.Add(20*time.Second))
	assert.True(t, obs.Opened)
	assert.Empty(t, obs.Evicted)
	assert.Equal(t, 1, tr.Len())
}

func TestAdvisoryICMPLeavesFlowOpen(t *testing.T) {
	advisory := []registry.ICMPKind{
		registry.ResolveICMP(registry.ICMPRedirect, 1),
		registry.ResolveICMP(registry.ICMPSourceQuench, 0),
		registry.ResolveICMP(registry.ICMPParameterProblem, 0),
	}
	for _, kind := range advisory {
		t.Run(kind.Semantic, func(t *testing.T) {
			tr := New(Config{NumShards: 4})
			tr.Observe(tcpView(client, server, 40000, 80, syn), t0)
			tr.Observe(tcpView(server, client, 80, 40000, synAck), t0)

			v := icmpErrorView(&protocol.Embedded{
				IP:      protocol.IPv4{Version: 4, IHL: 5, Protocol: protocol.ProtoTCP, Src: client, Dst: server},
				SrcPort: 40000,
				DstPort: 80,
			})
			v.ICMP.Kind = kind
			obs := tr.Observe(v, t0.Add(time.Second))
			assert.True(t, obs.Matched)
			assert.False(t, obs.Orphan)
			assert.Empty(t, obs.Transitions)

			f, ok := tr.Lookup(model.FlowIdentity{Protocol: protocol.ProtoTCP, SrcIP: client, DstIP: server, SrcPort: 40000, DstPort: 80})
			require.True(t, ok)
			assert.Equal(t, StateEstablished, f.State)
			assert.Equal(t, 1, tr.Len())
		})
	}
}

func TestLatePacketKeepsIdleOrder(t *testing.T) {
	tr := New(Config{NumShards: 1, IdleTimeout: 25 * time.Second})
	tr.Observe(udpView(client, server, 1, 53), t0.Add(10*time.Second))
	tr.Observe(udpView(client, server, 2, 53), t0.Add(20*time.Second))
	// A late packet from another interface does not refresh the flow.
	tr.Observe(udpView(client, server, 1, 53), t0.Add(5*time.Second))

	swept := tr.Sweep(t0.Add(40 * time.Second))
	require.Len(t, swept, 1)
	assert.Equal(t, uint16(1), swept[0].Flow.Identity.SrcPort)
	assert.Equal(t, uint64(2), swept[0].Flow.PacketsToServer)
}
