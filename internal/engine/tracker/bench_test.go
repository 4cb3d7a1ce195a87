package tracker

import (
	"encoding/binary"
	"hash/crc32"
	"math/rand"
	"net/netip"
	"testing"

	"Go2NetSensor/internal/model"

	"github.com/stretchr/testify/assert"
)

func randomIdentities(n int, seed int64) []model.FlowIdentity {
	rng := rand.New(rand.NewSource(seed))
	ids := make([]model.FlowIdentity, n)
	for i := range ids {
		var src, dst [4]byte
		binary.BigEndian.PutUint32(src[:], rng.Uint32())
		binary.BigEndian.PutUint32(dst[:], 0xc0000200|uint32(rng.Intn(256)))
		ids[i] = model.FlowIdentity{
			Protocol: 6,
			SrcIP:    netip.AddrFrom4(src),
			DstIP:    netip.AddrFrom4(dst),
			SrcPort:  uint16(rng.Intn(65535-1024) + 1024),
			DstPort:  uint16(rng.Intn(1024)),
		}
	}
	return ids
}

func TestShardDistribution(t *testing.T) {
	tr := New(Config{NumShards: 16})
	counts := make([]int, tr.NumShards())
	for _, id := range randomIdentities(4096, 7) {
		counts[tr.ShardOf(id)]++
	}
	for i, c := range counts {
		assert.InDelta(t, 256, c, 128, "shard %d", i)
	}
}

func crcIdentity(id model.FlowIdentity) uint32 {
	var b [37]byte
	b[0] = id.Protocol
	src, dst := id.SrcIP.As16(), id.DstIP.As16()
	copy(b[1:17], src[:])
	copy(b[17:33], dst[:])
	binary.BigEndian.PutUint16(b[33:35], id.SrcPort)
	binary.BigEndian.PutUint16(b[35:37], id.DstPort)
	return crc32.ChecksumIEEE(b[:])
}

func BenchmarkHashIdentityXXHash(b *testing.B) {
	ids := randomIdentities(1024, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hashIdentity(ids[i%len(ids)])
	}
}

func BenchmarkHashIdentityCRC32(b *testing.B) {
	ids := randomIdentities(1024, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = crcIdentity(ids[i%len(ids)])
	}
}

func BenchmarkObserveSYNScan(b *testing.B) {
	ids := randomIdentities(1<<16, 2)
	tr := New(Config{NumShards: 256, MaxFlowsPerShard: 1024})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := ids[i%len(ids)]
		tr.Observe(tcpView(id.SrcIP, id.DstIP, id.SrcPort, id.DstPort, syn), t0)
	}
}

func BenchmarkObserveParallel(b *testing.B) {
	ids := randomIdentities(1<<16, 3)
	tr := New(Config{NumShards: 256, MaxFlowsPerShard: 1024})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			id := ids[i%len(ids)]
			tr.Observe(tcpView(id.SrcIP, id.DstIP, id.SrcPort, id.DstPort, syn), t0)
			i++
		}
	})
}
