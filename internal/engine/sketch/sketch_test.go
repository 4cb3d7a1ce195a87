package sketch

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountMinHeavyHitters(t *testing.T) {
	cm := NewCountMin(1<<12, 3, 10)
	heavy := Key(netip.MustParseAddr("203.0.113.9").As16())
	light := Key(netip.MustParseAddr("198.51.100.7").As16())

	for i := 0; i < 100; i++ {
		cm.Insert(heavy)
	}
	for i := 0; i < 3; i++ {
		cm.Insert(light)
	}

	assert.Equal(t, uint32(100), cm.Query(heavy))
	assert.Equal(t, uint32(3), cm.Query(light))

	hh := cm.HeavyHitters()
	require.Len(t, hh, 1)
	assert.Equal(t, heavy, hh[0].Key)
	assert.Equal(t, uint32(100), hh[0].Count)

	cm.Reset()
	assert.Zero(t, cm.Query(heavy))
	assert.Empty(t, cm.HeavyHitters())
}

func TestScannerTableTop(t *testing.T) {
	table := NewScannerTable(1<<12, 3, 2)
	a := netip.MustParseAddr("203.0.113.9")
	b := netip.MustParseAddr("198.51.100.7")

	for i := 0; i < 5; i++ {
		table.Observe(a)
	}
	for i := 0; i < 3; i++ {
		table.Observe(b)
	}
	table.Observe(netip.MustParseAddr("192.0.2.200"))

	top := table.Top(0)
	require.Len(t, top, 2)
	assert.Equal(t, Scanner{Addr: a, Probes: 5}, top[0])
	assert.Equal(t, Scanner{Addr: b, Probes: 3}, top[1])

	assert.Len(t, table.Top(1), 1)
	assert.Equal(t, uint32(5), table.Count(a))

	before := table.Since()
	table.Reset()
	assert.Empty(t, table.Top(0))
	assert.False(t, table.Since().Before(before))
}
