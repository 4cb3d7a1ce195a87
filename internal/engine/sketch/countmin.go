// Package sketch ranks probe sources with a fingerprinted Count-Min sketch so
// the busiest scanners can be reported without keeping a counter per address.
package sketch

import (
	"slices"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultWidth     = 1 << 12
	defaultDepth     = 3
	defaultThreshold = 16
)

// Key is the sketch key: an address in its 16-byte form.
type Key [16]byte

type Bucket struct {
	FP Key
	C  uint32
}

// HeavyRecord is a key whose estimated count reached the threshold.
type HeavyRecord struct {
	Key   Key
	Count uint32
}

// CountMin keeps a fingerprint per bucket; a colliding key decrements the
// resident count and takes the bucket over when it reaches zero.
type CountMin struct {
	w, d, threshold uint32
	table           [][]Bucket
}

func NewCountMin(width, depth, threshold uint32) *CountMin {
	if width == 0 {
		width = defaultWidth
	}
	if depth == 0 {
		depth = defaultDepth
	}
	if threshold == 0 {
		threshold = defaultThreshold
	}

	table := make([][]Bucket, depth)
	for i := range table {
		table[i] = make([]Bucket, width)
	}

	return &CountMin{
		w:         width,
		d:         depth,
		threshold: threshold,
		table:     table,
	}
}

// index derives the row position by double hashing a single xxhash sum.
func (t *CountMin) index(h uint64, row uint32) uint32 {
	h1 := uint32(h)
	h2 := uint32(h>>32) | 1
	return (h1 + row*h2) % t.w
}

func (t *CountMin) Insert(key Key) {
	h := xxhash.Sum64(key[:])
	for i := uint32(0); i < t.d; i++ {
		b := &t.table[i][t.index(h, i)]
		switch {
		case b.C == 0:
			b.FP = key
			b.C = 1
		case b.FP == key:
			b.C++
		default:
			b.C--
			if b.C == 0 {
				b.FP = key
				b.C = 1
			}
		}
	}
}

func (t *CountMin) Query(key Key) uint32 {
	h := xxhash.Sum64(key[:])
	sz := uint32(0)
	for i := uint32(0); i < t.d; i++ {
		b := t.table[i][t.index(h, i)]
		if b.FP == key {
			sz = max(sz, b.C)
		}
	}
	return sz
}

// HeavyHitters returns every key at or above the threshold, largest first.
func (t *CountMin) HeavyHitters() []HeavyRecord {
	hh := make(map[Key]uint32)
	for i := range t.table {
		for _, bucket := range t.table[i] {
			if bucket.C > 0 {
				hh[bucket.FP] = max(hh[bucket.FP], bucket.C)
			}
		}
	}
	heavyHitters := make([]HeavyRecord, 0)
	for k, v := range hh {
		if v < t.threshold {
			continue
		}
		heavyHitters = append(heavyHitters, HeavyRecord{Key: k, Count: v})
	}
	slices.SortFunc(heavyHitters, func(a, b HeavyRecord) int {
		if a.Count != b.Count {
			return int(b.Count) - int(a.Count)
		}
		return slices.Compare(a.Key[:], b.Key[:])
	})
	return heavyHitters
}

// Reset clears every bucket.
func (t *CountMin) Reset() {
	for i := range t.table {
		clear(t.table[i])
	}
}
