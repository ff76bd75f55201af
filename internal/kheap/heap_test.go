package kheap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// assertCoverage checks Property P3: the union of used and free spans
// equals the heap's live extent, with no overlap.
func assertCoverage(t *testing.T, h *Heap) {
	t.Helper()
	stats := h.Stats()

	type span struct{ start, end uint32 }
	var spans []span
	for _, b := range stats.Free {
		spans = append(spans, span{b.Addr, b.End()})
	}
	for _, b := range stats.Used {
		spans = append(spans, span{b.Addr, b.End()})
	}

	covered := uint32(0)
	for i, s := range spans {
		require.GreaterOrEqual(t, s.end, s.start)
		covered += s.end - s.start
		for j, o := range spans {
			if i == j {
				continue
			}
			overlap := s.start < o.end && o.start < s.end
			require.False(t, overlap, "blocks overlap: %+v vs %+v", s, o)
		}
	}
	require.Equal(t, stats.RegionSize, covered, "union of free+used must equal the live extent")
}

func TestEarlyHeapAllocateFree(t *testing.T) {
	h := NewEarly(0x1000, 4096)
	assertCoverage(t, h)

	a, err := h.Allocate(64, 16)
	require.NoError(t, err)
	require.Zero(t, a%16)
	assertCoverage(t, h)

	require.NoError(t, h.Free(a))
	assertCoverage(t, h)
}

func TestEarlyHeapOutOfMemory(t *testing.T) {
	h := NewEarly(0x1000, 128)
	_, err := h.Allocate(1024, 16)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestDoubleFree(t *testing.T) {
	h := NewEarly(0x1000, 4096)
	a, err := h.Allocate(32, 8)
	require.NoError(t, err)
	require.NoError(t, h.Free(a))
	require.ErrorIs(t, h.Free(a), ErrDoubleFree)
}

func TestMergeAdjacentFreeBlocks(t *testing.T) {
	h := NewEarly(0x1000, 4096)
	a, err := h.Allocate(64, 16)
	require.NoError(t, err)
	b, err := h.Allocate(64, 16)
	require.NoError(t, err)

	require.NoError(t, h.Free(a))
	require.NoError(t, h.Free(b))

	// After freeing both, the heap must coalesce back toward a single
	// free block covering the whole region (merge rule).
	stats := h.Stats()
	require.Len(t, stats.Free, 1)
	require.Equal(t, stats.RegionSize, stats.Free[0].Size)
}

// Scenario 3 / Properties P3 & P4: heap stress.
func TestHeapStressCoverageAndShrink(t *testing.T) {
	fake := &fakeExtender{}
	h, err := NewNormal(fake, 0x100000, 64*1024, 4*1024*1024, 64*1024)
	require.NoError(t, err)
	originalMapped := h.MappedSize()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		size := uint32(8 + rng.Intn(4096-8))
		addr, err := h.Allocate(size, 16)
		require.NoError(t, err)
		assertCoverage(t, h)
		require.NoError(t, h.Free(addr))
	}
	assertCoverage(t, h)

	// Property P4: repeated alloc/free of similar sizes returns the
	// heap's mapped size to its original value (within one extension).
	require.LessOrEqual(t, h.MappedSize(), originalMapped+64*1024)
}

type fakeExtender struct{}

func (fakeExtender) MapRegion(addr, size uint32) error   { return nil }
func (fakeExtender) UnmapRegion(addr, size uint32) error { return nil }
