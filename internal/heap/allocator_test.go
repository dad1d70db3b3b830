package heap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	region := make([]byte, 4096)
	a := New(region)

	off, err := a.Alloc(128, 64)
	require.NoError(t, err)
	require.Zero(t, off%64)

	require.NoError(t, a.Free(off))
}

func TestOutOfMemory(t *testing.T) {
	region := make([]byte, 256)
	a := New(region)

	_, err := a.Alloc(1024, 64)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

// TestCoverageInvariant is testable property #3: at any quiescent instant,
// allocated payload + free payload + one header per block equals the
// region size.
func TestCoverageInvariant(t *testing.T) {
	const regionSize = 64 * 1024
	region := make([]byte, regionSize)
	a := New(region)

	var live []uint64
	for i := 0; i < 50; i++ {
		off, err := a.Alloc(uint64(16+i*8), 64)
		require.NoError(t, err)
		live = append(live, off)
	}

	s := a.Stat()
	require.Equal(t, uint64(regionSize), s.Allocated+s.Free+s.Blocks*headerSize)

	for _, off := range live {
		require.NoError(t, a.Free(off))
	}

	s = a.Stat()
	require.Equal(t, uint64(1), s.Blocks, "every block must coalesce back into one free block")
	require.Equal(t, uint64(regionSize)-headerSize, s.Free)
}

// TestNoAdjacentFreeBlocks is testable property #4.
func TestNoAdjacentFreeBlocks(t *testing.T) {
	region := make([]byte, 16*1024)
	a := New(region)

	var offs []uint64
	for i := 0; i < 8; i++ {
		off, err := a.Alloc(256, 64)
		require.NoError(t, err)
		offs = append(offs, off)
	}

	// Free every other block, then the remainder, forcing coalescing from
	// both sides of surviving free gaps.
	for i := 0; i < len(offs); i += 2 {
		require.NoError(t, a.Free(offs[i]))
	}
	for i := 1; i < len(offs); i += 2 {
		require.NoError(t, a.Free(offs[i]))
	}

	s := a.Stat()
	require.Equal(t, uint64(1), s.Blocks)
}

// TestAllocatorChurn is scenario S6, scaled down from 1 GiB/100k ops to a
// size this test suite can run quickly while preserving the invariant.
func TestAllocatorChurn(t *testing.T) {
	const regionSize = 4 << 20
	region := make([]byte, regionSize)
	a := New(region)

	rng := rand.New(rand.NewSource(1))
	live := make(map[uint64]bool)

	for i := 0; i < 5000; i++ {
		if len(live) > 0 && (rng.Intn(2) == 0 || len(live) > 200) {
			var victim uint64
			for k := range live {
				victim = k
				break
			}
			require.NoError(t, a.Free(victim))
			delete(live, victim)
			continue
		}
		size := uint64(16 + rng.Intn(4096))
		off, err := a.Alloc(size, 64)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfMemory)
			continue
		}
		live[off] = true
	}

	for off := range live {
		require.NoError(t, a.Free(off))
	}

	s := a.Stat()
	require.Equal(t, uint64(1), s.Blocks)
	require.Equal(t, uint64(regionSize)-headerSize, s.Free)
}
