//go:build linux

// Package cacheline implements the flush/invalidate/writeback/fence
// primitives the runtime needs to make local writes to the shared region
// visible to other nodes mapping the same physical bytes over CXL.
//
// Go has no portable cache-line-flush intrinsic, so Flush/Invalidate/
// Writeback are expressed as msync on the mapped region (the platform's
// strongest available equivalent for a memory-mapped byte range), and the
// fence flavors are expressed with sync/atomic operations, which already
// carry a full memory barrier on every architecture Go supports.
package cacheline

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Size is the assumed cache line width used for alignment decisions
// elsewhere in the runtime (allocator, message batching).
const Size = 64

// FenceKind selects one of the four consistency flavors.
type FenceKind int

const (
	Relaxed FenceKind = iota
	Acquire
	Release
	SeqCst
)

var fenceSentinel uint32

// Fence emits a memory barrier of the requested strength. Relaxed is a
// compiler-level no-op; the other three piggyback on the full barrier that
// sync/atomic operations already provide.
func Fence(kind FenceKind) {
	switch kind {
	case Relaxed:
		return
	case Acquire:
		atomic.LoadUint32(&fenceSentinel)
	case Release, SeqCst:
		atomic.AddUint32(&fenceSentinel, 1)
	}
}

// Flush forces the byte range [offset, offset+length) of region back to the
// backing memory so a peer observing the same physical bytes sees the
// write. Pair with Fence(Release) to satisfy the put-then-flush-then-fence
// visibility contract.
func Flush(region []byte, offset, length uint64) error {
	return syncRange(region, offset, length, unix.MS_SYNC)
}

// Writeback is Flush under another name for callers modeling an explicit
// writeback phase distinct from a full flush; the underlying operation is
// identical for a memory-mapped region.
func Writeback(region []byte, offset, length uint64) error {
	return syncRange(region, offset, length, unix.MS_SYNC)
}

// Invalidate asks the kernel to invalidate other mappings of the same
// backing pages, the nearest analog to a cache-line invalidate available
// for mmap'd memory.
func Invalidate(region []byte, offset, length uint64) error {
	return syncRange(region, offset, length, unix.MS_INVALIDATE)
}

func syncRange(region []byte, offset, length uint64, flags int) error {
	if length == 0 {
		return nil
	}
	end := offset + length
	if end > uint64(len(region)) {
		end = uint64(len(region))
	}
	if offset >= end {
		return nil
	}
	// msync needs a page-aligned start; region itself starts on a page
	// boundary, so widen the range down to the page containing offset.
	page := uint64(unix.Getpagesize())
	start := offset - offset%page
	return unix.Msync(region[start:end], flags)
}
