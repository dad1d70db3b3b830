// Package heap implements the first-fit, coalescing block allocator that
// runs over a node's shared region. Block metadata lives in-band, inside
// the region itself, addressed by byte offset rather than host pointer --
// two processes mapping the same physical bytes never agree on a virtual
// address, only on content at a given offset from their own region base.
//
// The offset-indexed free list and raw little-endian field encoding follow
// the same discipline the source allocator used for its in-region free
// lists, adapted here from a power-of-two buddy scheme to an explicit
// first-fit walk with header-level coalescing.
package heap

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/CXLMemUring/Splash/internal/cacheline"
)

// ErrOutOfMemory is returned when no free block satisfies a request.
var ErrOutOfMemory = errors.New("heap: out of memory")

// ErrInvalidPointer is returned when Free is asked to release an offset
// that was not returned by a prior Alloc. Per contract this is only
// detected on a best-effort basis; passing a bad pointer is undefined.
var ErrInvalidPointer = errors.New("heap: pointer not owned by this allocator")

const (
	headerSize = cacheline.Size
	nullOffset = ^uint64(0)
)

// header field layout within the in-band block header:
//
//	[0:8)   size   uint64  little-endian, payload bytes following the header
//	[8:12)  free   uint32  0 = used, 1 = free
//	[12:16) _pad   uint32  reserved, kept zero
//	[16:24) next   uint64  offset of next block's header, or nullOffset
//	[24:32) prev   uint64  offset of previous block's header, or nullOffset
//	[32:64) unused, pads the header to one cache line

// Allocator is a single-mutex first-fit allocator over a byte region. Alloc
// and Free hold the lock only for the duration of the list walk/splice;
// neither ever blocks on I/O.
type Allocator struct {
	region []byte
	mu     sync.Mutex
	head   uint64 // offset of the first block header; always 0
}

// New carves a single free block spanning the entire region and returns an
// allocator over it. The caller guarantees region is at least headerSize
// bytes long.
func New(region []byte) *Allocator {
	a := &Allocator{region: region, head: 0}
	a.writeHeader(0, blockHeader{
		size: uint64(len(region)) - headerSize,
		free: true,
		next: nullOffset,
		prev: nullOffset,
	})
	return a
}

type blockHeader struct {
	size uint64
	free bool
	next uint64
	prev uint64
}

func (a *Allocator) readHeader(offset uint64) blockHeader {
	b := a.region[offset : offset+headerSize]
	return blockHeader{
		size: binary.LittleEndian.Uint64(b[0:8]),
		free: binary.LittleEndian.Uint32(b[8:12]) != 0,
		next: binary.LittleEndian.Uint64(b[16:24]),
		prev: binary.LittleEndian.Uint64(b[24:32]),
	}
}

func (a *Allocator) writeHeader(offset uint64, h blockHeader) {
	b := a.region[offset : offset+headerSize]
	binary.LittleEndian.PutUint64(b[0:8], h.size)
	freeFlag := uint32(0)
	if h.free {
		freeFlag = 1
	}
	binary.LittleEndian.PutUint32(b[8:12], freeFlag)
	binary.LittleEndian.PutUint32(b[12:16], 0)
	binary.LittleEndian.PutUint64(b[16:24], h.next)
	binary.LittleEndian.PutUint64(b[24:32], h.prev)
}

func alignUp(size, alignment uint64) uint64 {
	if alignment == 0 {
		alignment = cacheline.Size
	}
	rem := size % alignment
	if rem == 0 {
		return size
	}
	return size + (alignment - rem)
}

// Alloc reserves at least size bytes and returns the offset of the usable
// payload, past the header. The size is rounded up to alignment (a cache
// line when alignment is 0) and then to whole cache lines, so every
// payload offset is cache-line aligned and thus aligned to any alignment
// that divides the cache-line size; a larger alignment only rounds the
// size. Returns ErrOutOfMemory when no block fits.
func (a *Allocator) Alloc(size, alignment uint64) (uint64, error) {
	want := alignUp(alignUp(size, alignment), cacheline.Size)

	a.mu.Lock()
	defer a.mu.Unlock()

	offset := a.head
	for offset != nullOffset {
		h := a.readHeader(offset)
		if h.free && h.size >= want {
			a.splitAndMark(offset, h, want)
			return offset + headerSize, nil
		}
		offset = h.next
	}
	return 0, ErrOutOfMemory
}

// splitAndMark carves `want` bytes out of the free block at offset (whose
// current header is h) and marks the resulting block used. If the
// remainder is large enough to host another block, it splits the block and
// leaves a free residue behind.
func (a *Allocator) splitAndMark(offset uint64, h blockHeader, want uint64) {
	residue := h.size - want
	if residue > headerSize+cacheline.Size {
		newBlockOffset := offset + headerSize + want
		newBlockSize := residue - headerSize

		a.writeHeader(newBlockOffset, blockHeader{
			size: newBlockSize,
			free: true,
			next: h.next,
			prev: offset,
		})
		if h.next != nullOffset {
			next := a.readHeader(h.next)
			next.prev = newBlockOffset
			a.writeHeader(h.next, next)
		}

		a.writeHeader(offset, blockHeader{
			size: want,
			free: false,
			next: newBlockOffset,
			prev: h.prev,
		})
		return
	}

	h.free = false
	a.writeHeader(offset, h)
}

// Free releases the block at ptr (an offset previously returned by Alloc)
// and coalesces it with an adjacent free predecessor or successor.
func (a *Allocator) Free(ptr uint64) error {
	if ptr < headerSize || ptr >= uint64(len(a.region)) {
		return ErrInvalidPointer
	}
	offset := ptr - headerSize

	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.readHeader(offset)
	h.free = true
	a.writeHeader(offset, h)

	offset, h = a.coalesceNext(offset, h)
	a.coalescePrev(offset, h)
	return nil
}

func (a *Allocator) coalesceNext(offset uint64, h blockHeader) (uint64, blockHeader) {
	if h.next == nullOffset {
		return offset, h
	}
	next := a.readHeader(h.next)
	if !next.free {
		return offset, h
	}

	h.size += headerSize + next.size
	h.next = next.next
	if next.next != nullOffset {
		nextNext := a.readHeader(next.next)
		nextNext.prev = offset
		a.writeHeader(next.next, nextNext)
	}
	a.writeHeader(offset, h)
	return offset, h
}

func (a *Allocator) coalescePrev(offset uint64, h blockHeader) {
	if h.prev == nullOffset {
		return
	}
	prev := a.readHeader(h.prev)
	if !prev.free {
		return
	}

	prev.size += headerSize + h.size
	prev.next = h.next
	a.writeHeader(h.prev, prev)
	if h.next != nullOffset {
		next := a.readHeader(h.next)
		next.prev = h.prev
		a.writeHeader(h.next, next)
	}
}

// Stats reports the coverage invariant components: total allocated payload
// bytes, total free payload bytes, and the number of blocks (each of which
// costs one header).
type Stats struct {
	Allocated uint64
	Free      uint64
	Blocks    uint64
}

// Stat walks the block list and summarizes current usage. Intended for
// diagnostics and tests, not the hot path.
func (a *Allocator) Stat() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Stats
	offset := a.head
	for offset != nullOffset {
		h := a.readHeader(offset)
		s.Blocks++
		if h.free {
			s.Free += h.size
		} else {
			s.Allocated += h.size
		}
		offset = h.next
	}
	return s
}
