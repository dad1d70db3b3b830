// Package region acquires the byte-addressable memory that a node exposes
// to the rest of the ensemble and reports its base, size, and NUMA
// affinity. Two processes never share a virtual address for the region;
// they agree only on content at the same offset from their own base.
package region

import "errors"

// ErrOutOfBounds is returned when an offset/length pair falls outside the region.
var ErrOutOfBounds = errors.New("region: offset out of bounds")

// Provider abstracts the backing store for a node's shared region. Concrete
// implementations differ only in how the bytes are acquired (device-DAX,
// CXL memory-class bus, huge pages, or a plain anonymous mapping); callers
// address the region uniformly through this interface.
type Provider interface {
	// Base returns a direct view of the region as a byte slice. Index 0 of
	// the slice corresponds to offset 0 of the region.
	Base() []byte
	// Size reports the usable size of the region in bytes.
	Size() uint64
	// NUMANode reports the NUMA node the region is bound to, or -1 if unknown.
	NUMANode() int
	// Kind names the acquisition strategy that produced this region, for
	// diagnostics (e.g. "devdax", "cxl", "hugepage", "anon").
	Kind() string
	// Close unmaps/releases the region. Safe to call once.
	Close() error
}

// MaxRegionSize caps the usable size of any region regardless of what the
// underlying device reports, per the acquisition contract.
const MaxRegionSize = 4 << 30 // 4 GiB

func clampSize(size uint64) uint64 {
	if size > MaxRegionSize {
		return MaxRegionSize
	}
	return size
}
