// Package gptr defines the global-pointer data model: a (node, segment,
// flags, offset) tuple addressing any byte in the ensemble-wide address
// space, and the segment table that local operations translate it against.
package gptr

// nullID marks both NodeID and SegmentID on the distinguished null pointer.
const nullID = 0xFFFF

// Ptr is a location in the ensemble-wide address space. It is a plain
// value: freely copyable, and it does not itself hold any resource.
type Ptr struct {
	NodeID    uint16
	SegmentID uint16
	Flags     uint32
	Offset    uint64
}

// Null returns the distinguished null global pointer.
func Null() Ptr {
	return Ptr{NodeID: nullID, SegmentID: nullID}
}

// IsNull reports whether p is the null pointer.
func IsNull(p Ptr) bool {
	return p.NodeID == nullID && p.SegmentID == nullID
}

// Equal reports component-wise equality.
func Equal(a, b Ptr) bool {
	return a.NodeID == b.NodeID && a.SegmentID == b.SegmentID &&
		a.Flags == b.Flags && a.Offset == b.Offset
}

// Node returns the owning node of p.
func Node(p Ptr) uint16 {
	return p.NodeID
}

// Add returns p with k added to its offset; all other fields are
// unchanged. Arithmetic never changes which node a pointer names:
// Node(Add(p, k)) == Node(p) always holds.
func Add(p Ptr, k int64) Ptr {
	out := p
	out.Offset = uint64(int64(p.Offset) + k)
	return out
}

// Affinity selects which node an allocation lands on.
type Affinity int

const (
	Local Affinity = iota
	Remote
	Interleave
	// Replicate is accepted for wire/API compatibility but treated as
	// Local by this core; replication across nodes is a collaborator
	// concern, not something the allocator performs itself.
	Replicate
)

// Segment is the per-node routing/translation record. Every process holds
// one Segment per peer in its table; only the segment whose OwnerNode
// equals the local node is Mapped and therefore translatable in this
// process. Segments for remote nodes carry routing metadata only.
type Segment struct {
	BaseAddr   uint64
	RegionSize uint64
	OwnerNode  uint16
	Affinity   string
	Mapped     bool
	Shared     bool
}

// Table holds one Segment per node in the ensemble, indexed by node id.
type Table struct {
	LocalNode uint16
	Segments  map[uint16]Segment
}

// NewTable builds an empty segment table for the given local node.
func NewTable(localNode uint16) *Table {
	return &Table{LocalNode: localNode, Segments: make(map[uint16]Segment)}
}

// Translate returns the region-relative byte offset a local pointer
// addresses, or ok=false if p does not name a byte this process can
// dereference directly. A pointer whose NodeID differs from the local node
// always yields ok=false; callers use that result to send the operation
// down the remote (wire) path instead.
func (t *Table) Translate(p Ptr) (offset uint64, ok bool) {
	if p.NodeID != t.LocalNode {
		return 0, false
	}
	seg, found := t.Segments[p.NodeID]
	if !found || !seg.Mapped {
		return 0, false
	}
	if p.Offset >= seg.RegionSize {
		return 0, false
	}
	return p.Offset, true
}

// FromLocalOffset builds the global pointer an allocation at the given
// node-relative offset corresponds to.
func FromLocalOffset(node uint16, offset uint64) Ptr {
	return Ptr{NodeID: node, SegmentID: 0, Flags: 0, Offset: offset}
}
