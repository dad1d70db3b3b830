//go:build linux

// Package pgas is the collaborator-facing API for the partitioned global
// address space runtime: a single shared byte space spread across every
// node in an ensemble, backed by CXL-attached (or emulated) memory and
// addressed through global pointers that carry their owning node with
// them.
package pgas

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/CXLMemUring/Splash/internal/cacheline"
	"github.com/CXLMemUring/Splash/internal/gptr"
	"github.com/CXLMemUring/Splash/internal/heap"
	"github.com/CXLMemUring/Splash/internal/logging"
	"github.com/CXLMemUring/Splash/internal/nodeconfig"
	"github.com/CXLMemUring/Splash/internal/region"
	"github.com/CXLMemUring/Splash/internal/rpc"
	"github.com/CXLMemUring/Splash/internal/stats"
	"github.com/CXLMemUring/Splash/internal/tuning"
	"github.com/CXLMemUring/Splash/internal/wire"
)

// Ptr is a location anywhere in the ensemble-wide address space.
type Ptr = gptr.Ptr

// Affinity selects which node a new allocation lands on.
type Affinity = gptr.Affinity

const (
	Local      = gptr.Local
	Remote     = gptr.Remote
	Interleave = gptr.Interleave
	Replicate  = gptr.Replicate
)

// Runtime is one process's handle on the ensemble. A process constructs
// exactly one Runtime via Init and tears it down with Finalize.
type Runtime struct {
	cfg    *nodeconfig.Config
	region region.Provider
	heap   *heap.Allocator
	table  *gptr.Table

	mgr     *rpc.Manager
	engine  *rpc.Engine
	guard   *rpc.GuardedEngine
	server  *rpc.Server
	limiter *rpc.TransferLimiter

	log *logging.Logger
}

// Init brings up the runtime for this process: it loads the membership
// file at configPath, acquires this node's region, starts the allocator
// and segment table over it, and connects to every peer. It returns once
// bring-up has completed (degraded or full); a zero-peer ensemble (one
// node total) succeeds trivially.
func Init(ctx context.Context, configPath string) (*Runtime, error) {
	log := logging.Default("pgas")

	cfg, err := nodeconfig.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	local := cfg.Local()

	reg, err := region.Open(region.Config{Size: local.RegionSize, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegionOpen, err)
	}

	h := heap.New(reg.Base())

	table := gptr.NewTable(local.NodeID)
	table.Segments[local.NodeID] = gptr.Segment{
		BaseAddr:   local.RegionBase,
		RegionSize: reg.Size(),
		OwnerNode:  local.NodeID,
		Affinity:   "local",
		Mapped:     true,
		Shared:     true,
	}
	for _, n := range cfg.Peers() {
		table.Segments[n.NodeID] = gptr.Segment{
			BaseAddr:   n.RegionBase,
			RegionSize: n.RegionSize,
			OwnerNode:  n.NodeID,
			Affinity:   "remote",
			Mapped:     false,
			Shared:     true,
		}
	}

	mgr := rpc.NewManager(cfg, log)
	if _, err := mgr.BringUp(ctx, cfg); err != nil {
		reg.Close()
		// A listener that could not be opened is a setup failure, not a
		// bring-up in which zero peers connected.
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return nil, fmt.Errorf("pgas: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrBringUpFailed, err)
	}

	engine := rpc.NewEngine(mgr, local.NodeID)
	server := rpc.NewServer(mgr, local.NodeID, reg, h, log)
	server.SetEngine(engine)
	server.Serve()

	peerIDs := make([]uint16, 0, len(cfg.Peers()))
	for _, n := range cfg.Peers() {
		peerIDs = append(peerIDs, n.NodeID)
	}
	guard := rpc.NewGuardedEngine(engine, peerIDs)

	limiter, err := rpc.NewTransferLimiter(tuning.Get())
	if err != nil {
		reg.Close()
		mgr.Close()
		return nil, fmt.Errorf("%w: transfer limiter: %v", ErrConfig, err)
	}

	return &Runtime{
		cfg:     cfg,
		region:  reg,
		heap:    h,
		table:   table,
		limiter: limiter,
		mgr:    mgr,
		engine: engine,
		guard:  guard,
		server: server,
		log:    log,
	}, nil
}

// Finalize releases this process's region and closes every peer
// connection. A Runtime must not be used after Finalize returns.
func (r *Runtime) Finalize() error {
	r.mgr.Close()
	return r.region.Close()
}

// MyNode returns this process's node id.
func (r *Runtime) MyNode() uint16 { return r.cfg.LocalNodeID }

// NumNodes returns the ensemble size.
func (r *Runtime) NumNodes() int { return len(r.cfg.Nodes) }

// NodeInfo is the public view of one ensemble member.
type NodeInfo struct {
	NodeID   uint16
	Hostname string
	IsLocal  bool
	IsActive bool
}

// GetNodeInfo returns the membership record for nodeID.
func (r *Runtime) GetNodeInfo(nodeID uint16) (NodeInfo, error) {
	if int(nodeID) >= len(r.cfg.Nodes) {
		return NodeInfo{}, fmt.Errorf("pgas: node %d out of range", nodeID)
	}
	n := r.cfg.Nodes[nodeID]
	return NodeInfo{NodeID: n.NodeID, Hostname: n.Hostname, IsLocal: n.IsLocal, IsActive: n.IsActive}, nil
}

// Alloc reserves size bytes somewhere in the ensemble, chosen according to
// affinity: Local and Replicate both allocate on this node, Remote
// allocates on node (self+1) mod N, Interleave round-robins across the
// whole ensemble via a process-wide counter advanced on every call.
func (r *Runtime) Alloc(ctx context.Context, size uint64, affinity Affinity) (Ptr, error) {
	switch affinity {
	case Remote:
		target := uint16((int(r.MyNode()) + 1) % r.NumNodes())
		return r.AllocOnNode(ctx, target, size)
	case Interleave:
		return r.AllocOnNode(ctx, r.nextInterleaveTarget(), size)
	default:
		return r.AllocOnNode(ctx, r.MyNode(), size)
	}
}

// interleaveCounter is the process-wide round-robin cursor INTERLEAVE
// allocations advance on every call. It is a package-level variable updated
// atomically, shared by every Runtime in the process rather than held per
// Runtime.
var interleaveCounter uint32

func (r *Runtime) nextInterleaveTarget() uint16 {
	next := atomic.AddUint32(&interleaveCounter, 1)
	return uint16(int(next) % r.NumNodes())
}

// AllocOnNode reserves size bytes on a specific node, local or remote.
func (r *Runtime) AllocOnNode(ctx context.Context, nodeID uint16, size uint64) (Ptr, error) {
	profile := tuning.Get()
	if nodeID == r.MyNode() {
		offset, err := r.heap.Alloc(size, profile.Align)
		if err != nil {
			return gptr.Null(), err
		}
		return gptr.FromLocalOffset(nodeID, offset), nil
	}

	resp, err := r.guard.SendRecv(nodeID, wire.MsgAlloc, wire.Body{Size: size, Value: profile.Align}, nil)
	if err != nil {
		return gptr.Null(), fmt.Errorf("pgas: remote alloc: %w", err)
	}
	if gptr.IsNull(resp.Body.Ptr) {
		return gptr.Null(), heap.ErrOutOfMemory
	}
	return resp.Body.Ptr, nil
}

// Free releases a previously allocated pointer. A remote free is sent
// fire-and-forget, per §4.5: FREE carries no reply, so this call returns as
// soon as the request has been written to the wire.
func (r *Runtime) Free(ctx context.Context, p Ptr) error {
	if p.NodeID == r.MyNode() {
		return r.heap.Free(p.Offset)
	}
	return r.guard.FireAndForget(p.NodeID, wire.MsgFree, wire.Body{Ptr: p}, nil)
}

// LocalPtr returns the region-relative byte offset p addresses within this
// process, and ok=false if p does not name a byte this process maps
// directly.
func (r *Runtime) LocalPtr(p Ptr) (offset uint64, ok bool) {
	return r.table.Translate(p)
}

// IsLocal reports whether p is directly dereferenceable by this process.
func (r *Runtime) IsLocal(p Ptr) bool {
	_, ok := r.table.Translate(p)
	return ok
}

// Get reads length bytes starting at p into a freshly allocated slice,
// resolving locally or over the wire depending on p's owning node.
func (r *Runtime) Get(ctx context.Context, p Ptr, length uint64) ([]byte, error) {
	if offset, ok := r.table.Translate(p); ok {
		stats.Global().RecordLocalRead()
		base := r.region.Base()
		if offset+length > uint64(len(base)) {
			return nil, region.ErrOutOfBounds
		}
		out := make([]byte, length)
		copy(out, base[offset:offset+length])
		return out, nil
	}

	r.throttle(p.NodeID, length)
	start := time.Now()
	resp, err := r.guard.SendRecv(p.NodeID, wire.MsgGet, wire.Body{Ptr: p, Size: length}, nil)
	if err != nil {
		return nil, fmt.Errorf("pgas: remote get: %w", err)
	}
	stats.Global().RecordRemoteRead()
	stats.Global().RecordLatency(time.Since(start))
	stats.Global().RecordBytesRecv(uint64(len(resp.Payload)))
	return resp.Payload, nil
}

// Put writes data to p, resolving locally or over the wire.
func (r *Runtime) Put(ctx context.Context, p Ptr, data []byte) error {
	if offset, ok := r.table.Translate(p); ok {
		stats.Global().RecordLocalWrite()
		base := r.region.Base()
		if offset+uint64(len(data)) > uint64(len(base)) {
			return region.ErrOutOfBounds
		}
		copy(base[offset:offset+uint64(len(data))], data)
		cacheline.Flush(base, offset, uint64(len(data)))
		return nil
	}

	r.throttle(p.NodeID, uint64(len(data)))
	start := time.Now()
	_, err := r.guard.SendRecv(p.NodeID, wire.MsgPut, wire.Body{Ptr: p}, data)
	if err != nil {
		return fmt.Errorf("pgas: remote put: %w", err)
	}
	stats.Global().RecordRemoteWrite()
	stats.Global().RecordLatency(time.Since(start))
	stats.Global().RecordBytesSent(uint64(len(data)))
	return nil
}

// AtomicFetchAdd adds delta to the 8-byte word at p and returns its prior
// value.
func (r *Runtime) AtomicFetchAdd(ctx context.Context, p Ptr, delta uint64) (uint64, error) {
	if offset, ok := r.table.Translate(p); ok {
		stats.Global().RecordLocalAtomic()
		return localFAA(r.region.Base(), offset, delta), nil
	}
	resp, err := r.guard.SendRecv(p.NodeID, wire.MsgAtomicFAA, wire.Body{Ptr: p, Value: delta}, nil)
	if err != nil {
		return 0, fmt.Errorf("pgas: remote faa: %w", err)
	}
	stats.Global().RecordRemoteAtomic()
	return resp.Body.Value, nil
}

// AtomicFetchAnd ANDs the 8-byte word at p with mask and returns its prior
// value.
func (r *Runtime) AtomicFetchAnd(ctx context.Context, p Ptr, mask uint64) (uint64, error) {
	if offset, ok := r.table.Translate(p); ok {
		stats.Global().RecordLocalAtomic()
		return region.FetchAnd64(r.region.Base(), offset, mask), nil
	}
	resp, err := r.guard.SendRecv(p.NodeID, wire.MsgAtomicFetchAnd, wire.Body{Ptr: p, Value: mask}, nil)
	if err != nil {
		return 0, fmt.Errorf("pgas: remote fetch-and: %w", err)
	}
	stats.Global().RecordRemoteAtomic()
	return resp.Body.Value, nil
}

// AtomicFetchOr ORs the 8-byte word at p with mask and returns its prior
// value.
func (r *Runtime) AtomicFetchOr(ctx context.Context, p Ptr, mask uint64) (uint64, error) {
	if offset, ok := r.table.Translate(p); ok {
		stats.Global().RecordLocalAtomic()
		return region.FetchOr64(r.region.Base(), offset, mask), nil
	}
	resp, err := r.guard.SendRecv(p.NodeID, wire.MsgAtomicFetchOr, wire.Body{Ptr: p, Value: mask}, nil)
	if err != nil {
		return 0, fmt.Errorf("pgas: remote fetch-or: %w", err)
	}
	stats.Global().RecordRemoteAtomic()
	return resp.Body.Value, nil
}

// AtomicCAS compares the 8-byte word at p against expected and, on a
// match, stores desired. It returns the value observed before the
// operation; the swap happened iff the returned value equals expected.
func (r *Runtime) AtomicCAS(ctx context.Context, p Ptr, expected, desired uint64) (uint64, error) {
	if offset, ok := r.table.Translate(p); ok {
		stats.Global().RecordLocalAtomic()
		return localCAS(r.region.Base(), offset, expected, desired), nil
	}
	resp, err := r.guard.SendRecv(p.NodeID, wire.MsgAtomicCAS, wire.Body{Ptr: p, Value: expected, Size: desired}, nil)
	if err != nil {
		return 0, fmt.Errorf("pgas: remote cas: %w", err)
	}
	stats.Global().RecordRemoteAtomic()
	return resp.Body.Value, nil
}

// Fence emits a memory barrier of the requested strength, making prior
// local writes to the shared region visible to any peer that subsequently
// maps the same physical bytes.
func (r *Runtime) Fence(kind FenceKind) {
	doFence(kind)
}

// Barrier blocks until every node in the ensemble has also called Barrier,
// establishing a happens-before edge across every write issued before it
// on every node and every read issued after it on every node.
func (r *Runtime) Barrier(ctx context.Context) error {
	return r.server.Barrier(ctx)
}

// GetStats returns a snapshot of this process's operation counters.
func (r *Runtime) GetStats() stats.Snapshot {
	return stats.Global().Snapshot()
}

// ResetStats zeroes this process's operation counters.
func (r *Runtime) ResetStats() {
	stats.Global().Reset()
}

// LoadProfile installs the named built-in tuning preset as the active
// process-wide profile.
func LoadProfile(name string) error {
	p, ok := tuning.Load(name)
	if !ok {
		return fmt.Errorf("pgas: unknown tuning profile %q", name)
	}
	tuning.Set(p)
	return nil
}

// SetTuning installs a fully custom tuning profile.
func SetTuning(p tuning.Profile) { tuning.Set(p) }

// GetTuning returns the active process-wide tuning profile.
func GetTuning() tuning.Profile { return tuning.Get() }

// GetDefaultTuning returns the conservative DEFAULT profile, independent of
// whatever is currently active.
func GetDefaultTuning() tuning.Profile { return tuning.Default() }

// NullPtr returns the distinguished null global pointer.
func NullPtr() Ptr { return gptr.Null() }

// PtrIsNull reports whether p is the null pointer.
func PtrIsNull(p Ptr) bool { return gptr.IsNull(p) }

// PtrEqual reports component-wise pointer equality.
func PtrEqual(a, b Ptr) bool { return gptr.Equal(a, b) }

// PtrNode returns the owning node of p.
func PtrNode(p Ptr) uint16 { return gptr.Node(p) }

// PtrAdd returns p with k added to its offset.
func PtrAdd(p Ptr, k int64) Ptr { return gptr.Add(p, k) }

// throttle applies the active tuning profile's bandwidth shaping to an
// outbound transfer of the given size before it is issued. Throttling is
// advisory: a caller that keeps getting refused still proceeds after a
// few short waits rather than being blocked indefinitely, since nothing
// in the correctness contract depends on pacing.
func (r *Runtime) throttle(nodeID uint16, size uint64) {
	if r.limiter == nil || size == 0 {
		return
	}
	for attempt := 0; attempt < 8; attempt++ {
		if r.limiter.Allow(nodeID, size) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
