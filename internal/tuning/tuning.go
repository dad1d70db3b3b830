// Package tuning holds the advisory, non-semantic performance profile a
// collaborator can set to bias how the runtime schedules transfers and
// prefetching. Nothing in tuning ever changes correctness; at worst a bad
// profile only changes performance.
package tuning

import "sync"

// PrefetchMode names how aggressively a profile advises read-ahead. The
// runtime's own Get does not read it and issues no read-ahead.
type PrefetchMode int

const (
	PrefetchNone PrefetchMode = iota
	PrefetchSequential
	PrefetchStride
)

// Consistency names the ordering strength a profile advises for Put/Get.
// The runtime's own Put and Get do not read it; ordering beyond their
// defaults comes only from an explicit Fence call.
type Consistency int

const (
	ConsistencyRelaxed Consistency = iota
	ConsistencyAcquireRelease
	ConsistencySeqCst
)

// Profile is the advisory tuning state for one process.
type Profile struct {
	Name              string
	Affinity          string
	PartitionScheme   string
	Align             uint64
	NUMABind          bool
	BatchSize         uint32
	TransferSize      uint32
	PrefetchMode      PrefetchMode
	Consistency       Consistency
	NumThreads        int
	BandwidthPriority int // 0-100, relative weight for the rate limiter
	AsyncTransfer     bool
}

// Default is the conservative, no-assumptions profile used when a
// collaborator never calls LoadProfile.
func Default() Profile {
	return Profile{
		Name:              "DEFAULT",
		Affinity:          "local",
		PartitionScheme:   "none",
		Align:             64,
		NUMABind:          false,
		BatchSize:         1,
		TransferSize:      4096,
		PrefetchMode:      PrefetchNone,
		Consistency:       ConsistencyAcquireRelease,
		NumThreads:        1,
		BandwidthPriority: 50,
		AsyncTransfer:     false,
	}
}

// named holds the built-in presets beyond DEFAULT, one per workload class
// the runtime was benchmarked against.
var named = map[string]Profile{
	"MCF": {
		Name:              "MCF",
		Affinity:          "interleave",
		PartitionScheme:   "graph-edge",
		Align:             64,
		NUMABind:          true,
		BatchSize:         64,
		TransferSize:      4096,
		PrefetchMode:      PrefetchStride,
		Consistency:       ConsistencyAcquireRelease,
		NumThreads:        8,
		BandwidthPriority: 70,
		AsyncTransfer:     true,
	},
	"LLAMA": {
		Name:              "LLAMA",
		Affinity:          "remote",
		PartitionScheme:   "row-major",
		Align:             256,
		NUMABind:          true,
		BatchSize:         256,
		TransferSize:      1 << 20,
		PrefetchMode:      PrefetchSequential,
		Consistency:       ConsistencyRelaxed,
		NumThreads:        16,
		BandwidthPriority: 90,
		AsyncTransfer:     true,
	},
	"GROMACS": {
		Name:              "GROMACS",
		Affinity:          "local",
		PartitionScheme:   "block-cyclic",
		Align:             64,
		NUMABind:          true,
		BatchSize:         32,
		TransferSize:      65536,
		PrefetchMode:      PrefetchSequential,
		Consistency:       ConsistencyAcquireRelease,
		NumThreads:        4,
		BandwidthPriority: 60,
		AsyncTransfer:     false,
	},
	"GRAPH": {
		Name:              "GRAPH",
		Affinity:          "interleave",
		PartitionScheme:   "vertex-cut",
		Align:             64,
		NUMABind:          false,
		BatchSize:         128,
		TransferSize:      512,
		PrefetchMode:      PrefetchStride,
		Consistency:       ConsistencyRelaxed,
		NumThreads:        32,
		BandwidthPriority: 80,
		AsyncTransfer:     true,
	},
}

// Load returns the named built-in preset. ok is false for an unrecognized
// name, in which case the caller should fall back to Default or a custom
// Profile value of its own construction.
func Load(name string) (Profile, bool) {
	if name == "DEFAULT" || name == "" {
		return Default(), true
	}
	p, ok := named[name]
	return p, ok
}

// current holds the process-wide active profile. The runtime exposes it
// through package-level Set/Get functions mirroring the collaborator-facing
// API's process-wide tuning semantics: one active profile per process,
// consulted by every subsequent operation.
var (
	mu      sync.RWMutex
	current = Default()
)

// Set installs p as the process-wide active profile.
func Set(p Profile) {
	mu.Lock()
	defer mu.Unlock()
	current = p
}

// Get returns the process-wide active profile.
func Get() Profile {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
