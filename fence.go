//go:build linux

package pgas

import "github.com/CXLMemUring/Splash/internal/cacheline"

// FenceKind selects one of the four consistency flavors Fence supports.
type FenceKind = cacheline.FenceKind

const (
	FenceRelaxed = cacheline.Relaxed
	FenceAcquire = cacheline.Acquire
	FenceRelease = cacheline.Release
	FenceSeqCst  = cacheline.SeqCst
)

func doFence(kind FenceKind) {
	cacheline.Fence(kind)
}
