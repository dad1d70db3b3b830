//go:build linux

package pgas

import "github.com/CXLMemUring/Splash/internal/region"

func localFAA(base []byte, offset, delta uint64) uint64 {
	return region.FetchAdd64(base, offset, delta)
}

func localCAS(base []byte, offset, expected, desired uint64) uint64 {
	return region.CompareAndSwap64(base, offset, expected, desired)
}
