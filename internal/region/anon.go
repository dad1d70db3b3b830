//go:build linux

package region

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// anonProvider backs a region with an anonymous mmap, optionally hinting
// huge pages. This is the last two rungs of the acquisition order.
type anonProvider struct {
	data    []byte
	hugePage bool
}

// openHugePage implements acquisition step (3): an anonymous mapping backed
// by huge pages, sized to the configured region size.
func openHugePage(size uint64) (Provider, error) {
	size = clampSize(size)
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	if err != nil {
		return nil, fmt.Errorf("region: huge-page anonymous mmap: %w", err)
	}
	return &anonProvider{data: data, hugePage: true}, nil
}

// openAnon implements acquisition step (4): a plain anonymous mapping, the
// final fallback that never fails for a sane size.
func openAnon(size uint64) (Provider, error) {
	size = clampSize(size)
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("region: anonymous mmap: %w", err)
	}
	return &anonProvider{data: data}, nil
}

func (a *anonProvider) Base() []byte  { return a.data }
func (a *anonProvider) Size() uint64  { return uint64(len(a.data)) }
func (a *anonProvider) NUMANode() int { return -1 }

func (a *anonProvider) Kind() string {
	if a.hugePage {
		return "hugepage"
	}
	return "anon"
}

func (a *anonProvider) Close() error {
	if a.data == nil {
		return nil
	}
	err := unix.Munmap(a.data)
	a.data = nil
	return err
}
