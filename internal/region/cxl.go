//go:build linux

package region

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const cxlBusDir = "/sys/bus/cxl/devices"

// openCXL implements acquisition step (2): enumerate the memory-class CXL
// bus and use the reported size of the first usable region. CXL memory
// regions expose their byte range through an associated dax device, so the
// mapping itself reuses the same mmap path as device-DAX.
func openCXL() (Provider, error) {
	entries, err := os.ReadDir(cxlBusDir)
	if err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("region: no cxl memory-class bus entries available: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "region") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sysDir := filepath.Join(cxlBusDir, name)
		sizeBytes, err := os.ReadFile(filepath.Join(sysDir, "size"))
		if err != nil {
			continue
		}
		size, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(string(sizeBytes), "0x")), 16, 64)
		if err != nil || size == 0 {
			continue
		}

		devPath := filepath.Join("/dev", "dax"+strings.TrimPrefix(name, "region")+".0")
		file, err := os.OpenFile(devPath, os.O_RDWR, 0)
		if err != nil {
			continue
		}

		mapSize := clampSize(size)
		data, err := unix.Mmap(int(file.Fd()), 0, int(mapSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = file.Close()
			continue
		}

		return &daxProvider{path: devPath, file: file, data: data, numa: -1, kind: "cxl"}, nil
	}

	return nil, fmt.Errorf("region: no mappable cxl region found")
}
