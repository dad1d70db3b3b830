//go:build linux

package pgas

import "errors"

// These sentinels classify Init's failure modes per the daemon's
// documented exit-code contract: configuration and region-acquisition
// problems are both fatal setup errors, while a bring-up that could not
// connect to a single peer is a distinct, more specific failure a caller
// may want to handle separately.
var (
	// ErrConfig wraps any failure to load or validate the membership file.
	ErrConfig = errors.New("pgas: configuration error")
	// ErrRegionOpen wraps any failure to acquire this node's shared region.
	ErrRegionOpen = errors.New("pgas: region acquisition error")
	// ErrBringUpFailed wraps a bring-up in which zero peers connected,
	// distinct from degraded bring-up (some, not all, peers connected),
	// which Init does not treat as an error.
	ErrBringUpFailed = errors.New("pgas: bring-up failed to connect to any peer")
)
