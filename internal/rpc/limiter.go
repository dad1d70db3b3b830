package rpc

import (
	"time"

	"github.com/CXLMemUring/Splash/internal/tuning"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// TransferLimiter throttles outbound GET/PUT transfers to the rate the
// tuning profile's BandwidthPriority implies, the same token-bucket
// technique the source mesh used for its gossip fan-out, keyed by
// destination node instead of by gossip peer. It counts transfers, one
// token each, not payload bytes.
type TransferLimiter struct {
	bucket *limiter.TokenBucket
	store  store.Store
}

// NewTransferLimiter builds a limiter that refills
// BandwidthPriority*TransferSize/100 tokens per second (TransferSize when
// that is zero) with a burst of twice the rate.
func NewTransferLimiter(profile tuning.Profile) (*TransferLimiter, error) {
	st := store.NewMemoryStore(time.Minute)
	ratePerSecond := int64(profile.BandwidthPriority) * int64(profile.TransferSize) / 100
	if ratePerSecond <= 0 {
		ratePerSecond = int64(profile.TransferSize)
	}

	bucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     ratePerSecond,
		Duration: time.Second,
		Burst:    ratePerSecond * 2,
	}, st)
	if err != nil {
		return nil, err
	}
	return &TransferLimiter{bucket: bucket, store: st}, nil
}

// Allow reports whether a transfer to nodeID may proceed now, taking one
// token from nodeID's bucket; the byte count is not used. A caller that gets false should retry after a short delay
// rather than block indefinitely; throttling is advisory performance
// shaping, never a correctness gate.
func (l *TransferLimiter) Allow(nodeID uint16, bytes uint64) bool {
	return l.bucket.Allow(nodeKey(nodeID))
}

func nodeKey(nodeID uint16) string {
	const hex = "0123456789abcdef"
	return "node-" + string([]byte{hex[nodeID>>12&0xf], hex[nodeID>>8&0xf], hex[nodeID>>4&0xf], hex[nodeID&0xf]})
}
