// Package stats tracks per-process counters for every operation the
// runtime performs, split by whether the operation resolved locally or
// crossed the wire to a peer. Every counter is a plain atomic; nothing here
// ever takes a lock, since stats are read far more often than a lock-free
// counter would cost to maintain.
package stats

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
)

// Counters is the live set of process-wide statistics. The zero value is
// ready to use; a process holds exactly one Counters for its lifetime.
type Counters struct {
	LocalReads    uint64
	LocalWrites   uint64
	RemoteReads   uint64
	RemoteWrites  uint64
	LocalAtomics  uint64
	RemoteAtomics uint64
	Barriers      uint64
	BytesSent     uint64
	BytesRecv     uint64

	latencySumNanos uint64
	latencyCount    uint64
}

var global Counters

// Global returns the process-wide counter set.
func Global() *Counters { return &global }

func (c *Counters) RecordLocalRead()   { atomic.AddUint64(&c.LocalReads, 1) }
func (c *Counters) RecordLocalWrite()  { atomic.AddUint64(&c.LocalWrites, 1) }
func (c *Counters) RecordRemoteRead()  { atomic.AddUint64(&c.RemoteReads, 1) }
func (c *Counters) RecordRemoteWrite() { atomic.AddUint64(&c.RemoteWrites, 1) }
func (c *Counters) RecordLocalAtomic() { atomic.AddUint64(&c.LocalAtomics, 1) }

func (c *Counters) RecordRemoteAtomic() { atomic.AddUint64(&c.RemoteAtomics, 1) }
func (c *Counters) RecordBarrier()      { atomic.AddUint64(&c.Barriers, 1) }

func (c *Counters) RecordBytesSent(n uint64) { atomic.AddUint64(&c.BytesSent, n) }
func (c *Counters) RecordBytesRecv(n uint64) { atomic.AddUint64(&c.BytesRecv, n) }

// RecordLatency folds one remote round-trip observation into the running
// average. The average is recomputed from the running sum on every Snapshot
// rather than maintained incrementally, trading a little Snapshot cost for
// an exact mean instead of an exponential approximation.
func (c *Counters) RecordLatency(d time.Duration) {
	atomic.AddUint64(&c.latencySumNanos, uint64(d.Nanoseconds()))
	atomic.AddUint64(&c.latencyCount, 1)
}

// Snapshot is a point-in-time copy of every counter, safe to hand to a
// caller without further synchronization.
type Snapshot struct {
	LocalReads      uint64
	LocalWrites     uint64
	RemoteReads     uint64
	RemoteWrites    uint64
	LocalAtomics    uint64
	RemoteAtomics   uint64
	Barriers        uint64
	BytesSent       uint64
	BytesRecv       uint64
	AvgLatencyNanos uint64
}

// Snapshot reads every counter into a Snapshot.
func (c *Counters) Snapshot() Snapshot {
	count := atomic.LoadUint64(&c.latencyCount)
	var avg uint64
	if count > 0 {
		avg = atomic.LoadUint64(&c.latencySumNanos) / count
	}
	return Snapshot{
		LocalReads:      atomic.LoadUint64(&c.LocalReads),
		LocalWrites:     atomic.LoadUint64(&c.LocalWrites),
		RemoteReads:     atomic.LoadUint64(&c.RemoteReads),
		RemoteWrites:    atomic.LoadUint64(&c.RemoteWrites),
		LocalAtomics:    atomic.LoadUint64(&c.LocalAtomics),
		RemoteAtomics:   atomic.LoadUint64(&c.RemoteAtomics),
		Barriers:        atomic.LoadUint64(&c.Barriers),
		BytesSent:       atomic.LoadUint64(&c.BytesSent),
		BytesRecv:       atomic.LoadUint64(&c.BytesRecv),
		AvgLatencyNanos: avg,
	}
}

// Reset zeroes every counter. Intended for test isolation and for the
// collaborator-facing ResetStats call; never called from hot paths.
func (c *Counters) Reset() {
	atomic.StoreUint64(&c.LocalReads, 0)
	atomic.StoreUint64(&c.LocalWrites, 0)
	atomic.StoreUint64(&c.RemoteReads, 0)
	atomic.StoreUint64(&c.RemoteWrites, 0)
	atomic.StoreUint64(&c.LocalAtomics, 0)
	atomic.StoreUint64(&c.RemoteAtomics, 0)
	atomic.StoreUint64(&c.Barriers, 0)
	atomic.StoreUint64(&c.BytesSent, 0)
	atomic.StoreUint64(&c.BytesRecv, 0)
	atomic.StoreUint64(&c.latencySumNanos, 0)
	atomic.StoreUint64(&c.latencyCount, 0)
}

// CompressSnapshot renders s as a compact line-oriented diagnostic blob and
// brotli-compresses it, for inclusion in a shutdown diagnostic bundle
// without bloating the daemon's log output.
func CompressSnapshot(s Snapshot) ([]byte, error) {
	var plain bytes.Buffer
	writeKV(&plain, "local_reads", s.LocalReads)
	writeKV(&plain, "local_writes", s.LocalWrites)
	writeKV(&plain, "remote_reads", s.RemoteReads)
	writeKV(&plain, "remote_writes", s.RemoteWrites)
	writeKV(&plain, "local_atomics", s.LocalAtomics)
	writeKV(&plain, "remote_atomics", s.RemoteAtomics)
	writeKV(&plain, "barriers", s.Barriers)
	writeKV(&plain, "bytes_sent", s.BytesSent)
	writeKV(&plain, "bytes_recv", s.BytesRecv)
	writeKV(&plain, "avg_latency_ns", s.AvgLatencyNanos)

	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	if _, err := w.Write(plain.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

func writeKV(buf *bytes.Buffer, key string, value uint64) {
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(itoa(value))
	buf.WriteByte('\n')
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
