package stats

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
)

func TestCountersSnapshotAndReset(t *testing.T) {
	var c Counters
	c.RecordLocalRead()
	c.RecordLocalRead()
	c.RecordRemoteWrite()
	c.RecordLocalAtomic()
	c.RecordBarrier()
	c.RecordBytesSent(100)
	c.RecordBytesRecv(40)
	c.RecordLatency(10 * time.Millisecond)
	c.RecordLatency(30 * time.Millisecond)

	snap := c.Snapshot()
	require.Equal(t, uint64(2), snap.LocalReads)
	require.Equal(t, uint64(1), snap.RemoteWrites)
	require.Equal(t, uint64(1), snap.LocalAtomics)
	require.Equal(t, uint64(1), snap.Barriers)
	require.Equal(t, uint64(100), snap.BytesSent)
	require.Equal(t, uint64(40), snap.BytesRecv)
	require.Equal(t, uint64(20*time.Millisecond), snap.AvgLatencyNanos)

	c.Reset()
	snap = c.Snapshot()
	require.Zero(t, snap.LocalReads)
	require.Zero(t, snap.AvgLatencyNanos)
}

func TestCompressSnapshotRoundTrip(t *testing.T) {
	var c Counters
	c.RecordLocalRead()
	c.RecordBytesSent(4096)
	snap := c.Snapshot()

	compressed, err := CompressSnapshot(snap)
	require.NoError(t, err)
	require.NotEmpty(t, compressed)

	r := brotli.NewReader(bytes.NewReader(compressed))
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Contains(t, string(plain), "local_reads=1")
	require.Contains(t, string(plain), "bytes_sent=4096")
}

func TestGlobalIsSingleton(t *testing.T) {
	Global().Reset()
	Global().RecordLocalWrite()
	require.Equal(t, uint64(1), Global().Snapshot().LocalWrites)
	Global().Reset()
}
