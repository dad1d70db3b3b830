//go:build linux

package pgas

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CXLMemUring/Splash/internal/heap"
)

func freeTestPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeSingleNodeConfig(t *testing.T, port int) string {
	t.Helper()
	body := fmt.Sprintf("local_node_id=0\nnum_nodes=1\nnode0=127.0.0.1:%d:0x0:1048576\n", port)
	path := filepath.Join(t.TempDir(), "single.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeTwoNodeConfig(t *testing.T, localID uint16, ports [2]int) string {
	t.Helper()
	body := fmt.Sprintf(
		"local_node_id=%d\nnum_nodes=2\nnode0=127.0.0.1:%d:0x0:1048576\nnode1=127.0.0.1:%d:0x0:1048576\n",
		localID, ports[0], ports[1])
	path := filepath.Join(t.TempDir(), fmt.Sprintf("node%d.conf", localID))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLocalPutGetRoundTrip is scenario S1: a single-node ensemble writes a
// byte pattern and reads it back without ever touching the network.
func TestLocalPutGetRoundTrip(t *testing.T) {
	path := writeSingleNodeConfig(t, freeTestPort(t))
	ctx := context.Background()

	rt, err := Init(ctx, path)
	require.NoError(t, err)
	defer rt.Finalize()

	ptr, err := rt.Alloc(ctx, 4096, Local)
	require.NoError(t, err)

	pattern := make([]byte, 4096)
	for i := range pattern {
		pattern[i] = 0xAA
	}
	require.NoError(t, rt.Put(ctx, ptr, pattern))

	got, err := rt.Get(ctx, ptr, 4096)
	require.NoError(t, err)
	require.Equal(t, pattern, got)

	require.NoError(t, rt.Free(ctx, ptr))
}

func TestPtrUtilities(t *testing.T) {
	require.True(t, PtrIsNull(NullPtr()))
	a := Ptr{NodeID: 1, Offset: 10}
	b := PtrAdd(PtrAdd(a, 5), 7)
	require.True(t, PtrEqual(b, PtrAdd(a, 12)))
	require.Equal(t, PtrNode(a), PtrNode(b))
}

// twoNodeEnsemble brings up a two-node ensemble on loopback and returns
// both runtimes, ready for remote operations in either direction.
func twoNodeEnsemble(t *testing.T) (rt0, rt1 *Runtime) {
	t.Helper()
	ports := [2]int{freeTestPort(t), freeTestPort(t)}
	cfg0 := writeTwoNodeConfig(t, 0, ports)
	cfg1 := writeTwoNodeConfig(t, 1, ports)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var rts [2]*Runtime
	var errs [2]error
	wg.Add(2)
	go func() { defer wg.Done(); rts[0], errs[0] = Init(ctx, cfg0) }()
	go func() { defer wg.Done(); rts[1], errs[1] = Init(ctx, cfg1) }()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	return rts[0], rts[1]
}

// TestRemotePutGetRoundTrip is scenario S2: node 0 allocates on node 1,
// writes bytes from node 0, and reads them back both remotely and via
// node 1's own local_ptr view of the same allocation.
func TestRemotePutGetRoundTrip(t *testing.T) {
	rt0, rt1 := twoNodeEnsemble(t)
	defer rt0.Finalize()
	defer rt1.Finalize()

	ctx := context.Background()
	ptr, err := rt0.AllocOnNode(ctx, 1, 64)
	require.NoError(t, err)
	require.Equal(t, uint16(1), PtrNode(ptr))

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	require.NoError(t, rt0.Put(ctx, ptr, payload))

	got, err := rt0.Get(ctx, ptr, 64)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	offset, ok := rt1.LocalPtr(ptr)
	require.True(t, ok)
	require.True(t, rt1.IsLocal(ptr))
	require.Equal(t, payload, rt1.region.Base()[offset:offset+64])
}

// TestRemoteFree exercises the fire-and-forget FREE path: a remote free
// must return without waiting for any reply, and the freed space must
// become available again on the owning node once the request lands.
func TestRemoteFree(t *testing.T) {
	rt0, rt1 := twoNodeEnsemble(t)
	defer rt0.Finalize()
	defer rt1.Finalize()

	ctx := context.Background()
	const chunk = 600 * 1024 // large enough that two live chunks exceed the 1 MiB region

	ptr, err := rt0.AllocOnNode(ctx, 1, chunk)
	require.NoError(t, err)

	_, err = rt0.AllocOnNode(ctx, 1, chunk)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)

	require.NoError(t, rt0.Free(ctx, ptr))

	// Free carries no reply, so the freed space only becomes visible on
	// node 1 once the fire-and-forget request has actually been handled;
	// poll rather than assuming it has landed by the time Free returns.
	require.Eventually(t, func() bool {
		_, err := rt0.AllocOnNode(ctx, 1, chunk)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

// TestRemoteFetchAdd is scenario S3, scaled down from 10,000 rounds to keep
// the test fast while still exercising per-address linearizability.
func TestRemoteFetchAdd(t *testing.T) {
	rt0, rt1 := twoNodeEnsemble(t)
	defer rt0.Finalize()
	defer rt1.Finalize()

	ctx := context.Background()
	ptr, err := rt0.AllocOnNode(ctx, 1, 8)
	require.NoError(t, err)

	const rounds = 200
	seen := make(map[uint64]bool, rounds)
	for i := 0; i < rounds; i++ {
		prior, err := rt0.AtomicFetchAdd(ctx, ptr, 1)
		require.NoError(t, err)
		require.False(t, seen[prior], "prior value %d observed twice", prior)
		seen[prior] = true
	}

	final, err := rt1.Get(ctx, ptr, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(rounds), leU64(final))
}

// TestBarrierHappensBefore is scenario S5: node 0 writes a value locally,
// both nodes enter the barrier, and node 1 observes the write afterward.
func TestBarrierHappensBefore(t *testing.T) {
	rt0, rt1 := twoNodeEnsemble(t)
	defer rt0.Finalize()
	defer rt1.Finalize()

	ctx := context.Background()
	ptr, err := rt0.Alloc(ctx, 8, Local)
	require.NoError(t, err)

	want := make([]byte, 8)
	want[0], want[1] = 0xAD, 0xDE // little-endian 0xDEAD in the low bytes
	require.NoError(t, rt0.Put(ctx, ptr, want))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); require.NoError(t, rt0.Barrier(ctx)) }()
	go func() { defer wg.Done(); require.NoError(t, rt1.Barrier(ctx)) }()
	wg.Wait()

	got, err := rt1.Get(ctx, ptr, 8)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
