package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CXLMemUring/Splash/internal/gptr"
	"github.com/CXLMemUring/Splash/internal/heap"
	"github.com/CXLMemUring/Splash/internal/logging"
	"github.com/CXLMemUring/Splash/internal/nodeconfig"
	"github.com/CXLMemUring/Splash/internal/wire"
)

// fakeRegion is an in-process stand-in for region.Provider backed by a
// plain byte slice, so rpc-layer tests never need a real mmap.
type fakeRegion struct{ data []byte }

func (f *fakeRegion) Base() []byte  { return f.data }
func (f *fakeRegion) Size() uint64  { return uint64(len(f.data)) }
func (f *fakeRegion) NUMANode() int { return -1 }
func (f *fakeRegion) Kind() string  { return "fake" }
func (f *fakeRegion) Close() error  { return nil }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// twoNodeConfig builds a two-member ensemble on loopback for node id idx,
// given both ports up front.
func twoNodeConfig(idx uint16, ports [2]int) *nodeconfig.Config {
	nodes := []nodeconfig.Node{
		{NodeID: 0, Hostname: "127.0.0.1", Port: ports[0], RegionSize: 1 << 20},
		{NodeID: 1, Hostname: "127.0.0.1", Port: ports[1], RegionSize: 1 << 20},
	}
	nodes[idx].IsLocal = true
	return &nodeconfig.Config{LocalNodeID: idx, NumNodes: 2, Nodes: nodes}
}

// setupPair brings up two Managers (+ Engines/Servers) on loopback and
// returns them once both legs of the peer pair are connected.
func setupPair(t *testing.T) (mgr0, mgr1 *Manager, srv0, srv1 *Server, eng0, eng1 *Engine) {
	t.Helper()
	ports := [2]int{freePort(t), freePort(t)}
	cfg0 := twoNodeConfig(0, ports)
	cfg1 := twoNodeConfig(1, ports)

	log := logging.Default("test")
	mgr0 = NewManager(cfg0, log)
	mgr1 = NewManager(cfg1, log)

	region0 := &fakeRegion{data: make([]byte, 1<<20)}
	region1 := &fakeRegion{data: make([]byte, 1<<20)}
	heap0 := heap.New(region0.data)
	heap1 := heap.New(region1.data)

	srv0 = NewServer(mgr0, 0, region0, heap0, log)
	srv1 = NewServer(mgr1, 1, region1, heap1, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { _, err := mgr0.BringUp(ctx, cfg0); errCh <- err }()
	go func() { _, err := mgr1.BringUp(ctx, cfg1); errCh <- err }()
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	eng0 = NewEngine(mgr0, 0)
	eng1 = NewEngine(mgr1, 1)
	srv0.SetEngine(eng0)
	srv1.SetEngine(eng1)
	srv0.Serve()
	srv1.Serve()

	return mgr0, mgr1, srv0, srv1, eng0, eng1
}

// TestHandshakeRouting is testable property #8: after bring-up, node 0's
// SendRecv toward node 1 travels on the socket node 0 itself dialed, and
// vice versa -- never the reverse leg.
func TestHandshakeRouting(t *testing.T) {
	mgr0, mgr1, _, _, _, _ := setupPair(t)
	defer mgr0.Close()
	defer mgr1.Close()

	p0to1 := mgr0.Peer(1)
	p1to0 := mgr1.Peer(0)
	require.NotNil(t, p0to1)
	require.NotNil(t, p1to0)
	require.True(t, p0to1.connected())
	require.True(t, p1to0.connected())

	// The socket node 0 dialed (p0to1.Out) must be the same TCP pair as
	// the socket node 1 accepted (p1to0.In): a write on one side's local
	// addr matches the other's remote addr.
	require.Equal(t, p0to1.Out.LocalAddr().String(), p1to0.In.RemoteAddr().String())
	require.Equal(t, p1to0.Out.LocalAddr().String(), p0to1.In.RemoteAddr().String())
}

func TestGetPutRoundTrip(t *testing.T) {
	mgr0, mgr1, srv0, srv1, eng0, _ := setupPair(t)
	defer mgr0.Close()
	defer mgr1.Close()
	_ = srv0
	_ = srv1

	offset, err := srv1.heap.Alloc(64, 64)
	require.NoError(t, err)
	ptr := gptr.FromLocalOffset(1, offset)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	resp, err := eng0.SendRecv(1, wire.MsgPut, wire.Body{Ptr: ptr}, payload)
	require.NoError(t, err)
	require.Equal(t, wire.MsgPutResp, resp.Header.MsgType)

	resp, err = eng0.SendRecv(1, wire.MsgGet, wire.Body{Ptr: ptr, Size: 64}, nil)
	require.NoError(t, err)
	require.Equal(t, payload, resp.Payload)
}

func TestRemoteAtomics(t *testing.T) {
	mgr0, mgr1, _, srv1, eng0, _ := setupPair(t)
	defer mgr0.Close()
	defer mgr1.Close()

	offset, err := srv1.heap.Alloc(8, 8)
	require.NoError(t, err)
	ptr := gptr.FromLocalOffset(1, offset)

	for i := uint64(1); i <= 10; i++ {
		resp, err := eng0.SendRecv(1, wire.MsgAtomicFAA, wire.Body{Ptr: ptr, Value: 1}, nil)
		require.NoError(t, err)
		require.Equal(t, i-1, resp.Body.Value)
	}

	resp, err := eng0.SendRecv(1, wire.MsgAtomicCAS, wire.Body{Ptr: ptr, Value: 10, Size: 99}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10), resp.Body.Value)
	require.Equal(t, uint64(1), resp.Body.Size, "swap should have occurred")
}

func TestBarrierReleasesBothNodes(t *testing.T) {
	mgr0, mgr1, srv0, srv1, _, _ := setupPair(t)
	defer mgr0.Close()
	defer mgr1.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- srv0.Barrier(ctx) }()
	go func() { done <- srv1.Barrier(ctx) }()

	require.NoError(t, <-done)
	require.NoError(t, <-done)
}
