package rpc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/CXLMemUring/Splash/internal/wire"
)

// Engine serializes request/response traffic over a Manager's peer
// connections and demultiplexes responses back to the caller that issued
// the matching request, keyed by RequestID.
type Engine struct {
	mgr     *Manager
	local   uint16
	nextReq uint64

	pending   sync.Map // RequestID -> chan wire.Frame
	readersMu sync.Mutex
	readers   map[uint16]bool // peers with a reader goroutine already running
}

// NewEngine builds an Engine over mgr for the given local node id.
func NewEngine(mgr *Manager, localNode uint16) *Engine {
	return &Engine{mgr: mgr, local: localNode, readers: make(map[uint16]bool)}
}

// SendRecv sends body on the connection this process dialed to nodeID and
// blocks for the matching response. It starts that peer's response reader
// goroutine on first use.
func (e *Engine) SendRecv(nodeID uint16, msgType wire.MsgType, body wire.Body, payload []byte) (wire.Frame, error) {
	peer := e.mgr.Peer(nodeID)
	if peer == nil {
		return wire.Frame{}, fmt.Errorf("rpc: unknown node %d", nodeID)
	}

	peer.mu.Lock()
	conn := peer.Out
	peer.mu.Unlock()
	if conn == nil {
		return wire.Frame{}, fmt.Errorf("rpc: no outbound connection to node %d", nodeID)
	}

	e.ensureReader(peer)

	reqID := atomic.AddUint64(&e.nextReq, 1)
	respCh := make(chan wire.Frame, 1)
	e.pending.Store(reqID, respCh)
	defer e.pending.Delete(reqID)

	frame := wire.NewFrame(msgType, e.local, nodeID, reqID, body, payload)

	peer.sendMu.Lock()
	_, err := frame.WriteTo(conn)
	peer.sendMu.Unlock()
	if err != nil {
		return wire.Frame{}, fmt.Errorf("rpc: send to node %d: %w", nodeID, err)
	}

	resp := <-respCh
	return resp, nil
}

// NextRequestID returns a fresh monotonically increasing request id. It is
// exposed for callers that build their own fire-and-forget frames (FREE)
// and still want a distinct id for diagnostics even
// though no reply is ever awaited for it.
func (e *Engine) NextRequestID() uint64 {
	return atomic.AddUint64(&e.nextReq, 1)
}

// FireAndForget sends body to nodeID without waiting for a response
// (FREE and the BARRIER announce fan-out use this).
func (e *Engine) FireAndForget(nodeID uint16, msgType wire.MsgType, requestID uint64, body wire.Body, payload []byte) error {
	peer := e.mgr.Peer(nodeID)
	if peer == nil {
		return fmt.Errorf("rpc: unknown node %d", nodeID)
	}
	peer.mu.Lock()
	conn := peer.Out
	peer.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rpc: no outbound connection to node %d", nodeID)
	}

	frame := wire.NewFrame(msgType, e.local, nodeID, requestID, body, payload)
	peer.sendMu.Lock()
	defer peer.sendMu.Unlock()
	_, err := frame.WriteTo(conn)
	return err
}

// ensureReader starts exactly one goroutine per peer reading responses off
// the connection this process dialed to that peer (Out), routing each
// frame to the pending SendRecv call with the matching RequestID.
func (e *Engine) ensureReader(peer *Peer) {
	e.readersMu.Lock()
	defer e.readersMu.Unlock()
	if e.readers[peer.NodeID] {
		return
	}
	e.readers[peer.NodeID] = true

	peer.mu.Lock()
	conn := peer.Out
	peer.mu.Unlock()

	go func() {
		for {
			frame, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			if ch, ok := e.pending.Load(frame.Header.RequestID); ok {
				ch.(chan wire.Frame) <- frame
			}
		}
	}()
}
