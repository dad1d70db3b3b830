package rpc

import (
	"github.com/CXLMemUring/Splash/internal/cacheline"
	"github.com/CXLMemUring/Splash/internal/gptr"
	"github.com/CXLMemUring/Splash/internal/heap"
	"github.com/CXLMemUring/Splash/internal/logging"
	"github.com/CXLMemUring/Splash/internal/region"
	"github.com/CXLMemUring/Splash/internal/stats"
	"github.com/CXLMemUring/Splash/internal/wire"
)

// Server answers the GET/PUT/ATOMIC_FAA/ATOMIC_CAS/ALLOC/FREE/BARRIER
// requests peers send against this node's own region, heap, and segment
// table. One Server per process; it reads every peer's In connection
// (the leg that peer dialed) and replies on that same connection, since a
// peer's request and this node's response always share the socket the
// peer initiated.
type Server struct {
	mgr       *Manager
	region    region.Provider
	heap      *heap.Allocator
	localNode uint16
	counters  *stats.Counters
	log       *logging.Logger

	barrier *barrierCoordinator
	engine  *Engine
}

// SetEngine attaches the Engine this Server uses to originate its own
// Barrier announcements. Must be called once before Barrier is used.
func (s *Server) SetEngine(e *Engine) { s.engine = e }

// NewServer builds a Server over the given region and allocator.
func NewServer(mgr *Manager, localNode uint16, reg region.Provider, h *heap.Allocator, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default("rpc-server")
	}
	return &Server{
		mgr:       mgr,
		region:    reg,
		heap:      h,
		localNode: localNode,
		counters:  stats.Global(),
		log:       log,
		barrier:   newBarrierCoordinator(),
	}
}

// Serve starts one goroutine per connected peer, reading requests off the
// leg that peer dialed (In) and replying on it.
func (s *Server) Serve() {
	s.mgr.mu.RLock()
	defer s.mgr.mu.RUnlock()
	for _, p := range s.mgr.peers {
		p.mu.Lock()
		conn := p.In
		p.mu.Unlock()
		if conn != nil {
			go s.serveConn(p)
		}
	}
}

func (s *Server) serveConn(p *Peer) {
	p.mu.Lock()
	conn := p.In
	p.mu.Unlock()

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			s.log.Debug("peer connection closed", logging.Uint32("node", uint32(p.NodeID)), logging.Err(err))
			return
		}
		s.dispatch(p, frame)
	}
}

func (s *Server) dispatch(p *Peer, req wire.Frame) {
	switch req.Header.MsgType {
	case wire.MsgGet:
		s.handleGet(p, req)
	case wire.MsgPut:
		s.handlePut(p, req)
	case wire.MsgAtomicFAA:
		s.handleFAA(p, req)
	case wire.MsgAtomicCAS:
		s.handleCAS(p, req)
	case wire.MsgAtomicFetchAnd:
		s.handleFetchAnd(p, req)
	case wire.MsgAtomicFetchOr:
		s.handleFetchOr(p, req)
	case wire.MsgAlloc:
		s.handleAlloc(p, req)
	case wire.MsgFree:
		s.handleFree(p, req)
	case wire.MsgBarrier:
		s.barrier.handleAnnounce(s, p, req)
	default:
		s.log.Warn("unhandled message type", logging.String("type", req.Header.MsgType.String()))
	}
}

func (s *Server) reply(p *Peer, msgType wire.MsgType, req wire.Frame, body wire.Body, payload []byte) {
	resp := wire.NewFrame(msgType, s.localNode, p.NodeID, req.Header.RequestID, body, payload)
	p.mu.Lock()
	conn := p.In
	p.mu.Unlock()
	if conn == nil {
		return
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if _, err := resp.WriteTo(conn); err != nil {
		s.log.Debug("reply failed", logging.Err(err))
	}
}

func (s *Server) handleGet(p *Peer, req wire.Frame) {
	s.counters.RecordRemoteRead()
	base := s.region.Base()
	offset := req.Body.Ptr.Offset
	length := req.Body.Size

	if offset+length > uint64(len(base)) {
		s.reply(p, wire.MsgGetResp, req, wire.Body{Size: 0}, nil)
		return
	}
	data := make([]byte, length)
	copy(data, base[offset:offset+length])
	s.counters.RecordBytesSent(length)
	s.reply(p, wire.MsgGetResp, req, wire.Body{Size: length}, data)
}

func (s *Server) handlePut(p *Peer, req wire.Frame) {
	s.counters.RecordRemoteWrite()
	base := s.region.Base()
	offset := req.Body.Ptr.Offset
	length := uint64(len(req.Payload))

	if offset+length > uint64(len(base)) {
		s.reply(p, wire.MsgPutResp, req, wire.Body{Value: 1}, nil)
		return
	}
	copy(base[offset:offset+length], req.Payload)
	s.counters.RecordBytesRecv(length)
	s.reply(p, wire.MsgPutResp, req, wire.Body{Value: 0}, nil)
}

// handleFAA applies a fetch-and-add to the 8 bytes at the pointer's offset
// and returns the prior value. The region is addressed directly since the
// allocator's payload alignment already guarantees 8-byte alignment for
// any offset an allocation handed out.
func (s *Server) handleFAA(p *Peer, req wire.Frame) {
	s.counters.RecordRemoteAtomic()
	old := region.FetchAdd64(s.region.Base(), req.Body.Ptr.Offset, req.Body.Value)
	s.reply(p, wire.MsgAtomicResp, req, wire.Body{Value: old}, nil)
}

func (s *Server) handleFetchAnd(p *Peer, req wire.Frame) {
	s.counters.RecordRemoteAtomic()
	old := region.FetchAnd64(s.region.Base(), req.Body.Ptr.Offset, req.Body.Value)
	s.reply(p, wire.MsgAtomicResp, req, wire.Body{Value: old}, nil)
}

func (s *Server) handleFetchOr(p *Peer, req wire.Frame) {
	s.counters.RecordRemoteAtomic()
	old := region.FetchOr64(s.region.Base(), req.Body.Ptr.Offset, req.Body.Value)
	s.reply(p, wire.MsgAtomicResp, req, wire.Body{Value: old}, nil)
}

// handleCAS implements compare-and-swap: req.Body.Value carries the
// expected value, req.Body.Size is reused to carry the desired value (the
// wire body has no fourth 64-bit field, and CAS is the only operation that
// needs three scalars). The response's Value field carries the value
// observed at the slot before the operation, so a caller can distinguish a
// successful swap from a failed comparison.
func (s *Server) handleCAS(p *Peer, req wire.Frame) {
	s.counters.RecordRemoteAtomic()
	expected := req.Body.Value
	desired := req.Body.Size

	old := region.CompareAndSwap64(s.region.Base(), req.Body.Ptr.Offset, expected, desired)
	swapped := uint64(0)
	if old == expected {
		swapped = 1
	}
	s.reply(p, wire.MsgAtomicResp, req, wire.Body{Value: old, Size: swapped}, nil)
}

func (s *Server) handleAlloc(p *Peer, req wire.Frame) {
	offset, err := s.heap.Alloc(req.Body.Size, req.Body.Value)
	if err != nil {
		s.reply(p, wire.MsgAllocResp, req, wire.Body{Ptr: gptr.Null()}, nil)
		return
	}
	ptr := gptr.FromLocalOffset(s.localNode, offset)
	s.reply(p, wire.MsgAllocResp, req, wire.Body{Ptr: ptr}, nil)
}

// handleFree is fire-and-forget per §4.5/§4.7: FREE carries no reply, so
// this neither sends one nor reports a failed free back to the sender.
func (s *Server) handleFree(p *Peer, req wire.Frame) {
	_ = s.heap.Free(req.Body.Ptr.Offset)
}
