package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/CXLMemUring/Splash/internal/logging"
	"github.com/CXLMemUring/Splash/internal/stats"
	"github.com/CXLMemUring/Splash/internal/wire"
)

// barrierCoordinator tracks, for each barrier generation, which nodes
// (peers plus this node itself) have announced their arrival. A generation
// is complete once every expected node has announced, at which point any
// local caller blocked in Barrier for that generation is released. This
// realizes the three phases as: announce (every node broadcasts on entry),
// acknowledge (the coordinator replies to each inbound announce as it is
// recorded), and release (the local waiter unblocks once the set is
// complete).
type barrierCoordinator struct {
	mu      sync.Mutex
	arrived map[uint64]map[uint16]bool
	waiters map[uint64]chan struct{}
	nextGen uint64
}

func newBarrierCoordinator() *barrierCoordinator {
	return &barrierCoordinator{
		arrived: make(map[uint64]map[uint16]bool),
		waiters: make(map[uint64]chan struct{}),
	}
}

func (b *barrierCoordinator) waiterFor(gen uint64) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.waiters[gen]
	if !ok {
		ch = make(chan struct{})
		b.waiters[gen] = ch
	}
	return ch
}

// recordArrival registers that nodeID has announced generation gen and
// releases any local waiter the instant the expected set is complete.
func (b *barrierCoordinator) recordArrival(gen uint64, nodeID uint16, expect int) {
	b.mu.Lock()
	set, ok := b.arrived[gen]
	if !ok {
		set = make(map[uint16]bool)
		b.arrived[gen] = set
	}
	set[nodeID] = true
	complete := len(set) >= expect
	var ch chan struct{}
	if complete {
		ch, ok = b.waiters[gen]
		if !ok {
			ch = make(chan struct{})
			b.waiters[gen] = ch
		}
		delete(b.arrived, gen)
	}
	b.mu.Unlock()

	if complete {
		close(ch)
	}
}

// handleAnnounce processes an inbound BARRIER frame: acknowledges it, then
// records the sender's arrival for the announced generation.
func (b *barrierCoordinator) handleAnnounce(s *Server, p *Peer, req wire.Frame) {
	gen := req.Header.RequestID
	s.reply(p, wire.MsgBarrierResp, req, wire.Body{}, nil)
	b.recordArrival(gen, p.NodeID, s.barrierExpect())
}

// barrierExpect returns the number of nodes (including this one) that must
// announce before a barrier generation is considered complete.
func (s *Server) barrierExpect() int {
	s.mgr.mu.RLock()
	defer s.mgr.mu.RUnlock()
	return len(s.mgr.peers) + 1
}

// Barrier blocks until every node reachable through s's connection manager
// has also called Barrier for the same generation. Generations are
// allocated monotonically per process and must be entered in the same
// relative order on every node.
func (s *Server) Barrier(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("rpc: barrier: no engine attached")
	}

	s.barrier.mu.Lock()
	gen := s.barrier.nextGen
	s.barrier.nextGen++
	s.barrier.mu.Unlock()

	expect := s.barrierExpect()
	waiter := s.barrier.waiterFor(gen)

	s.mgr.mu.RLock()
	peerIDs := make([]uint16, 0, len(s.mgr.peers))
	for id := range s.mgr.peers {
		peerIDs = append(peerIDs, id)
	}
	s.mgr.mu.RUnlock()

	for _, id := range peerIDs {
		if err := s.engine.FireAndForget(id, wire.MsgBarrier, gen, wire.Body{}, nil); err != nil {
			s.log.Warn("barrier announce failed", logging.Uint32("peer", uint32(id)), logging.Err(err))
		}
	}

	s.barrier.recordArrival(gen, s.localNode, expect)

	select {
	case <-waiter:
	case <-ctx.Done():
		return ctx.Err()
	}

	stats.Global().RecordBarrier()
	return nil
}
