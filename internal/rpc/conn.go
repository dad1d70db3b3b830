// Package rpc is the transport and remote-operation layer: the connection
// manager that brings up one ordered pair of TCP sockets per peer, the
// engine that serializes request/response traffic over them, and the
// server-side handlers that satisfy a peer's GET/PUT/ATOMIC/ALLOC/FREE/
// BARRIER requests against this node's own region, heap, and segment
// table.
//
// The per-peer connection shape and the mutex-guarded peer map follow the
// same structure the source mesh transport used for its peer connections,
// adapted from a WebSocket/WebRTC signaling channel to a pair of raw TCP
// sockets carrying the wire frame format directly.
package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/CXLMemUring/Splash/internal/logging"
	"github.com/CXLMemUring/Splash/internal/nodeconfig"
	"golang.org/x/sync/errgroup"
)

const (
	dialRetries  = 30
	dialInterval = time.Second
	dialTimeout  = time.Second
)

// Peer holds the two independent TCP connections to one other node: Out is
// the connection this process dialed, In is the connection the peer dialed
// to reach this process. A request this process originates always travels
// on Out, and the matching response always comes back on Out; traffic
// initiated by the peer always travels on In. The two sockets are never
// substituted for each other.
type Peer struct {
	NodeID uint16

	mu  sync.Mutex
	Out net.Conn
	In  net.Conn

	sendMu sync.Mutex // serializes writes to Out, one in flight at a time
}

// connected reports whether both legs of the pair are up.
func (p *Peer) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Out != nil && p.In != nil
}

// Manager owns the peer table and the listener that accepts inbound legs.
// Lock ordering throughout the package is: Manager.mu (the peer table),
// then Peer.mu (a single peer's connection slots), then Peer.sendMu (the
// send path) -- never the reverse, to avoid a peer-accept goroutine and an
// outbound sender deadlocking on each other.
type Manager struct {
	local nodeconfig.Node

	mu    sync.RWMutex
	peers map[uint16]*Peer

	listener net.Listener
	log      *logging.Logger
}

// NewManager builds a connection manager for the local node, with one Peer
// slot pre-created for every other node in cfg.
func NewManager(cfg *nodeconfig.Config, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default("rpc")
	}
	m := &Manager{
		local: cfg.Local(),
		peers: make(map[uint16]*Peer),
		log:   log,
	}
	for _, n := range cfg.Peers() {
		m.peers[n.NodeID] = &Peer{NodeID: n.NodeID}
	}
	return m
}

// Peer returns the peer record for nodeID, or nil if nodeID is not a known
// member of the ensemble.
func (m *Manager) Peer(nodeID uint16) *Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[nodeID]
}

// BringUp starts the listener, dials every peer, and accepts inbound legs
// until either every peer has both connections up or the bring-up budget
// (dialRetries attempts at dialInterval) is exhausted. It returns the
// number of peers that ended up fully connected; per the bring-up
// contract, a return value of zero with len(peers) > 0 is a hard failure,
// while a partial count is degraded-mode operation.
func (m *Manager) BringUp(ctx context.Context, cfg *nodeconfig.Config) (int, error) {
	addr := fmt.Sprintf(":%d", m.local.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	m.listener = ln
	go m.acceptLoop(ctx)

	peers := cfg.Peers()
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range peers {
		n := n
		g.Go(func() error {
			m.dialWithRetry(gctx, n)
			return nil
		})
	}
	_ = g.Wait()

	connected := 0
	deadline := time.Now().Add(dialRetries * dialInterval)
	for time.Now().Before(deadline) {
		connected = m.countConnected()
		if connected == len(peers) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	connected = m.countConnected()

	switch {
	case len(peers) == 0:
		return 0, nil
	case connected == 0:
		return 0, fmt.Errorf("rpc: failed to connect to any of %d peers", len(peers))
	case connected < len(peers):
		m.log.Warn("degraded bring-up", logging.Int("connected", connected), logging.Int("expected", len(peers)))
	}
	return connected, nil
}

func (m *Manager) countConnected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.peers {
		if p.connected() {
			n++
		}
	}
	return n
}

func (m *Manager) dialWithRetry(ctx context.Context, n nodeconfig.Node) {
	addr := fmt.Sprintf("%s:%d", n.Hostname, n.Port)
	for attempt := 0; attempt < dialRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			if err := writeHandshake(conn, m.local.NodeID); err != nil {
				m.log.Debug("handshake failed", logging.String("peer", addr), logging.Err(err))
				conn.Close()
			} else {
				m.mu.Lock()
				peer, ok := m.peers[n.NodeID]
				if !ok {
					peer = &Peer{NodeID: n.NodeID}
					m.peers[n.NodeID] = peer
				}
				m.mu.Unlock()

				peer.mu.Lock()
				peer.Out = conn
				peer.mu.Unlock()
				m.log.Info("dialed peer", logging.String("addr", addr), logging.Uint32("node", uint32(n.NodeID)))
				return
			}
		} else {
			m.log.Debug("dial failed", logging.String("peer", addr), logging.Err(err))
		}

		time.Sleep(dialInterval)
	}
}

// acceptLoop accepts inbound legs and routes each to its Peer by the node
// id declared in the bring-up handshake: a bare little-endian uint32, the
// very first bytes on the connection, with no further framing.
func (m *Manager) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			m.log.Warn("accept failed", logging.Err(err))
			return
		}

		go m.handleInbound(conn)
	}
}

func (m *Manager) handleInbound(conn net.Conn) {
	nodeID, err := readHandshake(conn)
	if err != nil {
		m.log.Debug("bad handshake", logging.Err(err))
		conn.Close()
		return
	}

	m.mu.Lock()
	peer, ok := m.peers[nodeID]
	if !ok {
		peer = &Peer{NodeID: nodeID}
		m.peers[nodeID] = peer
	}
	m.mu.Unlock()

	peer.mu.Lock()
	peer.In = conn
	peer.mu.Unlock()
	m.log.Info("accepted peer", logging.Uint32("node", uint32(nodeID)))
}

// Close shuts down the listener and every peer connection.
func (m *Manager) Close() error {
	if m.listener != nil {
		m.listener.Close()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		p.mu.Lock()
		if p.Out != nil {
			p.Out.Close()
		}
		if p.In != nil {
			p.In.Close()
		}
		p.mu.Unlock()
	}
	return nil
}

func writeHandshake(conn net.Conn, nodeID uint16) error {
	buf := make([]byte, 4)
	buf[0] = byte(nodeID)
	buf[1] = byte(nodeID >> 8)
	_, err := conn.Write(buf)
	return err
}

func readHandshake(conn net.Conn) (uint16, error) {
	buf := make([]byte, 4)
	if _, err := conn.Read(buf); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}
