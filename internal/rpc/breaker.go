package rpc

import (
	"fmt"
	"time"

	"github.com/CXLMemUring/Splash/internal/wire"
	"github.com/sony/gobreaker"
)

// GuardedEngine wraps an Engine with one circuit breaker per peer, so a
// peer that has gone unresponsive (dropped mid-ensemble, network
// partition) fails fast for subsequent requests instead of letting every
// caller queue up behind the same dead socket's read timeout.
type GuardedEngine struct {
	engine   *Engine
	breakers map[uint16]*gobreaker.CircuitBreaker
}

// NewGuardedEngine builds a breaker-wrapped engine, one breaker per node in
// nodeIDs.
func NewGuardedEngine(engine *Engine, nodeIDs []uint16) *GuardedEngine {
	g := &GuardedEngine{engine: engine, breakers: make(map[uint16]*gobreaker.CircuitBreaker)}
	for _, id := range nodeIDs {
		id := id
		g.breakers[id] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("peer-%d", id),
			MaxRequests: 1,
			Interval:    0,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return g
}

// SendRecv runs Engine.SendRecv through nodeID's circuit breaker.
func (g *GuardedEngine) SendRecv(nodeID uint16, msgType wire.MsgType, body wire.Body, payload []byte) (wire.Frame, error) {
	breaker, ok := g.breakers[nodeID]
	if !ok {
		return g.engine.SendRecv(nodeID, msgType, body, payload)
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		return g.engine.SendRecv(nodeID, msgType, body, payload)
	})
	if err != nil {
		return wire.Frame{}, err
	}
	return result.(wire.Frame), nil
}

// FireAndForget runs Engine.FireAndForget through nodeID's circuit breaker,
// for request kinds that never wait for a reply (FREE, BARRIER announce).
func (g *GuardedEngine) FireAndForget(nodeID uint16, msgType wire.MsgType, body wire.Body, payload []byte) error {
	breaker, ok := g.breakers[nodeID]
	if !ok {
		return g.engine.FireAndForget(nodeID, msgType, g.engine.NextRequestID(), body, payload)
	}

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, g.engine.FireAndForget(nodeID, msgType, g.engine.NextRequestID(), body, payload)
	})
	return err
}
