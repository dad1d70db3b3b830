// Package shutdown runs a daemon's teardown functions in reverse
// registration order, bounded by a timeout, so a hung peer connection or
// mmap unmap can't block process exit forever.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CXLMemUring/Splash/internal/logging"
)

// Manager collects teardown functions and runs them on Shutdown.
type Manager struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	log     *logging.Logger
}

// New builds a shutdown manager bounded by timeout.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default("shutdown")
	}
	return &Manager{timeout: timeout, log: log}
}

// Register adds fn to the set run on Shutdown. Functions run in LIFO order,
// so the last component brought up is the first torn down.
func (m *Manager) Register(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
}

// Shutdown runs every registered function one at a time in reverse
// registration order and waits for them, up to the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	fns := append([]func() error(nil), m.fns...)
	m.mu.Unlock()

	m.log.Info("shutting down", logging.Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	errCh := make(chan error, len(fns))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				errCh <- err
			}
		}
	}()

	select {
	case <-done:
		m.log.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		m.log.Warn("shutdown timed out")
		return fmt.Errorf("shutdown: timed out after %s", m.timeout)
	}
}
