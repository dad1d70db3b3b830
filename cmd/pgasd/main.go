// Command pgasd is the per-node daemon: it brings up this node's share of
// the partitioned global address space, serves remote operations from
// peers for the lifetime of the process, and tears down cleanly on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pgas "github.com/CXLMemUring/Splash"
	"github.com/CXLMemUring/Splash/internal/logging"
	"github.com/CXLMemUring/Splash/internal/shutdown"
	"github.com/CXLMemUring/Splash/internal/stats"
)

const (
	exitOK             = 0
	exitConfigError    = 1
	exitBringUpFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.Default("pgasd")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: pgasd <config-file>")
		return exitConfigError
	}
	configPath := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := pgas.Init(ctx, configPath)
	if err != nil {
		log.Error("bring-up failed", logging.Err(err))
		return classifyInitError(err)
	}

	sm := shutdown.New(10*time.Second, log)
	sm.Register(rt.Finalize)

	log.Info("node up",
		logging.Uint16("node_id", rt.MyNode()),
		logging.Int("ensemble_size", rt.NumNodes()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("signal received, shutting down")
	snapshot := rt.GetStats()
	log.Info("final statistics",
		logging.Uint64("local_reads", snapshot.LocalReads),
		logging.Uint64("local_writes", snapshot.LocalWrites),
		logging.Uint64("remote_reads", snapshot.RemoteReads),
		logging.Uint64("remote_writes", snapshot.RemoteWrites),
		logging.Uint64("barriers", snapshot.Barriers),
		logging.Uint64("bytes_sent", snapshot.BytesSent),
		logging.Uint64("bytes_recv", snapshot.BytesRecv),
	)
	writeStatsBundle(rt.MyNode(), snapshot, log)

	if err := sm.Shutdown(context.Background()); err != nil {
		log.Error("shutdown error", logging.Err(err))
	}
	return exitOK
}

// writeStatsBundle brotli-compresses the final stats snapshot and writes it
// to the system temporary directory as a compact diagnostic bundle,
// instead of growing the log line with every counter on every restart.
// Failure to write the bundle is logged but never affects the exit code.
func writeStatsBundle(nodeID uint16, snapshot stats.Snapshot, log *logging.Logger) {
	blob, err := stats.CompressSnapshot(snapshot)
	if err != nil {
		log.Warn("stats bundle compression failed", logging.Err(err))
		return
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("pgasd-node%d-%d.stats.br", nodeID, os.Getpid()))
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		log.Warn("stats bundle write failed", logging.Err(err))
		return
	}
	log.Info("stats bundle written", logging.String("path", path), logging.Int("bytes", len(blob)))
}

// classifyInitError maps a bring-up failure to the daemon's documented
// exit codes: a configuration or region-acquisition error exits 1, a
// zero-peer connection failure (every dial and every accept failed) exits
// 2, distinct from a merely degraded bring-up, which Init does not treat
// as an error at all.
func classifyInitError(err error) int {
	if errors.Is(err, pgas.ErrBringUpFailed) {
		return exitBringUpFailure
	}
	return exitConfigError
}
