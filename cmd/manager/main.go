// Package main implements the Torua-DSM manager process: the single node
// per cluster that hosts the directory (spec §4.4), the collective
// allocator (§6), and the barrier/lock coordinators (§4.5). It is also an
// ordinary coherence-protocol participant — the manager runs its own
// protocol.Node and can fault, load, and store pages exactly like any
// other member (spec §4.4's "a manager-local fault still traverses the
// same state machine").
//
// The manager is the cluster's control plane. Every other process
// (cmd/node) registers against it, and the protocol's Forward/Invalidate
// messages funnel through the directory it hosts. Losing it mid-run is
// out of scope (spec §1 non-goals: "transparent fault-tolerance").
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│                 Manager                    │
//	├───────────────────────────────────────────┤
//	│  Control plane (HTTP, port+1):            │
//	│    /cluster/register  - node join         │
//	│    /cluster/members   - membership list   │
//	│    /alloc, /free      - collective alloc  │
//	│    /health            - liveness probe    │
//	│    /debug/dsmprof     - pprof latency      │
//	├───────────────────────────────────────────┤
//	│  Data plane (TCP, port):                  │
//	│    coherence protocol wire messages       │
//	├───────────────────────────────────────────┤
//	│  Demonstration (HTTP, port+2):            │
//	│    /demo/alloc, /demo/write, /demo/read,  │
//	│    /demo/barrier, /demo/lock, /demo/stats │
//	└───────────────────────────────────────────┘
//
// Configuration is read from the environment by internal/dsm.LoadConfig
// (spec §6's config table): DSM_NODE_ID, DSM_PORT, DSM_NUM_NODES,
// DSM_MANAGER_HOST, DSM_LOG_LEVEL, DSM_PAGE_SIZE. DSM_IS_MANAGER is
// always treated as true by this binary regardless of the environment —
// cmd/manager and cmd/node are separate programs precisely so a
// deployment never has to get that flag right by hand.
//
// Example usage:
//
//	DSM_NODE_ID=0 DSM_PORT=7100 DSM_NUM_NODES=3 ./manager
//
// Exit codes (spec §6):
//   - 0: normal shutdown via signal
//   - 1: initialization failure (bad config, could not bind a listener,
//     could not stand up the control plane)
//   - 2: runtime/coherence error surfaced after the node had already
//     joined the cluster
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/torua-dsm/internal/dsm"
	"github.com/dreamware/torua-dsm/internal/dsmdemo"
	"github.com/dreamware/torua-dsm/internal/dsmerr"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
)

func main() {
	os.Exit(run())
}

// run contains everything main would otherwise do directly, so tests can
// drive it without calling os.Exit out from under the test binary.
func run() int {
	cfg, err := dsm.LoadConfig()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	cfg.IsManager = true
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := dsm.Init(ctx, cfg)
	if err != nil {
		log.Printf("init: %v", err)
		return 1
	}

	demoAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Port+2)
	demoLog := dsmlog.New(fmt.Sprintf("manager[%d]/demo", cfg.NodeID), dsmlog.ParseLevel(cfg.LogLevel))
	mux := http.NewServeMux()
	dsmdemo.New(app, demoLog).Register(mux)
	demoSrv := &http.Server{Addr: demoAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	runtimeErrs := make(chan error, 1)
	go func() {
		log.Printf("manager[%d] demonstration endpoint listening on %s", cfg.NodeID, demoAddr)
		if err := demoSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			runtimeErrs <- err
		}
	}()

	log.Printf("manager[%d] ready: data=%s num_nodes=%d", cfg.NodeID, fmt.Sprintf("127.0.0.1:%d", cfg.Port), cfg.NumNodes)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-runtimeErrs:
		log.Printf("demonstration endpoint failed: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := demoSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("demonstration endpoint shutdown: %v", err)
	}
	if err := app.Finalize(shutdownCtx); err != nil {
		log.Printf("finalize: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	log.Printf("manager[%d] stopped", cfg.NodeID)
	return dsmerr.RuntimeExitCode(runErr)
}
