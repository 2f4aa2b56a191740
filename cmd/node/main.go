// Package main implements an ordinary Torua-DSM node: a coherence-protocol
// participant that registers with the manager (cmd/manager), maps the
// pages it is asked to hold, and responds to the directory's
// Forward/Invalidate traffic exactly as spec §4.3 describes. Unlike the
// manager, a node hosts no directory state of its own — every ownership
// decision is made by (and every protocol round serialized through) the
// manager it registered with.
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│                   Node                     │
//	├───────────────────────────────────────────┤
//	│  Data plane (TCP, port):                  │
//	│    coherence protocol wire messages       │
//	├───────────────────────────────────────────┤
//	│  Demonstration (HTTP, port+2):            │
//	│    /demo/alloc, /demo/write, /demo/read,  │
//	│    /demo/barrier, /demo/lock, /demo/stats │
//	└───────────────────────────────────────────┘
//
// Configuration (spec §6): DSM_NODE_ID, DSM_PORT, DSM_NUM_NODES,
// DSM_MANAGER_HOST (required — the manager's data-plane address; its
// control plane is one port above), DSM_LOG_LEVEL, DSM_PAGE_SIZE. DSM_IS_MANAGER is always
// treated as false by this binary.
//
// Example usage:
//
//	DSM_NODE_ID=1 DSM_PORT=7101 DSM_NUM_NODES=3 \
//	DSM_MANAGER_HOST=127.0.0.1:7100 ./node
//
// Exit codes (spec §6): identical contract to cmd/manager — 0 normal
// shutdown, 1 initialization failure, 2 runtime/coherence error.
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

func run() int {
	cfg, err := dsm.LoadConfig()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	cfg.IsManager = false
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
	demoLog := dsmlog.New(fmt.Sprintf("node[%d]/demo", cfg.NodeID), dsmlog.ParseLevel(cfg.LogLevel))
	mux := http.NewServeMux()
	dsmdemo.New(app, demoLog).Register(mux)
	demoSrv := &http.Server{Addr: demoAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	runtimeErrs := make(chan error, 1)
	go func() {
		log.Printf("node[%d] demonstration endpoint listening on %s", cfg.NodeID, demoAddr)
		if err := demoSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			runtimeErrs <- err
		}
	}()

	log.Printf("node[%d] ready: data=%s manager=%s", cfg.NodeID, fmt.Sprintf("127.0.0.1:%d", cfg.Port), cfg.ManagerHost)

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

	log.Printf("node[%d] stopped", cfg.NodeID)
	return dsmerr.RuntimeExitCode(runErr)
}
