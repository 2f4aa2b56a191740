package main

import (
	"net"
	"os"
	"strconv"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		old, had := os.LookupEnv(k)
		os.Setenv(k, v)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

// TestRunMissingManagerHostExitsOne exercises spec §6's exit code 1: a
// node with no manager_host and DSM_IS_MANAGER effectively forced false
// by this binary can never join a cluster, and Config.Validate catches
// it before any socket is opened.
func TestRunMissingManagerHostExitsOne(t *testing.T) {
	port := freePort(t)
	setenv(t, map[string]string{
		"DSM_NODE_ID":     "1",
		"DSM_PORT":        strconv.Itoa(port),
		"DSM_NUM_NODES":   "2",
		"DSM_MANAGER_HOST": "",
	})
	if got := run(); got != 1 {
		t.Fatalf("run() with no manager_host = %d, want 1", got)
	}
}

// TestRunCannotReachManagerExitsOne exercises the same exit code via a
// different path: config is well-formed but the manager it names is not
// listening, so Init's registration call fails and the node never joins.
func TestRunCannotReachManagerExitsOne(t *testing.T) {
	port := freePort(t)
	unreachable := freePort(t)
	setenv(t, map[string]string{
		"DSM_NODE_ID":      "1",
		"DSM_PORT":         strconv.Itoa(port),
		"DSM_NUM_NODES":    "2",
		"DSM_MANAGER_HOST": "127.0.0.1:" + strconv.Itoa(unreachable),
		"DSM_LOG_LEVEL":    "0",
	})

	done := make(chan int, 1)
	go func() { done <- run() }()

	select {
	case code := <-done:
		if code != 1 {
			t.Fatalf("run() against unreachable manager = %d, want 1", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return when the manager is unreachable")
	}
}
