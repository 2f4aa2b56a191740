package dsm

import (
	"context"
	"net"
	"testing"
	"time"
)

// freePort asks the OS for an ephemeral TCP port by opening and
// immediately closing a listener, the same trick cmd/coordinator's own
// tests use to avoid colliding with a fixed port across parallel runs.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func singleNodeConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		NodeID:    0,
		Port:      freePort(t),
		NumNodes:  1,
		IsManager: true,
		LogLevel:  1,
		PageSize:  4096,
	}
}

func TestInitAllocStoreLoadRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Init(ctx, singleNodeConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer d.Finalize(ctx)

	addr, err := d.Alloc(ctx, 4096*3)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr.NumPages != 3 {
		t.Fatalf("expected 3 pages, got %d", addr.NumPages)
	}

	payload := make([]byte, 4096)
	copy(payload, []byte("coherence"))
	if err := d.Store(ctx, addr, 1, payload); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := d.Load(ctx, addr, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got[:len("coherence")]) != "coherence" {
		t.Fatalf("read back %q, want prefix %q", got[:len("coherence")], "coherence")
	}

	if err := d.Barrier(ctx); err != nil {
		t.Fatalf("Barrier (single member, should return immediately): %v", err)
	}

	if err := d.Free(ctx, addr); err != nil {
		t.Fatalf("Free: %v", err)
	}

	if err := d.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestLoadOnUnknownAddrIsNotDSMMemory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Init(ctx, singleNodeConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer d.Finalize(ctx)

	_, err = d.Load(ctx, Addr{Base: 999, NumPages: 1}, 0)
	if err == nil {
		t.Fatal("expected an error for an address never returned by Alloc")
	}
}

func TestOperationsFailAfterFinalize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Init(ctx, singleNodeConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	addr, err := d.Alloc(ctx, 4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := d.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, err := d.Load(ctx, addr, 0); err == nil {
		t.Fatal("expected Load to fail after Finalize")
	}
	if err := d.Finalize(ctx); err != nil {
		t.Fatalf("second Finalize should be a no-op, got: %v", err)
	}
}

func TestLockAcquireReleaseSingleNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Init(ctx, singleNodeConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer d.Finalize(ctx)

	if err := d.LockAcquire(ctx, 7); err != nil {
		t.Fatalf("LockAcquire: %v", err)
	}
	if err := d.LockRelease(ctx, 7); err != nil {
		t.Fatalf("LockRelease: %v", err)
	}
}
