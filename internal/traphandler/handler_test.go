package traphandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/torua-dsm/internal/dsmalloc"
	"github.com/dreamware/torua-dsm/internal/directory"
	"github.com/dreamware/torua-dsm/internal/pagetable"
	"github.com/dreamware/torua-dsm/internal/protocol"
	"github.com/dreamware/torua-dsm/internal/transport"
	"github.com/dreamware/torua-dsm/internal/vm"
)

// hub and bus are a minimal in-process Transport fake, the same shape as
// internal/syncprim's test bus: an address -> handler map dispatched
// directly, no sockets.
type hub struct {
	mu       sync.Mutex
	handlers map[string]transport.Handler
}

func newHub() *hub { return &hub{handlers: make(map[string]transport.Handler)} }

type bus struct {
	h    *hub
	self transport.NodeID
}

func (b *bus) Send(_ context.Context, addr string, msg transport.Message) error {
	b.h.mu.Lock()
	handler := b.h.handlers[addr]
	b.h.mu.Unlock()
	if handler != nil {
		go handler(b.self, msg)
	}
	return nil
}

func (b *bus) Listen(_ context.Context, addr string, handler transport.Handler) error {
	b.h.mu.Lock()
	b.h.handlers[addr] = handler
	b.h.mu.Unlock()
	return nil
}

func (b *bus) Close() error { return nil }

type staticAddrs struct{ addr string }

func (s staticAddrs) DataAddr(transport.NodeID) (string, bool) { return s.addr, true }

// TestLoadFetchesThenStoreUpgrades drives a single node against a single
// manager entirely in process: a Load should fault the page in Shared, and
// a subsequent Store should upgrade it to Modified and install the
// written bytes.
func TestLoadFetchesThenStoreUpgrades(t *testing.T) {
	h := newHub()
	mgrBus := &bus{h: h, self: 0}
	nodeBus := &bus{h: h, self: 1}

	alloc := dsmalloc.New(16)
	dir := directory.New()
	mgr := protocol.NewManager(0, dir, staticAddrs{"node1"}, alloc, mgrBus, nil, nil)
	mgrBus.Listen(context.Background(), "manager", mgr.HandleMessage)

	table := pagetable.New()
	node := protocol.NewNode(1, "manager", nodeBus, table, staticAddrs{"manager"}, nil, nil)
	nodeBus.Listen(context.Background(), "node1", node.HandleMessage)

	src := vm.NewSimSource()
	region, err := src.Reserve(context.Background(), 4, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer region.Close()
	node.Bind(0, region)

	th := New(region, node, nil)
	go th.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := th.Load(ctx, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data) != 16 {
		t.Fatalf("expected 16 zero bytes, got %d", len(data))
	}

	if err := th.Store(ctx, 0, []byte("hello world!!!!!")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := th.Load(ctx, 0)
	if err != nil {
		t.Fatalf("Load after Store: %v", err)
	}
	if string(got) != "hello world!!!!!" {
		t.Fatalf("expected written bytes to round trip, got %q", got)
	}

	state, _, _, _ := table.Get(0).Snapshot()
	if state != pagetable.Modified {
		t.Fatalf("expected page Modified after Store, got %v", state)
	}
}

// TestConcurrentLoadsCoalesce issues many concurrent Loads on the same
// never-faulted page; they must all succeed and observe the same content
// without each one independently driving a ReadReq round trip to
// completion before the others even start (singleflight coalescing).
func TestConcurrentLoadsCoalesce(t *testing.T) {
	h := newHub()
	mgrBus := &bus{h: h, self: 0}
	nodeBus := &bus{h: h, self: 1}

	alloc := dsmalloc.New(16)
	dir := directory.New()
	mgr := protocol.NewManager(0, dir, staticAddrs{"node1"}, alloc, mgrBus, nil, nil)
	mgrBus.Listen(context.Background(), "manager", mgr.HandleMessage)

	table := pagetable.New()
	node := protocol.NewNode(1, "manager", nodeBus, table, staticAddrs{"manager"}, nil, nil)
	nodeBus.Listen(context.Background(), "node1", node.HandleMessage)

	src := vm.NewSimSource()
	region, err := src.Reserve(context.Background(), 1, 16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer region.Close()
	node.Bind(0, region)

	th := New(region, node, nil)
	go th.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = th.Load(ctx, 0)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Load %d: %v", i, err)
		}
	}
}
