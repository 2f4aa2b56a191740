package protocol

import (
	"context"
	"sync"
	"testing"

	"github.com/dreamware/torua-dsm/internal/directory"
	"github.com/dreamware/torua-dsm/internal/transport"
)

// fakeAddrBook is a static map from node to data-plane address, enough for
// Manager's sends to resolve without a real internal/cluster registry.
type fakeAddrBook map[transport.NodeID]string

func (a fakeAddrBook) DataAddr(node transport.NodeID) (string, bool) {
	addr, ok := a[node]
	return addr, ok
}

// fakePageSource is an in-memory stand-in for internal/dsmalloc.Allocator,
// just enough of PageSource for Manager to fault pages in and cache them.
type fakePageSource struct {
	mu       sync.Mutex
	pageSize int
	cached   map[uint64][]byte
}

func newFakePageSource(pageSize int) *fakePageSource {
	return &fakePageSource{pageSize: pageSize, cached: make(map[uint64][]byte)}
}

func (p *fakePageSource) ZeroPage(index uint64) []byte { return make([]byte, p.pageSize) }

func (p *fakePageSource) Page(index uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached[index]
}

func (p *fakePageSource) SetPage(index uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached[index] = data
}

// fakeTransport records every Send without putting anything on the wire,
// so a test can assert on what Manager tried to tell which peer.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMsg
}

type sentMsg struct {
	addr string
	msg  transport.Message
}

func (t *fakeTransport) Send(ctx context.Context, addr string, msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentMsg{addr: addr, msg: msg})
	return nil
}

func (t *fakeTransport) Listen(ctx context.Context, addr string, handler transport.Handler) error {
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) sentTo(addr string) []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []transport.Message
	for _, s := range t.sent {
		if s.addr == addr {
			out = append(out, s.msg)
		}
	}
	return out
}

func newTestManager() (*Manager, *directory.Directory, *fakeTransport, fakeAddrBook) {
	dir := directory.New()
	tr := &fakeTransport{}
	addrs := fakeAddrBook{1: "node1:9", 2: "node2:9", 3: "node3:9"}
	mgr := NewManager(transport.NodeID(0), dir, addrs, newFakePageSource(4096), tr, nil, nil)
	return mgr, dir, tr, addrs
}

// TestNodeGoneReclaimsIdleModifiedPage covers the scenario a node dies
// while holding a page Modified with no fault in flight: before
// reclaimIdlePages existed, the directory entry kept pointing at the dead
// owner forever, and the next fault on that page would Forward to it and
// wait on an Ack that would never come.
func TestNodeGoneReclaimsIdleModifiedPage(t *testing.T) {
	mgr, dir, tr, _ := newTestManager()

	entry := dir.Get(5)
	entry.Resolve(directory.Modified, transport.NodeID(2), nil)

	mgr.NodeGone(transport.NodeID(2))

	state, owner, sharers, wait := entry.Snapshot()
	if state != directory.Uncached {
		t.Fatalf("state = %v, want Uncached after owner's Gone", state)
	}
	if owner != 0 {
		t.Fatalf("owner = %v, want reset to zero value", owner)
	}
	if len(sharers) != 0 {
		t.Fatalf("sharers = %v, want empty", sharers)
	}
	if wait != nil {
		t.Fatal("no exchange should be left pending")
	}

	// A later write fault from a live node must resolve immediately
	// against the reset Uncached state, not Forward to the dead owner.
	mgr.handleWriteReq(transport.NodeID(3), 5)

	sent := tr.sentTo("node3:9")
	if len(sent) != 1 || sent[0].Type != transport.MsgPageData || sent[0].GrantedState != transport.GrantModified {
		t.Fatalf("sent to node3 = %+v, want a single GrantModified PageData", sent)
	}

	forwardedToDeadOwner := tr.sentTo("node2:9")
	if len(forwardedToDeadOwner) != 0 {
		t.Fatalf("must not Forward to the presumed-gone owner, got %+v", forwardedToDeadOwner)
	}
}

// TestNodeGoneDropsDeadSharer covers the Shared-state half of the same
// gap: a node holding a read-only copy with no exchange in flight must be
// dropped from the sharer set, not left as a phantom invalidation target.
func TestNodeGoneDropsDeadSharer(t *testing.T) {
	mgr, dir, _, _ := newTestManager()

	entry := dir.Get(7)
	entry.Resolve(directory.Shared, 0, []transport.NodeID{2, 3})

	mgr.NodeGone(transport.NodeID(2))

	state, _, sharers, _ := entry.Snapshot()
	if state != directory.Shared {
		t.Fatalf("state = %v, want still Shared", state)
	}
	if len(sharers) != 1 || sharers[0] != 3 {
		t.Fatalf("sharers = %v, want only node 3 left", sharers)
	}
}

// TestNodeGoneLeavesPendingExchangeToHandleSubAck makes sure
// reclaimIdlePages does not fight handleSubAck over a page that does have
// an exchange in flight: it must be the exchange's own resolution — not a
// premature ForceUncached — that determines the page's new owner.
func TestNodeGoneLeavesPendingExchangeToHandleSubAck(t *testing.T) {
	mgr, dir, tr, _ := newTestManager()

	dir.Get(9).Resolve(directory.Modified, transport.NodeID(2), nil)
	mgr.handleWriteReq(transport.NodeID(3), 9)

	forwarded := tr.sentTo("node2:9")
	if len(forwarded) != 1 || forwarded[0].Type != transport.MsgForwardWrite {
		t.Fatalf("expected a ForwardWrite to node2, got %+v", forwarded)
	}

	mgr.NodeGone(transport.NodeID(2))

	state, owner, _, wait := dir.Get(9).Snapshot()
	if wait != nil {
		t.Fatal("exchange should have resolved, not be left pending")
	}
	if state != directory.Modified || owner != transport.NodeID(3) {
		t.Fatalf("state=%v owner=%v, want Modified held by the requester once its exchange was unblocked", state, owner)
	}
}
