package directory

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/torua-dsm/internal/transport"
)

// BarrierCoordinator is the manager-side half of spec §4.5's barrier: it
// collects BarrierEnter arrivals from every cluster member and, once all
// numNodes have arrived, fans out the release notification concurrently.
// It lives alongside Directory rather than in internal/syncprim because,
// like the directory itself, there is exactly one of these per cluster and
// only the manager ever touches it — internal/syncprim is the client-side
// primitive every node, including the manager's own participation, calls
// against this coordinator's onRelease callback.
type BarrierCoordinator struct {
	mu       sync.Mutex
	numNodes int
	arrived  map[transport.NodeID]struct{}

	// onRelease notifies one arrived node that the barrier has been
	// satisfied. Called once per node, concurrently, via errgroup (the
	// write-fault invalidation path, by contrast, sends sequentially).
	onRelease func(node transport.NodeID)
}

// NewBarrierCoordinator constructs a coordinator for a cluster of
// numNodes members.
func NewBarrierCoordinator(numNodes int, onRelease func(transport.NodeID)) *BarrierCoordinator {
	return &BarrierCoordinator{
		numNodes:  numNodes,
		arrived:   make(map[transport.NodeID]struct{}, numNodes),
		onRelease: onRelease,
	}
}

// Enter records node's arrival at the barrier. Once every node has
// arrived, every arrived node is released and the coordinator resets for
// the next round.
func (b *BarrierCoordinator) Enter(node transport.NodeID) {
	b.mu.Lock()
	b.arrived[node] = struct{}{}
	full := len(b.arrived) >= b.numNodes
	var nodes []transport.NodeID
	if full {
		nodes = make([]transport.NodeID, 0, len(b.arrived))
		for n := range b.arrived {
			nodes = append(nodes, n)
		}
		b.arrived = make(map[transport.NodeID]struct{}, b.numNodes)
	}
	b.mu.Unlock()

	if !full {
		return
	}
	var g errgroup.Group
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			b.onRelease(n)
			return nil
		})
	}
	_ = g.Wait()
}

// lockState is one named lock's holder and FIFO wait queue.
type lockState struct {
	held    bool
	holder  transport.NodeID
	waiters []transport.NodeID
}

// LockTable is the manager-side half of spec §4.5's named lock: a FIFO
// mutex per id, granted to exactly one node at a time.
type LockTable struct {
	mu      sync.Mutex
	locks   map[uint32]*lockState
	onGrant func(node transport.NodeID, id uint32)
}

// NewLockTable constructs an empty lock table. onGrant is invoked
// (off the caller's goroutine is the caller's responsibility — Acquire and
// Release call it synchronously) whenever a node becomes the holder of id,
// whether on first acquisition or after the previous holder released it.
func NewLockTable(onGrant func(transport.NodeID, uint32)) *LockTable {
	return &LockTable{locks: make(map[uint32]*lockState), onGrant: onGrant}
}

// Acquire requests id on behalf of node. If the lock is free, node is
// granted it immediately (onGrant fires before Acquire returns);
// otherwise node joins the FIFO wait queue and is granted later, from
// Release.
func (t *LockTable) Acquire(id uint32, node transport.NodeID) {
	t.mu.Lock()
	ls, ok := t.locks[id]
	if !ok {
		ls = &lockState{}
		t.locks[id] = ls
	}
	if !ls.held {
		ls.held = true
		ls.holder = node
		t.mu.Unlock()
		t.onGrant(node, id)
		return
	}
	ls.waiters = append(ls.waiters, node)
	t.mu.Unlock()
}

// Release gives up id, held by node. If node is not the current holder
// the call is ignored — a protocol violation a stricter build would raise
// as a ProtocolError. If another node is waiting, it is granted the lock
// immediately; otherwise the lock becomes free.
func (t *LockTable) Release(id uint32, node transport.NodeID) {
	t.mu.Lock()
	ls, ok := t.locks[id]
	if !ok || !ls.held || ls.holder != node {
		t.mu.Unlock()
		return
	}
	if len(ls.waiters) > 0 {
		next := ls.waiters[0]
		ls.waiters = ls.waiters[1:]
		ls.holder = next
		t.mu.Unlock()
		t.onGrant(next, id)
		return
	}
	ls.held = false
	ls.holder = 0
	t.mu.Unlock()
}
