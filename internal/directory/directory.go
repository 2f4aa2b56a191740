// Package directory implements the manager's authoritative record of page
// ownership: for every page of every DSM allocation, which node (if any)
// holds the sole writable copy, which nodes hold read-only copies, and
// whether a protocol exchange for that page is currently in flight.
// See doc.go for complete package documentation.
package directory

import (
	"sync"

	"github.com/dreamware/torua-dsm/internal/transport"
)

// State is the manager's view of a page's cluster-wide coherence state. It
// mirrors pagetable.State but from the home node's perspective: Uncached
// means no node holds a copy yet (the page has never been faulted in),
// Shared means one or more nodes hold a read-only copy, and Modified means
// exactly one node holds the sole writable copy.
type State int

const (
	Uncached State = iota
	Shared
	Modified
)

func (s State) String() string {
	switch s {
	case Uncached:
		return "uncached"
	case Shared:
		return "shared"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Entry is the directory record for a single page, tracking ownership and
// serializing the protocol exchanges that touch it.
//
// Concurrency model: a goroutine handling a fault for this page must call
// BeginOp before sending any protocol message and Resolve (or Abort) when
// the exchange concludes. A second goroutine that observes Pending should
// not start a second exchange — spec's at-most-one-in-flight-per-page
// contract, enforced here at cluster scope the same way pagetable.Page
// enforces it at node scope.
type Entry struct {
	mu      sync.Mutex
	index   uint64
	state   State
	owner   transport.NodeID            // valid iff state == Modified
	sharers map[transport.NodeID]struct{} // valid iff state == Shared
	pending bool
	waitCh  chan struct{}
}

func newEntry(index uint64) *Entry {
	return &Entry{index: index, state: Uncached, sharers: make(map[transport.NodeID]struct{})}
}

// Index returns the page index this entry tracks. Immutable.
func (e *Entry) Index() uint64 { return e.index }

// Snapshot returns the entry's current ownership state. sharers is a copy
// safe for the caller to retain; wait is non-nil iff an operation is
// currently in flight.
func (e *Entry) Snapshot() (state State, owner transport.NodeID, sharers []transport.NodeID, wait <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sh := make([]transport.NodeID, 0, len(e.sharers))
	for n := range e.sharers {
		sh = append(sh, n)
	}
	return e.state, e.owner, sh, e.waitCh
}

// BeginOp claims this entry for an in-flight protocol exchange. If one is
// already in flight, joined is true and wait is the channel that closes
// when it resolves — the caller must not start a second exchange for this
// page, only wait and re-check Snapshot.
func (e *Entry) BeginOp() (joined bool, wait <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		return true, e.waitCh
	}
	e.pending = true
	e.waitCh = make(chan struct{})
	return false, e.waitCh
}

// Claim is BeginOp plus the ownership snapshot captured atomically with the
// claim, so a caller that successfully claims the entry acts on a state
// that is guaranteed not to have changed between the claim and the read.
func (e *Entry) Claim() (joined bool, wait <-chan struct{}, state State, owner transport.NodeID, sharers []transport.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sh := make([]transport.NodeID, 0, len(e.sharers))
	for n := range e.sharers {
		sh = append(sh, n)
	}
	if e.pending {
		return true, e.waitCh, e.state, e.owner, sh
	}
	e.pending = true
	e.waitCh = make(chan struct{})
	return false, e.waitCh, e.state, e.owner, sh
}

// Resolve installs the new ownership state and wakes everyone waiting on
// the channel BeginOp returned.
func (e *Entry) Resolve(state State, owner transport.NodeID, sharers []transport.NodeID) {
	e.mu.Lock()
	ch := e.waitCh
	e.state = state
	e.owner = owner
	e.sharers = make(map[transport.NodeID]struct{}, len(sharers))
	for _, n := range sharers {
		e.sharers[n] = struct{}{}
	}
	e.pending = false
	e.waitCh = nil
	e.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// AddSharer records that node now holds a read-only copy, without going
// through a full Resolve — used when a manager-local fault is served
// without a pending exchange (the manager is itself a sharer's source and
// already owns the page state).
func (e *Entry) AddSharer(node transport.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sharers[node] = struct{}{}
}

// Abort clears the in-flight flag without changing ownership, for when an
// exchange fails (e.g. the target node is Gone) and the page must become
// fault-able again rather than stuck pending forever.
func (e *Entry) Abort() {
	e.mu.Lock()
	ch := e.waitCh
	e.pending = false
	e.waitCh = nil
	e.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// RemoveSharer drops node from the set of read-only sharers, without going
// through a full Resolve. Used when a node is presumed gone but still
// appears as a sharer of a page with no exchange currently in flight.
func (e *Entry) RemoveSharer(node transport.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sharers, node)
}

// ForceUncached unconditionally resets the entry to Uncached, discarding
// its current owner and sharers and waking anything waiting on an
// in-flight exchange. Used when the sole holder of a page's Modified copy
// is presumed gone and its data cannot be recovered from anywhere else in
// the cluster.
func (e *Entry) ForceUncached() {
	e.mu.Lock()
	ch := e.waitCh
	e.state = Uncached
	e.owner = 0
	e.sharers = make(map[transport.NodeID]struct{})
	e.pending = false
	e.waitCh = nil
	e.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Directory is the manager's complete page ownership table, covering the
// pages of every DSM allocation. Pages never faulted on anywhere are implicitly Uncached and
// are materialized into the map on first access, the same lazy strategy
// internal/pagetable.Table uses node-side.
type Directory struct {
	mu      sync.RWMutex
	entries map[uint64]*Entry
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{entries: make(map[uint64]*Entry)}
}

// Get returns the existing Entry for index, or creates and inserts a new
// Uncached one if this is the first access.
func (d *Directory) Get(index uint64) *Entry {
	d.mu.RLock()
	e, ok := d.entries[index]
	d.mu.RUnlock()
	if ok {
		return e
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[index]; ok {
		return e
	}
	e = newEntry(index)
	d.entries[index] = e
	return e
}

// Drop removes a page's directory entry entirely. Used when an allocation
// is freed collectively.
func (d *Directory) Drop(index uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, index)
}

// Len returns the number of pages this directory currently tracks; pages
// removed by Drop are not counted.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// PagesOwnedBy returns every page index for which node currently holds the
// Modified copy or is among the Shared sharers — the set of pages that
// must be reassigned or invalidated if node leaves the cluster.
func (d *Directory) PagesOwnedBy(node transport.NodeID) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var pages []uint64
	for idx, e := range d.entries {
		state, owner, sharers, _ := e.Snapshot()
		if state == Modified && owner == node {
			pages = append(pages, idx)
			continue
		}
		for _, n := range sharers {
			if n == node {
				pages = append(pages, idx)
				break
			}
		}
	}
	return pages
}
