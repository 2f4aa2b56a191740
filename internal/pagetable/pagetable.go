// Package pagetable implements the fundamental coherence unit for the DSM
// engine: the per-node record of what state each page of a DSM allocation
// is currently in. See doc.go for complete package documentation.
package pagetable

import (
	"sync"
)

// State is the local coherence state of a page, per the write-invalidate
// protocol: a page is either absent (Invalid), held read-only alongside
// zero or more other sharers (Shared), or held exclusively with write
// permission (Modified).
//
// State transitions driven by internal/protocol:
//   - Invalid -> Shared: a read fault is resolved with PageData
//   - Invalid -> Modified: a write fault is resolved with PageData
//   - Shared -> Modified: a write fault upgrades an already-shared page
//   - Shared -> Invalid: an Invalidate message from the manager
//   - Modified -> Invalid: a Forward message moves ownership elsewhere
//   - Modified -> Shared: the manager grants a sharer a read copy
type State int

const (
	Invalid State = iota
	Shared
	Modified
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "invalid"
	case Shared:
		return "shared"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// TransitKind identifies what operation a page is waiting on while
// InTransit. It exists so a second fault on the same page while one is
// already outstanding can report what it is joining rather than starting a
// redundant request — the page-table-level half of the at-most-one-
// in-flight-per-page contract; internal/traphandler enforces the other half
// with singleflight ahead of ever reaching here.
type TransitKind int

const (
	// TransitNone means the page is not InTransit; State is authoritative.
	TransitNone TransitKind = iota
	// TransitFetchShared is outstanding for a read fault on an Invalid page.
	TransitFetchShared
	// TransitFetchModified is outstanding for a write fault on an Invalid page.
	TransitFetchModified
	// TransitUpgrade is outstanding for a write fault on a Shared page.
	TransitUpgrade
	// TransitInvalidate is outstanding while waiting for this node's own
	// local store of the page to drop from Modified/Shared to Invalid in
	// response to the manager.
	TransitInvalidate
)

func (k TransitKind) String() string {
	switch k {
	case TransitNone:
		return "none"
	case TransitFetchShared:
		return "fetch-shared"
	case TransitFetchModified:
		return "fetch-modified"
	case TransitUpgrade:
		return "upgrade"
	case TransitInvalidate:
		return "invalidate"
	default:
		return "unknown"
	}
}

// Page is one entry in a node's page table: the coherence state of a
// single page, plus whatever is needed to park and wake threads faulting on
// it while a protocol exchange is outstanding.
//
// Concurrency model: every field is protected by mu. A goroutine that
// observes Pending != TransitNone should not start its own protocol
// exchange — it should wait on the channel returned by BeginTransit (or
// Snapshot) for the in-flight one to finish, then re-check State.
type Page struct {
	mu      sync.Mutex
	index   uint64
	state   State
	pending TransitKind
	waitCh  chan struct{} // non-nil iff pending != TransitNone
	version uint64        // incremented on every resolved transition
}

// NewPage creates a page table entry starting in the Invalid state, as
// every page begins before its first fault.
func NewPage(index uint64) *Page {
	return &Page{index: index, state: Invalid}
}

// Index returns the page's index within its allocation. Immutable.
func (p *Page) Index() uint64 { return p.index }

// Snapshot returns the page's current state, pending transit (if any), and
// version, plus a channel that closes when an in-flight transit resolves
// (nil if none is in flight).
func (p *Page) Snapshot() (state State, pending TransitKind, version uint64, wait <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.pending, p.version, p.waitCh
}

// BeginTransit attempts to mark the page InTransit for kind. If the page is
// already InTransit, joined is true and wait is the channel that will close
// when the existing transit resolves — the caller must not start a second
// protocol exchange, only wait and re-check Snapshot. If joined is false,
// the caller now owns this transit and must eventually call Resolve.
func (p *Page) BeginTransit(kind TransitKind) (joined bool, wait <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != TransitNone {
		return true, p.waitCh
	}
	p.pending = kind
	p.waitCh = make(chan struct{})
	return false, p.waitCh
}

// Resolve ends the current transit, installs newState, bumps the version,
// and wakes every goroutine waiting on the channel BeginTransit returned.
// Calling Resolve when no transit is pending is a no-op.
func (p *Page) Resolve(newState State) {
	p.mu.Lock()
	ch := p.waitCh
	if ch == nil {
		p.mu.Unlock()
		return
	}
	p.state = newState
	p.pending = TransitNone
	p.waitCh = nil
	p.version++
	p.mu.Unlock()
	close(ch)
}

// Abort ends the current transit without changing State, for when a
// protocol exchange fails (e.g. the owning node died mid-fetch) and the
// page must go back to being fault-able rather than stuck InTransit
// forever. Waiters wake and will re-fault, observing the unchanged State.
func (p *Page) Abort() {
	p.mu.Lock()
	ch := p.waitCh
	p.pending = TransitNone
	p.waitCh = nil
	p.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// TryForceState installs newState directly, bypassing the BeginTransit/
// Resolve pairing, for when a peer (not this node's own fault) dictates a
// state change: an Invalidate or a Forward handed off to another owner. It
// refuses and returns false if a transit is already pending, so a node
// mid-fault on its own account can detect the conflict and defer the
// incoming message per spec §4.3's ordering rule rather than corrupting its
// own in-flight exchange.
func (p *Page) TryForceState(newState State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != TransitNone {
		return false
	}
	p.state = newState
	p.version++
	return true
}

// Table is a node's complete page table: every page it has ever touched,
// keyed by page index. Pages it has never touched are implicitly Invalid
// and are materialized into the map on first access.
//
// Concurrency model: mu guards map membership only. Once a *Page exists in
// the map, callers take its own lock; Table never holds mu while blocking
// on a Page's state, so concurrent faults on different pages never
// contend with each other.
type Table struct {
	mu    sync.RWMutex
	pages map[uint64]*Page
}

// New returns an empty page table.
func New() *Table {
	return &Table{pages: make(map[uint64]*Page)}
}

// Get returns the existing Page for index, or creates and inserts a new
// Invalid one if this is the first access.
func (t *Table) Get(index uint64) *Page {
	t.mu.RLock()
	p, ok := t.pages[index]
	t.mu.RUnlock()
	if ok {
		return p
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pages[index]; ok {
		return p
	}
	p = NewPage(index)
	t.pages[index] = p
	return p
}

// Drop removes a page from the table entirely, releasing it back to the
// Invalid-by-default default the next Get would create. Used when an
// allocation is freed.
func (t *Table) Drop(index uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pages, index)
}

// Len returns the number of pages this table currently tracks; pages
// removed by Drop are not counted.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pages)
}

// Snapshot returns the State of every page currently tracked, for
// diagnostics and tests. The result is a point-in-time copy.
func (t *Table) Snapshot() map[uint64]State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint64]State, len(t.pages))
	for idx, p := range t.pages {
		state, _, _, _ := p.Snapshot()
		out[idx] = state
	}
	return out
}
