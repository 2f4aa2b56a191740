package dsmalloc

import (
	"cmp"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
)

// freeRange is a contiguous run of freed page indices, [Base, Base+Count).
type freeRange struct {
	base  uint64
	count uint64
}

// Allocator is the manager-hosted bookkeeping behind dsm_alloc/dsm_free: a
// bump-pointer page-index counter backed by a best-fit free list for reuse,
// plus the page-bytes cache that implements internal/protocol.PageSource
// for pages no node has ever cached.
//
// Modeled on internal/coordinator.ShardRegistry: one mutex, one map,
// mutated only on the manager in response to control-plane calls. There is
// exactly one Allocator per cluster.
type Allocator struct {
	pageSize int

	mu          sync.Mutex
	next        uint64
	allocations map[uint64]uint64 // base -> numPages, live allocations
	free        []freeRange
	pages       map[uint64][]byte // page index -> cached bytes, only for pages the manager itself has served
}

// New constructs an Allocator for a cluster using the given page size in
// bytes. Page index 0 is never handed out by Alloc, reserved the way a
// null pointer is reserved, so a zero-value Allocation.Base can double as
// an "unallocated" sentinel.
func New(pageSize int) *Allocator {
	return &Allocator{
		pageSize:    pageSize,
		next:        1,
		allocations: make(map[uint64]uint64),
		pages:       make(map[uint64][]byte),
	}
}

// Allocation describes a granted range of pages.
type Allocation struct {
	Base     uint64
	NumPages uint64
}

// numPages rounds nBytes up to a whole number of pages.
func (a *Allocator) numPages(nBytes int) uint64 {
	if nBytes <= 0 {
		return 1
	}
	return uint64((nBytes + a.pageSize - 1) / a.pageSize)
}

// Alloc reserves enough contiguous pages to hold nBytes, per spec §3's
// collective allocation record. It first tries to satisfy the request from
// the free list (best fit: the smallest free range that's still big
// enough), falling back to extending the bump-pointer counter.
func (a *Allocator) Alloc(nBytes int) (Allocation, error) {
	if nBytes <= 0 {
		return Allocation{}, dsmerr.Alloc("alloc: nBytes must be positive, got %d", nBytes)
	}
	need := a.numPages(nBytes)

	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.bestFit(need); ok {
		r := a.free[idx]
		base := r.base
		if r.count == need {
			a.free = append(a.free[:idx], a.free[idx+1:]...)
		} else {
			a.free[idx] = freeRange{base: r.base + need, count: r.count - need}
		}
		a.allocations[base] = need
		return Allocation{Base: base, NumPages: need}, nil
	}

	base := a.next
	a.next += need
	a.allocations[base] = need
	return Allocation{Base: base, NumPages: need}, nil
}

// bestFit returns the index into a.free of the smallest range that can
// satisfy need, or false if none can. Caller holds a.mu.
func (a *Allocator) bestFit(need uint64) (int, bool) {
	best := -1
	for i, r := range a.free {
		if r.count < need {
			continue
		}
		if best == -1 || r.count < a.free[best].count {
			best = i
		}
	}
	return best, best != -1
}

// Free releases the allocation based at base, returning its pages to the
// free list and dropping any cached page bytes within the range. Freeing
// an address that was never allocated, or that has already been freed, is
// an AllocError — never silently ignored, since it usually means the
// caller mismanaged its own bookkeeping.
func (a *Allocator) Free(base uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	count, ok := a.allocations[base]
	if !ok {
		return dsmerr.Alloc("free: base %d is not a live allocation", base)
	}
	delete(a.allocations, base)

	for p := base; p < base+count; p++ {
		delete(a.pages, p)
	}

	a.free = append(a.free, freeRange{base: base, count: count})
	a.compact()
	return nil
}

// compact sorts the free list by base and merges adjacent ranges, keeping
// it from growing unboundedly under alloc/free churn. Caller holds a.mu.
func (a *Allocator) compact() {
	slices.SortFunc(a.free, func(x, y freeRange) int { return cmp.Compare(x.base, y.base) })

	merged := a.free[:0]
	for _, r := range a.free {
		if n := len(merged); n > 0 && merged[n-1].base+merged[n-1].count == r.base {
			merged[n-1].count += r.count
			continue
		}
		merged = append(merged, r)
	}
	a.free = merged
}

// ZeroPage returns a fresh, zeroed page-sized buffer. It implements
// internal/protocol.PageSource for pages the manager has never cached:
// spec §4.2's Uncached state always resolves to zeros, never stale memory.
func (a *Allocator) ZeroPage(index uint64) []byte {
	return make([]byte, a.pageSize)
}

// Page returns the manager's cached bytes for index, or nil if the
// manager has never cached that page (it has always lived with a node, or
// no node has ever faulted it in).
func (a *Allocator) Page(index uint64) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pages[index]
}

// SetPage caches data as the manager's copy of page index. A nil or empty
// data leaves any existing cached copy untouched — internal/protocol.Manager
// calls SetPage with a nil payload to mean "the requester already has
// current data, nothing new to cache," which must not evict a page the
// manager already has on hand.
func (a *Allocator) SetPage(index uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	a.pages[index] = cp
}
