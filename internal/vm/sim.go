package vm

import (
	"context"
	"sync"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
)

// SimSource is an in-process Source that never touches the kernel: pages are
// plain byte slices, and instead of trapping a real CPU access, callers
// invoke SimRegion.Touch to simulate a load or store. It exists so
// internal/traphandler and internal/protocol can be exercised by tests on
// any OS, and so development doesn't require CAP_SYS_PTRACE.
type SimSource struct{}

// NewSimSource returns the simulated Source.
func NewSimSource() *SimSource { return &SimSource{} }

func (s *SimSource) Reserve(ctx context.Context, numPages uint64, pageSize int) (Region, error) {
	r := &SimRegion{
		pageSize: pageSize,
		numPages: numPages,
		access:   make([]Access, numPages),
		pages:    make([][]byte, numPages),
		faults:   make(chan Fault, 64),
	}
	for i := range r.pages {
		r.pages[i] = make([]byte, pageSize)
	}
	return r, nil
}

// SimRegion is the Region implementation backing SimSource.
type SimRegion struct {
	mu       sync.Mutex
	pageSize int
	numPages uint64
	access   []Access
	pages    [][]byte
	faults   chan Fault
	closed   bool
}

func (r *SimRegion) Base() uintptr        { return 0 }
func (r *SimRegion) PageSize() int        { return r.pageSize }
func (r *SimRegion) NumPages() uint64     { return r.numPages }
func (r *SimRegion) Faults() <-chan Fault { return r.faults }

// Touch simulates a CPU access to page index. If the page's current access
// level does not permit the access, a Fault is pushed to Faults() and Touch
// returns false; the caller (typically a test harness standing in for the
// trap handler) is expected to resolve it via Populate/SetAccess and call
// Touch again. Returns true once the access would succeed.
func (r *SimRegion) Touch(index uint64, kind FaultKind) bool {
	r.mu.Lock()
	cur := r.access[index]
	r.mu.Unlock()

	switch kind {
	case FaultRead:
		if cur == NoAccess {
			r.faults <- Fault{Kind: FaultRead, Index: index}
			return false
		}
		return true
	case FaultWrite:
		if cur != ReadWrite {
			r.faults <- Fault{Kind: FaultWrite, Index: index}
			return false
		}
		return true
	default:
		return false
	}
}

func (r *SimRegion) Populate(index uint64, data []byte, access Access) error {
	if uint64(len(r.pages)) <= index {
		return dsmerr.Protocol("populate: index %d out of range", index)
	}
	if len(data) > r.pageSize {
		return dsmerr.Protocol("populate: payload %d bytes exceeds page size %d", len(data), r.pageSize)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, r.pageSize)
	copy(buf, data)
	r.pages[index] = buf
	r.access[index] = access
	return nil
}

func (r *SimRegion) SetAccess(index uint64, access Access) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint64(len(r.access)) <= index {
		return dsmerr.Protocol("setaccess: index %d out of range", index)
	}
	r.access[index] = access
	return nil
}

func (r *SimRegion) ReadPage(index uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint64(len(r.pages)) <= index {
		return nil, dsmerr.Protocol("readpage: index %d out of range", index)
	}
	out := make([]byte, r.pageSize)
	copy(out, r.pages[index])
	return out, nil
}

func (r *SimRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.faults)
	return nil
}
