package traphandler

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/dreamware/torua-dsm/internal/dsmlog"
	"github.com/dreamware/torua-dsm/internal/protocol"
	"github.com/dreamware/torua-dsm/internal/vm"
)

// toucher is the optional capability internal/vm.SimRegion implements:
// simulate an access check without a real CPU trap. The uffd-backed
// Region never implements this — its faults arrive only on Faults().
type toucher interface {
	Touch(index uint64, kind vm.FaultKind) bool
}

// Handler bridges one vm.Region's faults to one internal/protocol.Node.
type Handler struct {
	region vm.Region
	node   *protocol.Node
	log    *dsmlog.Logger
	group  singleflight.Group
}

// New constructs a Handler for region, resolving faults against node.
func New(region vm.Region, node *protocol.Node, log *dsmlog.Logger) *Handler {
	if log == nil {
		log = dsmlog.New("traphandler", dsmlog.LevelOff)
	}
	return &Handler{region: region, node: node, log: log}
}

// Run consumes region.Faults() until the channel closes (Region.Close)
// or ctx is canceled, resolving each distinct page exactly once at a
// time via resolve's singleflight coalescing. Intended to run in its own
// goroutine for the lifetime of the region.
func (h *Handler) Run(ctx context.Context) error {
	for {
		select {
		case f, ok := <-h.region.Faults():
			if !ok {
				return nil
			}
			fault := f
			go func() {
				if err := h.resolve(ctx, fault.Index, fault.Kind); err != nil {
					h.log.Errorf("resolve fault page=%d kind=%s: %v", fault.Index, fault.Kind, err)
				}
			}()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resolve issues exactly one Node.Fault call per page at a time: a second
// caller for the same index while one is already in flight shares its
// result instead of issuing a redundant ReadReq/WriteReq.
func (h *Handler) resolve(ctx context.Context, index uint64, kind vm.FaultKind) error {
	key := strconv.FormatUint(index, 10)
	_, err, _ := h.group.Do(key, func() (any, error) {
		return nil, h.node.Fault(ctx, index, kind)
	})
	return err
}

// Load resolves a read fault on index (if the region reports one is
// needed) and returns the page's current bytes. Only meaningful against
// a Region that implements toucher (internal/vm.SimRegion); application
// code against the real backend touches DSM memory directly and never
// calls this.
func (h *Handler) Load(ctx context.Context, index uint64) ([]byte, error) {
	if t, ok := h.region.(toucher); ok {
		for !t.Touch(index, vm.FaultRead) {
			if err := h.resolve(ctx, index, vm.FaultRead); err != nil {
				return nil, err
			}
		}
	}
	return h.region.ReadPage(index)
}

// Store resolves a write fault on index (if the region reports one is
// needed) and installs data as the page's new content. Same
// test-harness caveat as Load.
func (h *Handler) Store(ctx context.Context, index uint64, data []byte) error {
	if t, ok := h.region.(toucher); ok {
		for !t.Touch(index, vm.FaultWrite) {
			if err := h.resolve(ctx, index, vm.FaultWrite); err != nil {
				return err
			}
		}
	}
	return h.region.Populate(index, data, vm.ReadWrite)
}
