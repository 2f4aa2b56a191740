package dsm

import (
	"context"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
	"github.com/dreamware/torua-dsm/internal/dsmstats"
	"github.com/dreamware/torua-dsm/internal/traphandler"
)

// Addr identifies a DSM allocation by its base page index, standing in
// for the "identical virtual range on every node" spec §6 promises —
// every node reserves the same NumPages-sized region for a given Addr,
// so the page index space is the portable address space across the
// cluster regardless of where each node's Region actually lives in its
// own process.
type Addr struct {
	Base     uint64
	NumPages uint64
}

// Alloc reserves nBytes worth of pages, collectively bookkept on the
// manager, and maps a local Region backing them on this node.
func (d *DSM) Alloc(ctx context.Context, nBytes int) (Addr, error) {
	if err := d.checkLive(); err != nil {
		return Addr{}, err
	}
	alloc, err := d.allocSvc.Alloc(ctx, nBytes)
	if err != nil {
		return Addr{}, err
	}

	region, err := d.vmSource.Reserve(ctx, alloc.NumPages, d.cfg.PageSize)
	if err != nil {
		return Addr{}, err
	}

	th := traphandler.New(region, d.node, d.log)
	d.mu.Lock()
	d.regions[alloc.Base] = region
	d.handlers[alloc.Base] = th
	d.mu.Unlock()

	for i := uint64(0); i < alloc.NumPages; i++ {
		d.node.Bind(alloc.Base+i, region)
	}
	go th.Run(context.Background())

	return Addr{Base: alloc.Base, NumPages: alloc.NumPages}, nil
}

// Free releases a.'s pages collectively: this node drops its local
// mapping and unbinds its pages from the coherence protocol before
// telling the manager the allocation record is gone.
func (d *DSM) Free(ctx context.Context, a Addr) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	d.mu.Lock()
	region, ok := d.regions[a.Base]
	delete(d.regions, a.Base)
	delete(d.handlers, a.Base)
	d.mu.Unlock()

	for i := uint64(0); i < a.NumPages; i++ {
		d.node.Unbind(a.Base + i)
	}
	if ok {
		if err := region.Close(); err != nil {
			d.log.Errorf("close region at base %d: %v", a.Base, err)
		}
	}
	return d.allocSvc.Free(ctx, a.Base)
}

// Load reads page index within a, faulting it in as Shared if this node
// doesn't already hold a current copy.
func (d *DSM) Load(ctx context.Context, a Addr, pageOffset uint64) ([]byte, error) {
	if err := d.checkLive(); err != nil {
		return nil, err
	}
	th, err := d.handlerFor(a)
	if err != nil {
		return nil, err
	}
	return th.Load(ctx, a.Base+pageOffset)
}

// Store writes data as the full content of page index within a, faulting
// it in as Modified first if needed.
func (d *DSM) Store(ctx context.Context, a Addr, pageOffset uint64, data []byte) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	th, err := d.handlerFor(a)
	if err != nil {
		return err
	}
	return th.Store(ctx, a.Base+pageOffset, data)
}

func (d *DSM) handlerFor(a Addr) (*traphandler.Handler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	th, ok := d.handlers[a.Base]
	if !ok {
		return nil, dsmerr.NotDSMMemory()
	}
	return th, nil
}

// Barrier blocks until every cluster member has called Barrier.
func (d *DSM) Barrier(ctx context.Context) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	return d.syncClient.Barrier(ctx)
}

// LockAcquire blocks until this node is granted named lock id.
func (d *DSM) LockAcquire(ctx context.Context, id uint32) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	return d.syncClient.LockAcquire(ctx, id)
}

// LockRelease gives up named lock id.
func (d *DSM) LockRelease(ctx context.Context, id uint32) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	return d.syncClient.LockRelease(ctx, id)
}

// Stats returns a read-only snapshot of this node's observable counters
// (spec §6).
func (d *DSM) Stats() dsmstats.Counters {
	return d.stats.Snapshot()
}

// Finalize performs collective shutdown: stops accepting new faults,
// releases every local region, and tears down the transport and (for
// the manager) the control-plane server.
func (d *DSM) Finalize(ctx context.Context) error {
	d.mu.Lock()
	if d.finalized {
		d.mu.Unlock()
		return nil
	}
	d.finalized = true
	regions := d.regions
	d.regions = nil
	d.mu.Unlock()

	for base, region := range regions {
		if err := region.Close(); err != nil {
			d.log.Errorf("close region at base %d: %v", base, err)
		}
	}

	if err := d.tr.Close(); err != nil {
		d.log.Errorf("close transport: %v", err)
	}

	if d.liveness != nil {
		d.liveness.Stop()
	}
	if d.httpSrv != nil {
		if err := d.httpSrv.Shutdown(ctx); err != nil {
			d.log.Errorf("shutdown control plane: %v", err)
		}
	}
	d.log.Infof("finalized")
	return nil
}
