package protocol

import (
	"context"
	"sync"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
	"github.com/dreamware/torua-dsm/internal/dsmstats"
	"github.com/dreamware/torua-dsm/internal/pagetable"
	"github.com/dreamware/torua-dsm/internal/transport"
	"github.com/dreamware/torua-dsm/internal/vm"
)

// Installer is the subset of vm.Region a Node needs to apply a coherence
// decision to this node's actual memory mapping. internal/traphandler
// constructs the concrete vm.Region and hands it to Node per allocation.
type Installer interface {
	Populate(index uint64, data []byte, access vm.Access) error
	SetAccess(index uint64, access vm.Access) error
	ReadPage(index uint64) ([]byte, error)
}

// Node is the node-side half of the coherence protocol: it turns local
// page faults into ReadReq/WriteReq messages and answers whatever the
// manager or another node sends back. internal/traphandler is the only
// caller of Fault; internal/dsm wires Node's HandleMessage to the node's
// transport listener.
type Node struct {
	self        transport.NodeID
	managerAddr string
	tr          transport.Transport
	table       *pagetable.Table
	addrs       AddrBook
	log         *dsmlog.Logger
	stats       *dsmstats.Stats

	mu       sync.Mutex
	installs map[uint64]Installer // page index -> region that owns it
	deferred map[uint64]bool      // Invalidate that arrived during our own InTransit{Write}
}

// NewNode constructs the protocol-level peer for one cluster member.
func NewNode(self transport.NodeID, managerAddr string, tr transport.Transport, table *pagetable.Table, addrs AddrBook, log *dsmlog.Logger, stats *dsmstats.Stats) *Node {
	return &Node{
		self:        self,
		managerAddr: managerAddr,
		tr:          tr,
		table:       table,
		addrs:       addrs,
		log:         logOrDiscard(log),
		stats:       stats,
		installs:    make(map[uint64]Installer),
		deferred:    make(map[uint64]bool),
	}
}

// Bind associates a page index with the Installer (vm.Region) that backs
// it, so later Invalidate/Forward/PageData handling for that page knows
// where to apply the OS-level permission change. Called once per page at
// allocation time.
func (n *Node) Bind(page uint64, inst Installer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.installs[page] = inst
}

// Unbind removes a page's Installer association, for dsm_free.
func (n *Node) Unbind(page uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.installs, page)
}

func (n *Node) installerFor(page uint64) (Installer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	inst, ok := n.installs[page]
	return inst, ok
}

// Fault resolves one page fault by issuing the appropriate protocol
// request and blocking until the page table records the page usable (or
// an error is observed). internal/traphandler coalesces concurrent faults
// on the same page before calling Fault; if the page table already shows a
// request in flight for the page, Fault waits for that one instead of
// sending another, and it returns at once if the page is already usable.
func (n *Node) Fault(ctx context.Context, page uint64, kind vm.FaultKind) error {
	if n.stats != nil {
		n.stats.Fault()
	}
	p := n.table.Get(page)
	state, _, _, _ := p.Snapshot()

	if kind == vm.FaultRead && state != pagetable.Invalid {
		return nil
	}
	if kind == vm.FaultWrite && state == pagetable.Modified {
		return nil
	}

	var transitKind pagetable.TransitKind
	var msgType transport.MsgType
	switch {
	case kind == vm.FaultRead:
		transitKind, msgType = pagetable.TransitFetchShared, transport.MsgReadReq
	case state == pagetable.Shared:
		transitKind, msgType = pagetable.TransitUpgrade, transport.MsgWriteReq
	default:
		transitKind, msgType = pagetable.TransitFetchModified, transport.MsgWriteReq
	}

	joined, wait := p.BeginTransit(transitKind)
	if joined {
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return dsmerr.Transport(ctx.Err(), "fault on page %d canceled while joining in-flight request", page)
		}
	}

	msg := transport.Message{Type: msgType, PageIndex: page, Requester: uint32(n.self)}
	if err := n.tr.Send(ctx, n.managerAddr, msg); err != nil {
		p.Abort()
		return dsmerr.Transport(err, "send %s for page %d", msgType, page)
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return dsmerr.Transport(ctx.Err(), "fault on page %d canceled awaiting reply", page)
	}
}

// HandleMessage dispatches an inbound message from the manager or a peer
// node. Each branch runs in its own goroutine so replying (which may
// itself call Transport.Send) never stalls the connection's read loop.
func (n *Node) HandleMessage(from transport.NodeID, msg transport.Message) {
	switch msg.Type {
	case transport.MsgPageData:
		go n.handlePageData(msg)
	case transport.MsgInvalidate:
		go n.handleInvalidate(msg.PageIndex)
	case transport.MsgForwardRead:
		go n.handleForward(msg.PageIndex, transport.NodeID(msg.Requester), false)
	case transport.MsgForwardWrite:
		go n.handleForward(msg.PageIndex, transport.NodeID(msg.Requester), true)
	case transport.MsgAck, transport.MsgInvAck:
		// Only the manager consumes acknowledgements; a node that somehow
		// receives one has nothing to do with it.
	default:
		n.log.Warnf("unexpected message %s from node %d", msg.Type, from)
	}
}

func (n *Node) handlePageData(msg transport.Message) {
	page := msg.PageIndex
	p := n.table.Get(page)

	newState := pagetable.Shared
	access := vm.ReadOnly
	if msg.GrantedState == transport.GrantModified {
		newState, access = pagetable.Modified, vm.ReadWrite
	}

	if inst, ok := n.installerFor(page); ok {
		if len(msg.Payload) > 0 {
			if err := inst.Populate(page, msg.Payload, access); err != nil {
				n.log.Errorf("populate page %d: %v", page, err)
			}
		} else if err := inst.SetAccess(page, access); err != nil {
			// Upgrade case: the page's bytes are already installed, only
			// the protection changes.
			n.log.Errorf("set access page %d: %v", page, err)
		}
	}

	p.Resolve(newState)
	n.applyDeferredInvalidate(page, p)

	if msg.GrantedState == transport.GrantShared && n.stats != nil {
		n.stats.PageFetched(len(msg.Payload))
	}

	n.ack(page)
}

// applyDeferredInvalidate honors an Invalidate that arrived while this
// page was InTransit{Write} on this node's own account (spec §4.3's
// ordering rule: defer, then honor once the local install completes).
func (n *Node) applyDeferredInvalidate(page uint64, p *pagetable.Page) {
	n.mu.Lock()
	pending := n.deferred[page]
	delete(n.deferred, page)
	n.mu.Unlock()
	if !pending {
		return
	}
	n.dropPage(page, p)
	n.ackInvalidate(page)
}

func (n *Node) handleInvalidate(page uint64) {
	if n.stats != nil {
		n.stats.InvalidateReceived()
	}
	p := n.table.Get(page)
	state, pending, _, _ := p.Snapshot()
	if pending == pagetable.TransitFetchModified || pending == pagetable.TransitUpgrade {
		n.mu.Lock()
		n.deferred[page] = true
		n.mu.Unlock()
		return
	}
	if state == pagetable.Invalid {
		n.ackInvalidate(page)
		return
	}
	if !n.dropPage(page, p) {
		// A read fetch raced in between Snapshot and here; defer and
		// retry once it resolves rather than drop the Invalidate.
		n.mu.Lock()
		n.deferred[page] = true
		n.mu.Unlock()
		return
	}
	n.ackInvalidate(page)
}

// dropPage forces page to Invalid and reports whether it succeeded — it
// fails only if a transit began concurrently, in which case the caller
// must defer rather than silently drop the Invalidate.
func (n *Node) dropPage(page uint64, p *pagetable.Page) bool {
	if inst, ok := n.installerFor(page); ok {
		if err := inst.SetAccess(page, vm.NoAccess); err != nil {
			n.log.Errorf("invalidate page %d: %v", page, err)
		}
	}
	return p.TryForceState(pagetable.Invalid)
}

// handleForward answers a Forward{Read} or Forward{Write} the manager
// routed to this node because it currently holds the page: read bytes
// out, ship them to the requester, downgrade or drop the local copy, and
// tell the manager the hand-off is done.
func (n *Node) handleForward(page uint64, requester transport.NodeID, write bool) {
	inst, ok := n.installerFor(page)
	if !ok {
		n.sendGone(page)
		return
	}
	data, err := inst.ReadPage(page)
	if err != nil {
		n.log.Errorf("read page %d for forward: %v", page, err)
		n.sendGone(page)
		return
	}

	granted := transport.GrantShared
	newState := pagetable.Shared
	newAccess := vm.ReadOnly
	if write {
		granted, newState, newAccess = transport.GrantModified, pagetable.Invalid, vm.NoAccess
	}

	addr, ok := n.addrs.DataAddr(requester)
	if ok {
		out := transport.Message{Type: transport.MsgPageData, PageIndex: page, GrantedState: granted, Payload: data}
		if err := n.tr.Send(sendCtx(), addr, out); err != nil {
			n.log.Errorf("forward page %d to node %d: %v", page, requester, err)
		}
		if n.stats != nil {
			n.stats.PageSent(len(data))
		}
	}

	if err := inst.SetAccess(page, newAccess); err != nil {
		n.log.Errorf("downgrade page %d after forward: %v", page, err)
	}
	n.table.Get(page).TryForceState(newState)

	n.ack(page)
}

func (n *Node) ack(page uint64) {
	if err := n.tr.Send(sendCtx(), n.managerAddr, transport.Message{Type: transport.MsgAck, PageIndex: page}); err != nil {
		n.log.Errorf("send Ack(page=%d): %v", page, err)
	}
}

func (n *Node) ackInvalidate(page uint64) {
	if err := n.tr.Send(sendCtx(), n.managerAddr, transport.Message{Type: transport.MsgInvAck, PageIndex: page}); err != nil {
		n.log.Errorf("send InvAck(page=%d): %v", page, err)
	}
}

func (n *Node) sendGone(page uint64) {
	if err := n.tr.Send(sendCtx(), n.managerAddr, transport.Message{Type: transport.MsgGone, PageIndex: page}); err != nil {
		n.log.Errorf("send Gone(page=%d): %v", page, err)
	}
}
