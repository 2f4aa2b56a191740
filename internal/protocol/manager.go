package protocol

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/torua-dsm/internal/directory"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
	"github.com/dreamware/torua-dsm/internal/dsmstats"
	"github.com/dreamware/torua-dsm/internal/transport"
)

// exchange tracks a write fault's outstanding acknowledgements: the set of
// nodes the manager is still waiting to hear InvAck (invalidated sharers)
// or Ack (the node that forwarded PageData to the requester) from before
// the directory can record the requester as the new exclusive owner.
type exchange struct {
	requester transport.NodeID
	needed    map[transport.NodeID]struct{}
}

// Manager is the manager-side half of the coherence protocol: the only
// component in the cluster that mutates internal/directory. It is driven
// entirely by incoming transport.Message values; every method that sends a
// reply does so over tr, resolved through addrs.
type Manager struct {
	self  transport.NodeID
	dir   *directory.Directory
	addrs AddrBook
	pages PageSource
	tr    transport.Transport
	log   *dsmlog.Logger
	stats *dsmstats.Stats

	mu        sync.Mutex
	exchanges map[uint64]*exchange
}

// NewManager constructs a Manager. self is the manager's own node id (the
// home node for Uncached pages and, per spec §4.3, a valid source for
// Shared reads when it already holds a cached copy).
func NewManager(self transport.NodeID, dir *directory.Directory, addrs AddrBook, pages PageSource, tr transport.Transport, log *dsmlog.Logger, stats *dsmstats.Stats) *Manager {
	return &Manager{
		self:      self,
		dir:       dir,
		addrs:     addrs,
		pages:     pages,
		tr:        tr,
		log:       logOrDiscard(log),
		stats:     stats,
		exchanges: make(map[uint64]*exchange),
	}
}

// HandleMessage dispatches an inbound message to the handler for its type.
// ReadReq, WriteReq and Gone each run in their own goroutine so a slow or
// retried Send triggered by one message (e.g. a Forward awaiting an owner's
// Ack) never stalls the transport's read loop for the rest of the
// connection; InvAck and Ack only update the exchange table and run inline.
func (m *Manager) HandleMessage(from transport.NodeID, msg transport.Message) {
	switch msg.Type {
	case transport.MsgReadReq:
		go m.handleReadReq(from, msg.PageIndex)
	case transport.MsgWriteReq:
		go m.handleWriteReq(from, msg.PageIndex)
	case transport.MsgInvAck, transport.MsgAck:
		m.handleSubAck(msg.PageIndex, from)
	case transport.MsgGone:
		go m.handleGone(from, msg.PageIndex)
	default:
		m.log.Warnf("unexpected message %s from node %d", msg.Type, from)
	}
}

func (m *Manager) handleReadReq(requester transport.NodeID, page uint64) {
	if m.stats != nil {
		m.stats.ReadFault()
	}
	entry := m.dir.Get(page)
	joined, wait, state, owner, sharers := entry.Claim()
	if joined {
		go func() {
			<-wait
			m.handleReadReq(requester, page)
		}()
		return
	}

	switch state {
	case directory.Uncached:
		data := m.pages.ZeroPage(page)
		m.sendPageData(requester, page, data, transport.GrantShared)
		entry.Resolve(directory.Shared, m.self, []transport.NodeID{requester})

	case directory.Shared:
		switch {
		case m.pages.Page(page) != nil:
			m.sendPageData(requester, page, m.pages.Page(page), transport.GrantShared)
		case len(sharers) > 0:
			m.sendForward(pickSharer(sharers, owner), transport.MsgForwardRead, page, requester)
		default:
			// No sharer on record with a cached copy anywhere — fall back
			// to a zero fill rather than hang; this only happens if the
			// directory's bookkeeping and the cache disagree, which a
			// stricter build would flag as a ProtocolError instead.
			m.sendPageData(requester, page, m.pages.ZeroPage(page), transport.GrantShared)
		}
		entry.Resolve(directory.Shared, owner, appendUnique(sharers, requester))

	case directory.Modified:
		m.sendForward(owner, transport.MsgForwardRead, page, requester)
		entry.Resolve(directory.Shared, owner, []transport.NodeID{owner, requester})
	}
}

func (m *Manager) handleWriteReq(requester transport.NodeID, page uint64) {
	if m.stats != nil {
		m.stats.WriteFault()
	}
	entry := m.dir.Get(page)
	joined, wait, state, owner, sharers := entry.Claim()
	if joined {
		go func() {
			<-wait
			m.handleWriteReq(requester, page)
		}()
		return
	}

	requesterAlreadyHasData := (state == directory.Modified && owner == requester) || contains(sharers, requester)

	invalTargets := removeNode(sharers, requester)
	var forwardTo transport.NodeID
	haveForward := false

	if !requesterAlreadyHasData {
		switch state {
		case directory.Modified:
			forwardTo, haveForward = owner, true
		case directory.Shared:
			if len(invalTargets) > 0 {
				forwardTo, haveForward = invalTargets[0], true
				invalTargets = invalTargets[1:]
			}
		}
	}

	needed := make(map[transport.NodeID]struct{}, len(invalTargets)+1)
	for _, n := range invalTargets {
		needed[n] = struct{}{}
	}
	if haveForward {
		needed[forwardTo] = struct{}{}
	}

	if len(needed) == 0 {
		if state == directory.Uncached {
			m.sendPageData(requester, page, m.pages.ZeroPage(page), transport.GrantModified)
		} else {
			// Upgrade, or a write fault re-confirming ownership the
			// requester already holds: no bytes need to move.
			m.sendPageData(requester, page, nil, transport.GrantModified)
		}
		entry.Resolve(directory.Modified, requester, nil)
		return
	}

	m.mu.Lock()
	m.exchanges[page] = &exchange{requester: requester, needed: needed}
	m.mu.Unlock()

	for _, n := range invalTargets {
		m.sendInvalidate(n, page)
	}
	if haveForward {
		m.sendForward(forwardTo, transport.MsgForwardWrite, page, requester)
	}
	// entry stays pending; resolved by handleSubAck once every needed
	// acknowledgement has arrived.
}

// handleSubAck retires one outstanding acknowledgement of a write
// exchange. It is also invoked for InvAck/Ack messages unrelated to any
// tracked exchange (a read fault's informational Ack, a stray duplicate) —
// those are silently ignored, since only write faults register exchanges.
func (m *Manager) handleSubAck(page uint64, from transport.NodeID) {
	m.mu.Lock()
	ex, ok := m.exchanges[page]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(ex.needed, from)
	done := len(ex.needed) == 0
	requester := ex.requester
	if done {
		delete(m.exchanges, page)
	}
	m.mu.Unlock()

	if !done {
		return
	}
	m.dir.Get(page).Resolve(directory.Modified, requester, nil)
}

// handleGone answers a Forward that raced a dsm_free, or a node reporting
// it can no longer serve a page it was asked to forward: for a write
// exchange the manager falls back to a zero fill, granting the requester
// the page Modified. It does not look for another owner. Only write faults
// register exchanges, so a Gone answering a Forward{Read} is logged and the
// read requester receives no reply from this path.
func (m *Manager) handleGone(from transport.NodeID, page uint64) {
	m.mu.Lock()
	ex, ok := m.exchanges[page]
	m.mu.Unlock()
	if !ok {
		m.log.Warnf("Gone for page %d from node %d with no outstanding exchange", page, from)
		return
	}

	m.mu.Lock()
	delete(m.exchanges, page)
	m.mu.Unlock()

	m.sendPageData(ex.requester, page, m.pages.ZeroPage(page), transport.GrantModified)
	m.dir.Get(page).Resolve(directory.Modified, ex.requester, nil)
}

// NodeGone unblocks every exchange waiting on an acknowledgement from
// node, wired from internal/directory.LivenessMonitor's onGone callback:
// a node that has stopped answering health checks will never send the
// InvAck or Ack a stuck write fault is waiting on. Treating the missing
// node as having acked is the same fallback handleGone already applies
// per-page when a Forward target reports Gone explicitly; here the
// manager applies it proactively, cluster-wide, for a peer presumed dead
// rather than waiting for every affected page to time out individually.
//
// A page node holds with no exchange in flight — it faulted the page in,
// the exchange that granted it resolved, and node died before anything
// else touched that page — isn't in m.exchanges at all, so the loop below
// never sees it. Left alone, the directory would keep pointing at a dead
// owner forever: the next fault on that page would Forward to node and
// wait on an Ack that will never arrive, hanging the faulting caller
// until its context expires, or forever if it has none. reclaimIdlePages
// closes that gap.
func (m *Manager) NodeGone(node transport.NodeID) {
	m.mu.Lock()
	pages := make([]uint64, 0)
	for page, ex := range m.exchanges {
		if _, waiting := ex.needed[node]; waiting {
			pages = append(pages, page)
		}
	}
	m.mu.Unlock()

	for _, page := range pages {
		m.log.Warnf("node %d presumed gone, releasing its ack on page %d", node, page)
		m.handleSubAck(page, node)
	}

	m.reclaimIdlePages(node)
}

// reclaimIdlePages reassigns or discards every page internal/directory
// reports node as currently owning or sharing, skipping any page with an
// exchange still in flight (those are unblocked above, via handleSubAck,
// which itself calls Entry.Resolve once the exchange completes). A page
// node held Shared simply drops node from the sharer set; a page node
// held Modified has no copy left anywhere in the cluster once node is
// gone, so it resets to Uncached, the same zero-fill-on-next-fault outcome
// handleGone already produces when a Forward target reports Gone
// explicitly.
func (m *Manager) reclaimIdlePages(node transport.NodeID) {
	for _, page := range m.dir.PagesOwnedBy(node) {
		m.mu.Lock()
		_, active := m.exchanges[page]
		m.mu.Unlock()
		if active {
			continue
		}

		entry := m.dir.Get(page)
		state, owner, sharers, _ := entry.Snapshot()
		switch {
		case state == directory.Modified && owner == node:
			m.log.Warnf("node %d presumed gone, discarding its Modified copy of page %d", node, page)
			entry.ForceUncached()
		case state == directory.Shared && contains(sharers, node):
			entry.RemoveSharer(node)
		}
	}
}

func (m *Manager) sendPageData(to transport.NodeID, page uint64, data []byte, granted transport.GrantedState) {
	m.pages.SetPage(page, data)
	addr, ok := m.addrs.DataAddr(to)
	if !ok {
		m.log.Errorf("no data address for node %d, dropping PageData for page %d", to, page)
		return
	}
	msg := transport.Message{Type: transport.MsgPageData, PageIndex: page, GrantedState: granted, Payload: data}
	if err := m.tr.Send(sendCtx(), addr, msg); err != nil {
		m.log.Errorf("send PageData(page=%d) to node %d: %v", page, to, err)
	}
	if m.stats != nil {
		m.stats.PageSent(len(data))
	}
}

func (m *Manager) sendForward(to transport.NodeID, kind transport.MsgType, page uint64, requester transport.NodeID) {
	addr, ok := m.addrs.DataAddr(to)
	if !ok {
		m.log.Errorf("no data address for node %d, dropping %s for page %d", to, kind, page)
		return
	}
	msg := transport.Message{Type: kind, PageIndex: page, Requester: uint32(requester)}
	if err := m.tr.Send(sendCtx(), addr, msg); err != nil {
		m.log.Errorf("send %s(page=%d) to node %d: %v", kind, page, to, err)
	}
}

func (m *Manager) sendInvalidate(to transport.NodeID, page uint64) {
	addr, ok := m.addrs.DataAddr(to)
	if !ok {
		m.log.Errorf("no data address for node %d, dropping Invalidate for page %d", to, page)
		return
	}
	msg := transport.Message{Type: transport.MsgInvalidate, PageIndex: page}
	if err := m.tr.Send(sendCtx(), addr, msg); err != nil {
		m.log.Errorf("send Invalidate(page=%d) to node %d: %v", page, to, err)
	}
	if m.stats != nil {
		m.stats.InvalidateSent()
	}
}

func pickSharer(sharers []transport.NodeID, owner transport.NodeID) transport.NodeID {
	for _, n := range sharers {
		if n == owner {
			return n
		}
	}
	if len(sharers) > 0 {
		return sharers[0]
	}
	return 0
}

// contains reports whether n appears in nodes, the sharer-set membership
// check behind requesterAlreadyHasData and NodeGone's reclaim path.
func contains(nodes []transport.NodeID, n transport.NodeID) bool {
	return slices.Contains(nodes, n)
}

func removeNode(nodes []transport.NodeID, n transport.NodeID) []transport.NodeID {
	out := make([]transport.NodeID, 0, len(nodes))
	for _, x := range nodes {
		if x != n {
			out = append(out, x)
		}
	}
	return out
}

func appendUnique(nodes []transport.NodeID, n transport.NodeID) []transport.NodeID {
	if contains(nodes, n) {
		return nodes
	}
	return append(nodes, n)
}
