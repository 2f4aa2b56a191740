package syncprim

import (
	"context"

	"github.com/dreamware/torua-dsm/internal/directory"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
	"github.com/dreamware/torua-dsm/internal/transport"
)

// AddrBook resolves a node's data-plane address. Identical in shape to
// internal/protocol.AddrBook; kept as a separate interface so this package
// never needs to import internal/protocol just for one method signature.
type AddrBook interface {
	DataAddr(node transport.NodeID) (addr string, ok bool)
}

// ManagerSide wires internal/directory's BarrierCoordinator and LockTable
// to the transport: it turns BarrierEnter/LockReq/LockRel messages into
// calls against that bookkeeping, and turns the bookkeeping's release/
// grant callbacks into BarrierRelease/LockGrant messages sent back out.
type ManagerSide struct {
	barrier *directory.BarrierCoordinator
	locks   *directory.LockTable
	addrs   AddrBook
	tr      transport.Transport
	log     *dsmlog.Logger
}

// NewManagerSide constructs the manager's barrier and lock handling for a
// cluster of numNodes members.
func NewManagerSide(numNodes int, addrs AddrBook, tr transport.Transport, log *dsmlog.Logger) *ManagerSide {
	if log == nil {
		log = dsmlog.New("syncprim", dsmlog.LevelOff)
	}
	m := &ManagerSide{addrs: addrs, tr: tr, log: log}
	m.barrier = directory.NewBarrierCoordinator(numNodes, m.releaseBarrier)
	m.locks = directory.NewLockTable(m.grantLock)
	return m
}

// HandleMessage dispatches a BarrierEnter, LockReq, or LockRel to the
// matching bookkeeping call. Each runs in its own goroutine since
// BarrierCoordinator.Enter and LockTable's grant path may call back into
// Transport.Send.
func (m *ManagerSide) HandleMessage(from transport.NodeID, msg transport.Message) {
	switch msg.Type {
	case transport.MsgBarrierEnter:
		go m.barrier.Enter(from)
	case transport.MsgLockReq:
		go m.locks.Acquire(decodeID(msg.Payload), from)
	case transport.MsgLockRel:
		go m.locks.Release(decodeID(msg.Payload), from)
	}
}

func (m *ManagerSide) releaseBarrier(node transport.NodeID) {
	addr, ok := m.addrs.DataAddr(node)
	if !ok {
		m.log.Errorf("no data address for node %d, dropping BarrierRelease", node)
		return
	}
	msg := transport.Message{Type: transport.MsgBarrierRelease}
	if err := m.tr.Send(context.Background(), addr, msg); err != nil {
		m.log.Errorf("send BarrierRelease to node %d: %v", node, err)
	}
}

func (m *ManagerSide) grantLock(node transport.NodeID, id uint32) {
	addr, ok := m.addrs.DataAddr(node)
	if !ok {
		m.log.Errorf("no data address for node %d, dropping LockGrant(%d)", node, id)
		return
	}
	msg := transport.Message{Type: transport.MsgLockGrant, Payload: encodeID(id)}
	if err := m.tr.Send(context.Background(), addr, msg); err != nil {
		m.log.Errorf("send LockGrant(%d) to node %d: %v", id, node, err)
	}
}
