package syncprim

import (
	"context"
	"sync"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
	"github.com/dreamware/torua-dsm/internal/transport"
)

// Client is the node-side handle on the release-consistency primitives:
// Barrier blocks until every cluster member has called it; LockAcquire
// blocks until this node is granted the named lock. Every node, including
// the manager, constructs one of these against the cluster's manager
// address.
type Client struct {
	self        transport.NodeID
	managerAddr string
	tr          transport.Transport

	mu          sync.Mutex
	barrierWait chan struct{}
	lockWaits   map[uint32]chan struct{}
}

// NewClient constructs a Client that sends barrier and lock requests to
// managerAddr over tr, identifying itself as self.
func NewClient(self transport.NodeID, managerAddr string, tr transport.Transport) *Client {
	return &Client{
		self:        self,
		managerAddr: managerAddr,
		tr:          tr,
		lockWaits:   make(map[uint32]chan struct{}),
	}
}

// Barrier blocks until every cluster member has called Barrier, per spec
// §4.5: a release-consistency synchronization point after which every
// node's subsequent faults observe a fully quiescent directory.
func (c *Client) Barrier(ctx context.Context) error {
	ch := make(chan struct{})
	c.mu.Lock()
	c.barrierWait = ch
	c.mu.Unlock()

	msg := transport.Message{Type: transport.MsgBarrierEnter, Requester: uint32(c.self)}
	if err := c.tr.Send(ctx, c.managerAddr, msg); err != nil {
		return dsmerr.Transport(err, "barrier enter")
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return dsmerr.Transport(ctx.Err(), "barrier canceled")
	}
}

// LockAcquire blocks until this node is granted named lock id. Acquiring
// acts as an acquire fence per spec §4.5: subsequent reads will fault in
// current values rather than reuse stale local copies.
func (c *Client) LockAcquire(ctx context.Context, id uint32) error {
	ch := make(chan struct{})
	c.mu.Lock()
	c.lockWaits[id] = ch
	c.mu.Unlock()

	msg := transport.Message{Type: transport.MsgLockReq, Requester: uint32(c.self), Payload: encodeID(id)}
	if err := c.tr.Send(ctx, c.managerAddr, msg); err != nil {
		c.mu.Lock()
		delete(c.lockWaits, id)
		c.mu.Unlock()
		return dsmerr.Transport(err, "lock acquire id=%d", id)
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return dsmerr.Transport(ctx.Err(), "lock acquire id=%d canceled", id)
	}
}

// LockRelease gives up named lock id. Releasing acts as a release fence
// per spec §4.5: pending writes become eligible for on-demand invalidation
// by the next acquirer, nothing is eagerly flushed.
func (c *Client) LockRelease(ctx context.Context, id uint32) error {
	msg := transport.Message{Type: transport.MsgLockRel, Requester: uint32(c.self), Payload: encodeID(id)}
	if err := c.tr.Send(ctx, c.managerAddr, msg); err != nil {
		return dsmerr.Transport(err, "lock release id=%d", id)
	}
	return nil
}

// HandleMessage dispatches a BarrierRelease or LockGrant reply to the
// goroutine blocked waiting for it.
func (c *Client) HandleMessage(_ transport.NodeID, msg transport.Message) {
	switch msg.Type {
	case transport.MsgBarrierRelease:
		c.mu.Lock()
		ch := c.barrierWait
		c.barrierWait = nil
		c.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	case transport.MsgLockGrant:
		id := decodeID(msg.Payload)
		c.mu.Lock()
		ch := c.lockWaits[id]
		delete(c.lockWaits, id)
		c.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	}
}
