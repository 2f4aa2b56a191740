package transport

import "context"

// Handler is invoked once per distinct (sender, Message) delivered to this
// node. Duplicate deliveries caused by retransmission are suppressed by the
// Transport before Handler is ever called.
type Handler func(from NodeID, msg Message)

// NodeID identifies a transport endpoint. internal/protocol uses the same
// small integers as Message.Requester / directory owner ids.
type NodeID uint32

// Transport is the collaborator interface fixed by spec §6: deliver
// length-prefixed binary messages between nodes in order per
// (source, destination) pair, at-least-once, with duplicate suppression at
// the framing layer. internal/protocol is written entirely against this
// interface so the coherence FSM never depends on the concrete transport.
type Transport interface {
	// Send delivers msg to the node at addr, retrying internally on
	// transient failure. It returns once the peer has acknowledged
	// receipt, or a *dsmerr.Error of KindTransport once retries are
	// exhausted.
	Send(ctx context.Context, addr string, msg Message) error

	// Listen starts accepting connections on addr and invokes handler for
	// every message delivered on them. It returns once the listener is
	// bound; errors after that point are not returned: a failing peer
	// connection is closed on its own and does not take down the listener.
	Listen(ctx context.Context, addr string, handler Handler) error

	// Close releases all listener and connection resources. Idempotent.
	Close() error
}
