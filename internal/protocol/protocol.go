// Package protocol implements the write-invalidate coherence protocol from
// spec §4.3: the message exchange that resolves a page fault into either a
// fresh copy of the page's data or an upgrade of an already-held copy.
// See doc.go for complete package documentation.
package protocol

import (
	"context"

	"github.com/dreamware/torua-dsm/internal/dsmlog"
	"github.com/dreamware/torua-dsm/internal/transport"
)

// AddrBook resolves a node's data-plane address for sending protocol
// messages. internal/cluster's registration records feed this; both Manager
// and Node are written against the interface so they never depend on the
// bootstrap/discovery package directly.
type AddrBook interface {
	DataAddr(node transport.NodeID) (addr string, ok bool)
}

// PageSource supplies the bytes of a page the manager has never forwarded
// to a node (a freshly allocated, still-Uncached page) and caches the last
// known-good copy of a page once it returns to Shared or Uncached, so a
// later Shared fault can be served by the manager directly instead of
// forwarding to whichever node happens to hold the read-only copy.
// internal/dsmalloc implements this.
type PageSource interface {
	ZeroPage(index uint64) []byte
	Page(index uint64) []byte
	SetPage(index uint64, data []byte)
}

// sendCtx is the background context used for manager- and node-initiated
// sends that are not already attached to a caller's context (mainly
// replies issued from inside a Transport.Handler callback, which receives
// no context of its own).
func sendCtx() context.Context { return context.Background() }

func logOrDiscard(l *dsmlog.Logger) *dsmlog.Logger {
	if l != nil {
		return l
	}
	return dsmlog.New("protocol", dsmlog.LevelOff)
}
