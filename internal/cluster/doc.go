// Package cluster implements bootstrap and discovery for the Torua-DSM
// coherence engine: the hub-and-spoke control plane a node uses to find the
// manager, register its control- and data-plane addresses, and learn about
// its peers.
//
// # Scope
//
// This package is explicitly the "external collaborator" described in the
// spec's §6: it fixes the wire shape of registration and broadcast, and
// provides one concrete HTTP/JSON implementation, but it does not know
// about pages, ownership, or the coherence FSM. Those live in
// internal/protocol, internal/directory, and internal/syncprim, which use
// the NodeInfo records this package hands out to open data-plane
// connections via internal/transport.
//
// # Protocol
//
// Registration (POST /cluster/register): a node sends its NodeInfo (control
// address, data address) under its own node index and receives back that
// index echoed for confirmation plus the full membership list.
//
// Members (GET /cluster/members): returns the current membership list.
//
// Broadcast: BroadcastRequest fixes the wire shape of a manager-to-node
// push. No broadcast endpoint is served; nodes learn of later joiners only
// by fetching the membership list.
//
// # Concurrency
//
// NodeInfo values are immutable snapshots; callers exchange them by value.
// The shared httpClient safely supports concurrent requests.
package cluster
