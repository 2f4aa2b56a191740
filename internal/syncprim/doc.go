// Package syncprim implements the client side of spec §4.5's
// release-consistency primitives — barrier() and lock_acquire()/
// lock_release() — on top of internal/transport's BarrierEnter/
// BarrierRelease and LockReq/LockGrant/LockRel messages. The manager-side
// bookkeeping these primitives drive (internal/directory.BarrierCoordinator,
// internal/directory.LockTable) lives in internal/directory, the same
// package that hosts every other piece of manager-only cluster state;
// ManagerSide here is the thin adapter wiring that bookkeeping to the wire.
//
// Every node, including the manager (which is also a DSM participant),
// talks to ManagerSide through the same Client the other nodes use — the
// manager never takes a shortcut around the network for its own barrier
// or lock calls, unlike the coherence protocol's manager-local fault
// short-circuit, because there is no local invariant to preserve: a
// barrier with a local exception could release the manager before every
// other node arrives.
package syncprim
