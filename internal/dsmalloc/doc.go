// Package dsmalloc implements the allocation-bookkeeping collaborator
// spec §6 treats as an external interface: dsm_alloc/dsm_free's collective
// page-range bookkeeping, and the manager's role as the backing store for
// pages no node has ever cached (internal/protocol.PageSource).
//
// Grounded on internal/coordinator.ShardRegistry's bookkeeping style — a
// manager-hosted, mutex-protected map the control plane mutates on behalf
// of whichever node asked — generalized from a fixed shard count assigned
// at startup to a page-range allocator that grows and shrinks over the
// cluster's lifetime. The free-list compaction after Free uses
// golang.org/x/exp/slices (already a teacher dependency via
// cmd/coordinator/main.go's slices.IndexFunc) to keep adjacent freed
// ranges merged, the same ecosystem package the teacher reaches for
// slice-search/sort needs beyond what the standard library's sort
// package makes convenient.
//
// Alloc and Free are collective operations (spec §3's "Allocation
// record"): any node may call them, but the bookkeeping itself lives only
// on the manager, reached over the same HTTP control plane
// internal/cluster uses for registration — these are rare, administrative
// calls, not the per-page fault hot path internal/protocol's binary
// transport exists for.
package dsmalloc
