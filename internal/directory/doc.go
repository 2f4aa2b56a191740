// Package directory implements the manager-side collaborator described in
// spec §4.4: the cluster's single source of truth for who owns each page.
//
// # Overview
//
// Where internal/pagetable tracks one node's view of its own pages, this
// package tracks the manager's view of every node's pages at once. Every
// page starts Uncached (no node has ever faulted on it). The first fault
// anywhere promotes it to Shared (the faulting node gets a read copy) or
// Modified (a write fault, or an upgrade of an existing sharer). Further
// faults are resolved by consulting and updating this same Entry, with
// BeginOp/Resolve providing the at-most-one-protocol-exchange-in-flight
// serialization spec's design notes require per page.
//
// # Concurrency
//
// Directory.Get takes a short RLock/Lock only to find-or-create an Entry;
// all subsequent work happens on that Entry's own lock, so concurrent
// faults on different pages never contend with each other at the
// directory level. The manager runs a single Directory covering the pages
// of every allocation.
//
// # Liveness
//
// LivenessMonitor (liveness.go) is a secondary, optional collaborator: it
// periodically health-checks known nodes and invokes a callback when one
// crosses a failure threshold. internal/protocol's Manager.NodeGone, wired
// to that callback, treats the dead node's outstanding acknowledgements as
// received and reclaims the pages it held: a page it held Modified resets
// to Uncached (its contents are lost) and it is dropped from every sharer
// set. No page data is recovered from the dead node and no Gone message is
// sent.
package directory
