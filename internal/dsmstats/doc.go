// Package dsmstats implements the observable counters spec §6 requires
// stats() to expose: fault counts, bytes moved, and fault latency
// (avg/min/max in microseconds). It is grounded on
// internal/shard.ShardStats/OperationStats — the teacher's own
// atomic-counter stats block — generalized from per-shard get/put/delete
// counts to per-node coherence-fault counts.
//
// Every counter is an atomic value updated from whichever goroutine
// observes the event (a fault, a message send), so recording a count takes
// no lock; the one lock, samplesMu, is taken by Observe to append a latency
// sample to the ring buffer. Snapshot is the only place that reads them all
// together, and even then each field is read independently rather than
// under one mutex, since a torn read across independent counters is
// acceptable for a diagnostics snapshot.
package dsmstats
