// Package dsmdemo implements the "CLI / demonstration" surface named in
// spec §6: a thin HTTP control plane, separate from the coherence
// protocol's own data-plane transport, that lets an external driver (the
// integration test suite, or a human with curl) exercise the Application
// API — alloc, load/store, barrier, lock — against a running cmd/manager
// or cmd/node process without being able to call into its Go runtime
// directly.
//
// This mirrors the teacher's own split between the data-handling core
// (internal/storage's key-value engine, in torua) and the HTTP glue that
// exposes it (cmd/coordinator's handleData and friends): here the core is
// internal/dsm.DSM, and dsmdemo's Server.Register is the glue, kept out of
// internal/dsm itself so the façade stays a pure Go API per spec §6 and
// every wire-format decision for this demonstration surface lives in one
// place shared by both binaries.
package dsmdemo
