// Package dsm is the application API façade from spec §6: Init, Finalize,
// Alloc, Free, Barrier, LockAcquire, LockRelease, Stats, plus Load/Store
// helpers that drive the trap handler directly for callers (and tests)
// that don't map real OS memory. It is the one package that constructs
// and wires every other collaborator — transport, protocol, pagetable,
// directory, dsmalloc, syncprim, vm, traphandler — so that cmd/manager
// and cmd/node each reduce to "load Config, call Init, wait for a
// signal, call Finalize."
//
// Grounded on cmd/coordinator/main.go's and cmd/node/main.go's own
// wiring style: a single struct holding every live collaborator,
// constructed in a linear sequence in Init, torn down in reverse in
// Finalize, with env-var configuration via getenv/getenvInt/getenvBool and
// graceful shutdown via signal.Notify.
package dsm
