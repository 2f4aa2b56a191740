// Package traphandler is the component spec §4.1 calls the trap handler:
// the bridge between a vm.Region's trapped-access events and
// internal/protocol.Node's fault resolution. It owns nothing about
// coherence state itself — it exists to make sure a page fault becomes
// exactly one Node.Fault call no matter how many times (or from how many
// goroutines) the underlying access was attempted, using
// golang.org/x/sync/singleflight the way a cache-stampede guard would:
// concurrent callers for the same key share one in-flight call instead of
// each issuing a redundant request.
//
// Against the real userfaultfd(2) backend (internal/vm's vm_linux.go),
// Run is the only entry point: the kernel itself blocks the faulting
// thread until internal/protocol.Node's Installer calls (Populate /
// SetAccess) resolve it, so application code touches DSM memory directly
// through ordinary pointer dereferences and never calls into this
// package. Against internal/vm.SimRegion, there is no real trap — Load
// and Store are the test-facing stand-in for "touch this address",
// looping Touch/resolve the way a test harness would poll for a fault to
// clear.
package traphandler
