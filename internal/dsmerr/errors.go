// Package dsmerr defines the error taxonomy shared by every layer of the
// coherence engine, so callers can distinguish a configuration mistake from
// a transient network failure from a protocol invariant violation without
// parsing error strings.
package dsmerr

import "fmt"

// Kind classifies an error into one of the categories the application API
// (internal/dsm) propagates to its caller. Each constant's comment below
// says how that kind is handled.
type Kind int

const (
	// KindConfig marks a configuration error: inconsistent or missing
	// config, detected at init and always fatal.
	KindConfig Kind = iota
	// KindTransport marks a failed send/receive. Surfaces through the
	// operation that triggered it and aborts any faults the affected node
	// had in flight.
	KindTransport
	// KindProtocol marks a message that violates the coherence FSM (for
	// example a PageData for a page that isn't InTransit). Always fatal —
	// it indicates a bug in this process or a peer, not a recoverable
	// condition.
	KindProtocol
	// KindAlloc marks an allocator failure: out of address space or
	// backing memory.
	KindAlloc
	// KindNotDSM marks a fault for an address outside any live
	// allocation. Callers should let this propagate as an ordinary
	// segmentation fault rather than handle it.
	KindNotDSM
	// KindShutdown marks an operation attempted after Finalize.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAlloc:
		return "alloc"
	case KindNotDSM:
		return "not_dsm_memory"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries in
// this module. It carries a Kind so callers can switch on category with
// errors.As, plus a free-form message and an optional wrapped cause.
type Error struct {
	Cause   error
	Message string
	Kind    Kind
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind with no wrapped cause.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Wrap constructs an *Error of the given kind around an existing error.
func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

// Is reports whether err is a *Error of the given kind. It does not match
// kinds transitively through unrelated wrapping — callers that wrap an
// *Error further should preserve the Kind by re-wrapping with the same Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == k
}

// Config is a convenience constructor for KindConfig errors.
func Config(format string, args ...any) *Error {
	return New(KindConfig, fmt.Sprintf(format, args...))
}

// Transport is a convenience constructor for KindTransport errors.
func Transport(cause error, format string, args ...any) *Error {
	return Wrap(KindTransport, fmt.Sprintf(format, args...), cause)
}

// Protocol is a convenience constructor for KindProtocol errors.
func Protocol(format string, args ...any) *Error {
	return New(KindProtocol, fmt.Sprintf(format, args...))
}

// Alloc is a convenience constructor for KindAlloc errors.
func Alloc(format string, args ...any) *Error {
	return New(KindAlloc, fmt.Sprintf(format, args...))
}

// Shutdown returns the sentinel error returned by any API call made after
// Finalize has been initiated.
func Shutdown() *Error {
	return New(KindShutdown, "dsm: node is shutting down")
}

// NotDSMMemory returns the sentinel error for a fault address outside any
// live allocation.
func NotDSMMemory() *Error {
	return New(KindNotDSM, "address is not backed by a dsm allocation")
}

// RuntimeExitCode maps a post-init failure onto spec §6's exit code 2
// ("runtime/coherence error"), or 0 if err is nil. Initialization
// failures are always exit code 1 regardless of Kind (the node never
// joined the cluster, so there is no coherence state to have gone
// wrong) and are reported directly by the caller of Init rather than
// through this helper.
func RuntimeExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 2
}
