// Package protocol implements the write-invalidate coherence protocol from
// spec §4.3: the message exchange that turns a page fault into either a
// fresh copy of the page's data or an in-place upgrade of a copy already
// held locally.
//
// # Roles
//
// Manager runs only on the cluster's designated manager node. It owns the
// authoritative internal/directory and decides, for every ReadReq/WriteReq
// it receives, who the requester should get its data from (itself, a
// sharer, or the current owner) and which nodes must be invalidated first.
//
// Node runs on every cluster member, including the manager (which is also
// a DSM participant, not just the directory host). It turns local faults
// into ReadReq/WriteReq messages, installs PageData it receives, and
// answers Invalidate and Forward messages the manager routes to it.
//
// # Message Flow
//
// Read fault: requester -[ReadReq]-> manager -[Forward or direct
// PageData]-> source -[PageData]-> requester. The directory is updated
// optimistically, in step with routing the request, exactly as spec §4.3
// describes — the manager does not wait for the source to confirm
// delivery before a later request for the same page can observe the new
// Shared state; it only serializes against a *second* request racing the
// *same* decision (internal/directory's per-entry Claim/Resolve).
//
// Write fault: requester -[WriteReq]-> manager -[Invalidate]-> every other
// sharer, and -[Forward{Write}]-> the current owner (or a chosen sharer, if
// the requester never held the page and no node is Modified) if a page
// copy still needs to move. Unlike the read path, the manager defers
// updating the directory until every invalidation and forward it sent has
// been acknowledged — spec §4.3 step 2 says so explicitly ("awaits all
// InvAcks and the page-carrying PageData") — which this package implements
// with a small per-page exchange table tracking the outstanding
// acknowledgements.
//
// # What This Package Does Not Do
//
// It does not reserve or arm memory regions (internal/vm) or block an
// application thread (internal/traphandler) — Node.Fault is a blocking
// call from the trap handler's point of view, but its own work is
// message-passing, internal/pagetable bookkeeping, and installing page
// contents and protection through each page's bound Installer
// (Populate/SetAccess).
package protocol
