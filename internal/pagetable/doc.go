// Package pagetable implements the per-node record of coherence state for
// every page of every DSM allocation this node has touched, providing the
// data structure internal/traphandler and internal/protocol operate on to
// decide whether an access can proceed locally or must trigger a protocol
// exchange with the page's home manager.
//
// # Overview
//
// Every DSM page lives in exactly one of three local states on a given
// node: Invalid (this node holds no copy), Shared (a read-only copy,
// possibly alongside other sharers), or Modified (the sole writable copy).
// A page additionally carries a TransitKind while a protocol exchange for
// it is outstanding; during that window the page is neither reliably
// Invalid, Shared, nor Modified from the requester's point of view, so
// faulting threads must wait rather than race the exchange.
//
// # State Machine
//
//	Invalid --[read fault, fetch granted Shared]--> Shared
//	Invalid --[write fault, fetch granted Modified]--> Modified
//	Shared  --[write fault, upgrade granted]--> Modified
//	Shared  --[Invalidate from manager]--> Invalid
//	Modified --[Forward to new owner]--> Invalid
//	Modified --[manager grants a sharer a copy]--> Shared
//
// # Concurrency Model
//
// A Table's map is guarded by a single RWMutex, held only long enough to
// look up or insert a *Page — never while blocked on that page's state.
// Each Page then has its own internal lock and wait channel, so faults on
// two different pages never contend with each other, and a fault on a page
// that is already InTransit joins the existing wait instead of racing a
// second protocol exchange for the same page.
//
// # Relationship to Other Packages
//
// internal/traphandler owns the per-page singleflight.Group that prevents
// two local threads from even reaching BeginTransit concurrently for the
// same page; pagetable's own InTransit bookkeeping is a second, narrower
// line of defense and the mechanism by which a late-arriving thread
// discovers there is already a wait to join. internal/directory is the
// same idea applied manager-side, at cluster scope instead of per-node.
package pagetable
