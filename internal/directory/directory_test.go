package directory

import (
	"testing"
	"time"

	"github.com/dreamware/torua-dsm/internal/transport"
)

func TestEntryStartsUncached(t *testing.T) {
	d := New()
	e := d.Get(3)
	state, owner, sharers, wait := e.Snapshot()
	if state != Uncached {
		t.Errorf("state = %v, want Uncached", state)
	}
	if owner != 0 {
		t.Errorf("owner = %v, want zero value", owner)
	}
	if len(sharers) != 0 {
		t.Errorf("sharers = %v, want empty", sharers)
	}
	if wait != nil {
		t.Error("wait should be nil with nothing in flight")
	}
}

func TestBeginOpResolveGrantsModified(t *testing.T) {
	d := New()
	e := d.Get(0)

	joined, wait := e.BeginOp()
	if joined {
		t.Fatal("first BeginOp should not join")
	}

	e.Resolve(Modified, transport.NodeID(5), nil)

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("wait channel should close after Resolve")
	}

	state, owner, sharers, _ := e.Snapshot()
	if state != Modified {
		t.Errorf("state = %v, want Modified", state)
	}
	if owner != 5 {
		t.Errorf("owner = %v, want 5", owner)
	}
	if len(sharers) != 0 {
		t.Errorf("sharers = %v, want empty for Modified", sharers)
	}
}

func TestConcurrentBeginOpJoinsInFlightExchange(t *testing.T) {
	d := New()
	e := d.Get(0)

	joined1, wait1 := e.BeginOp()
	if joined1 {
		t.Fatal("first caller owns the op")
	}
	joined2, wait2 := e.BeginOp()
	if !joined2 {
		t.Fatal("second caller should join")
	}
	if wait1 != wait2 {
		t.Error("joined caller should see the same wait channel")
	}

	e.Resolve(Shared, 0, []transport.NodeID{1, 2})
	<-wait1
	<-wait2

	state, _, sharers, _ := e.Snapshot()
	if state != Shared || len(sharers) != 2 {
		t.Errorf("state=%v sharers=%v, want Shared with 2 sharers", state, sharers)
	}
}

func TestAddSharerWithoutFullOp(t *testing.T) {
	d := New()
	e := d.Get(0)
	e.Resolve(Shared, 0, []transport.NodeID{1})
	e.AddSharer(2)

	_, _, sharers, _ := e.Snapshot()
	if len(sharers) != 2 {
		t.Errorf("sharers = %v, want 2 entries", sharers)
	}
}

func TestAbortClearsPendingWithoutChangingState(t *testing.T) {
	d := New()
	e := d.Get(0)
	_, wait := e.BeginOp()
	e.Abort()

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("wait channel should close after Abort")
	}

	state, _, _, w := e.Snapshot()
	if state != Uncached {
		t.Errorf("state = %v, want unchanged Uncached", state)
	}
	if w != nil {
		t.Error("no operation should be pending after Abort")
	}
}

func TestRemoveSharerWithoutFullOp(t *testing.T) {
	d := New()
	e := d.Get(0)
	e.Resolve(Shared, 0, []transport.NodeID{1, 2})
	e.RemoveSharer(1)

	state, _, sharers, _ := e.Snapshot()
	if state != Shared {
		t.Errorf("state = %v, want unchanged Shared", state)
	}
	if len(sharers) != 1 || sharers[0] != 2 {
		t.Errorf("sharers = %v, want only node 2 left", sharers)
	}
}

func TestForceUncachedDiscardsOwnerAndWakesWaiters(t *testing.T) {
	d := New()
	e := d.Get(0)
	e.Resolve(Modified, transport.NodeID(4), nil)

	_, wait := e.BeginOp()
	e.ForceUncached()

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("wait channel should close after ForceUncached")
	}

	state, owner, sharers, w := e.Snapshot()
	if state != Uncached {
		t.Errorf("state = %v, want Uncached", state)
	}
	if owner != 0 {
		t.Errorf("owner = %v, want reset to zero value", owner)
	}
	if len(sharers) != 0 {
		t.Errorf("sharers = %v, want empty", sharers)
	}
	if w != nil {
		t.Error("no operation should be pending after ForceUncached")
	}
}

func TestDirectoryGetIsIdempotent(t *testing.T) {
	d := New()
	e1 := d.Get(9)
	e2 := d.Get(9)
	if e1 != e2 {
		t.Error("Get should return the same *Entry for repeated calls on the same index")
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

func TestDirectoryDrop(t *testing.T) {
	d := New()
	d.Get(1)
	d.Get(2)
	d.Drop(1)
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after Drop", d.Len())
	}
}

func TestPagesOwnedByFindsModifiedAndSharedOwners(t *testing.T) {
	d := New()
	d.Get(0).Resolve(Modified, transport.NodeID(1), nil)
	d.Get(1).Resolve(Shared, 0, []transport.NodeID{1, 2})
	d.Get(2).Resolve(Shared, 0, []transport.NodeID{2})

	pages := d.PagesOwnedBy(1)
	if len(pages) != 2 {
		t.Fatalf("PagesOwnedBy(1) = %v, want 2 pages", pages)
	}
}
