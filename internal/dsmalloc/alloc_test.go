package dsmalloc

import "testing"

func TestAllocBumpsPointer(t *testing.T) {
	a := New(4096)

	first, err := a.Alloc(4096 * 3)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if first.Base != 1 || first.NumPages != 3 {
		t.Fatalf("got %+v, want base=1 numPages=3", first)
	}

	second, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if second.Base != 4 || second.NumPages != 1 {
		t.Fatalf("got %+v, want base=4 numPages=1", second)
	}
}

func TestFreeThenAllocReusesRange(t *testing.T) {
	a := New(4096)

	first, err := a.Alloc(4096 * 4)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Free(first.Base); err != nil {
		t.Fatalf("Free: %v", err)
	}

	second, err := a.Alloc(4096 * 2)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if second.Base != first.Base {
		t.Fatalf("expected reuse of freed range at base %d, got %d", first.Base, second.Base)
	}

	// The freed range was larger than this allocation, so bestFit should
	// have split it, leaving the remainder available.
	third, err := a.Alloc(4096 * 2)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if third.Base != first.Base+2 {
		t.Fatalf("expected split remainder at base %d, got %d", first.Base+2, third.Base)
	}
}

func TestFreeUnknownBaseIsAllocError(t *testing.T) {
	a := New(4096)
	if err := a.Free(99); err == nil {
		t.Fatal("expected error freeing a base that was never allocated")
	}
}

func TestDoubleFreeIsAllocError(t *testing.T) {
	a := New(4096)
	alloc, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Free(alloc.Base); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := a.Free(alloc.Base); err == nil {
		t.Fatal("expected error on double free")
	}
}

func TestSetPageIgnoresNilPayload(t *testing.T) {
	a := New(4096)
	a.SetPage(1, []byte("hello"))
	a.SetPage(1, nil)
	if got := a.Page(1); string(got) != "hello" {
		t.Fatalf("SetPage(nil) must not evict existing cache, got %q", got)
	}
}

func TestZeroPageIsFreshEachTime(t *testing.T) {
	a := New(16)
	p := a.ZeroPage(5)
	if len(p) != 16 {
		t.Fatalf("expected 16-byte zero page, got %d bytes", len(p))
	}
	p[0] = 0xff
	p2 := a.ZeroPage(5)
	if p2[0] != 0 {
		t.Fatal("ZeroPage must return a fresh buffer, not a shared one")
	}
}

func TestFreedPageBytesAreDropped(t *testing.T) {
	a := New(4096)
	alloc, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	a.SetPage(alloc.Base, []byte("stale"))
	if err := a.Free(alloc.Base); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if got := a.Page(alloc.Base); got != nil {
		t.Fatalf("expected freed page bytes to be dropped, got %q", got)
	}
}
