package tcb

import (
	"errors"
	"testing"
)

func TestAllocUntilExhausted(t *testing.T) {
	s := NewStore(3, 4096)

	var threads []*TCB
	for i := 0; i < 3; i++ {
		th, err := s.Alloc("worker", 1, 4)
		if err != nil {
			t.Fatalf("Alloc %d failed: %v", i, err)
		}
		threads = append(threads, th)
	}

	if _, err := s.Alloc("overflow", 1, 4); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}

	// Reclaim one and the next allocation succeeds again.
	threads[0].State = StateZombie
	s.Free(threads[0])
	if _, err := s.Alloc("again", 1, 4); err != nil {
		t.Fatalf("Alloc after reclamation failed: %v", err)
	}
}

func TestStaleHandleLookup(t *testing.T) {
	s := NewStore(2, 4096)

	th, err := s.Alloc("short-lived", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	id := th.ID()

	if got, err := s.Lookup(id); err != nil || got != th {
		t.Fatalf("live lookup failed: %v", err)
	}

	th.State = StateZombie
	s.Free(th)

	if _, err := s.Lookup(id); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("stale handle lookup: got %v, want ErrInvalidHandle", err)
	}

	// The slot may be reused with a new generation; the old handle must
	// still fail.
	reused, err := s.Alloc("reuser", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if reused.ID().Index == id.Index && reused.ID().Gen == id.Gen {
		t.Fatal("reused slot kept its old generation")
	}
	if _, err := s.Lookup(id); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("stale handle resolved after slot reuse: %v", err)
	}
}

func TestLookupRejectsNonsense(t *testing.T) {
	s := NewStore(1, 4096)

	tests := []struct {
		name string
		id   ThreadID
	}{
		{name: "nil handle", id: Nil},
		{name: "out of range index", id: ThreadID{Index: 42, Gen: 1}},
		{name: "unallocated slot", id: ThreadID{Index: 0, Gen: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Lookup(tt.id); !errors.Is(err, ErrInvalidHandle) {
				t.Errorf("Lookup(%+v) = %v, want ErrInvalidHandle", tt.id, err)
			}
		})
	}
}

func TestStackRegionsAreDisjoint(t *testing.T) {
	s := NewStore(4, 1024)

	a, _ := s.Alloc("a", 1, 0)
	b, _ := s.Alloc("b", 1, 0)

	if a.StackTop-a.StackLow != 1024 || b.StackTop-b.StackLow != 1024 {
		t.Errorf("stack regions have wrong size: a=%d b=%d",
			a.StackTop-a.StackLow, b.StackTop-b.StackLow)
	}
	if a.StackLow < b.StackTop && b.StackLow < a.StackTop {
		t.Errorf("stack regions overlap: a=[%d,%d) b=[%d,%d)",
			a.StackLow, a.StackTop, b.StackLow, b.StackTop)
	}
	if len(s.Stack(a)) != 1024 {
		t.Errorf("Stack(a) length = %d, want 1024", len(s.Stack(a)))
	}
}

func TestNameTruncation(t *testing.T) {
	s := NewStore(1, 512)
	long := "this-name-is-far-longer-than-the-thirty-two-byte-limit"
	th, err := s.Alloc(long, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Name) != NameMax {
		t.Errorf("name length = %d, want %d", len(th.Name), NameMax)
	}
}
