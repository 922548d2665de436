package pcid

import (
	"errors"
	"testing"
)

func TestLowestFreeAllocation(t *testing.T) {
	r := NewRegistry(16)

	for want := int32(0); want < 4; want++ {
		got, err := r.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Alloc() = %d, want %d", got, want)
		}
	}

	// Free a middle identifier; it must be the next one handed out.
	if err := r.Release(1); err != nil {
		t.Fatal(err)
	}
	got, err := r.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("Alloc() after Release(1) = %d, want lowest free 1", got)
	}
}

func TestExhaustionAtCeiling(t *testing.T) {
	r := NewRegistry(Ceiling)

	for i := int32(0); i < Ceiling; i++ {
		if _, err := r.Alloc(); err != nil {
			t.Fatalf("Alloc %d failed below ceiling: %v", i, err)
		}
	}
	if r.Live() != Ceiling {
		t.Fatalf("Live() = %d, want %d", r.Live(), Ceiling)
	}

	// The 4097th creation is refused.
	if _, err := r.Alloc(); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted at ceiling, got %v", err)
	}

	// Reclaim one; the next allocation reuses exactly that identifier.
	if err := r.Release(1234); err != nil {
		t.Fatal(err)
	}
	got, err := r.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if got != 1234 {
		t.Errorf("Alloc() after reclamation = %d, want 1234", got)
	}
}

func TestNoDuplicateAssignment(t *testing.T) {
	r := NewRegistry(64)
	seen := make(map[int32]bool)

	for i := 0; i < 64; i++ {
		id, err := r.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("identifier %d assigned twice while live", id)
		}
		seen[id] = true
	}
}

func TestReleaseValidation(t *testing.T) {
	r := NewRegistry(8)

	tests := []struct {
		name string
		id   int32
	}{
		{name: "never allocated", id: 3},
		{name: "negative", id: -1},
		{name: "beyond ceiling", id: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Release(tt.id); !errors.Is(err, ErrNotAllocated) {
				t.Errorf("Release(%d) = %v, want ErrNotAllocated", tt.id, err)
			}
		})
	}

	// Double release is also refused.
	id, _ := r.Alloc()
	if err := r.Release(id); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(id); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("double Release(%d) = %v, want ErrNotAllocated", id, err)
	}
}
