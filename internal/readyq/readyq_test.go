package readyq

import (
	"testing"

	"kernsched/internal/tcb"
)

func id(n uint16) tcb.ThreadID {
	return tcb.ThreadID{Index: n, Gen: 1}
}

func TestPriorityOrder(t *testing.T) {
	q := New(id(99))

	q.Push(id(1), 5)
	q.Push(id(2), 1)
	q.Push(id(3), 3)

	got, fromQueue := q.Elect()
	if !fromQueue || got != id(2) {
		t.Fatalf("Elect() = %v, want the priority-1 thread", got)
	}
	got, _ = q.Elect()
	if got != id(3) {
		t.Fatalf("second Elect() = %v, want the priority-3 thread", got)
	}
	got, _ = q.Elect()
	if got != id(1) {
		t.Fatalf("third Elect() = %v, want the priority-5 thread", got)
	}
}

func TestFIFOWithinBucket(t *testing.T) {
	q := New(id(99))

	for n := uint16(1); n <= 4; n++ {
		q.Push(id(n), 2)
	}
	for n := uint16(1); n <= 4; n++ {
		got, _ := q.Elect()
		if got != id(n) {
			t.Fatalf("election order broke FIFO: got %v, want %v", got, id(n))
		}
	}
}

func TestIdleFallback(t *testing.T) {
	q := New(id(7))

	got, fromQueue := q.Elect()
	if fromQueue {
		t.Fatal("empty queue claimed a queued election")
	}
	if got != id(7) {
		t.Fatalf("empty queue elected %v, want idle %v", got, id(7))
	}
}

func TestRequeueAfterQuantum(t *testing.T) {
	// Queue holds {A: priority 5, B: priority 1}; B wins, and after its
	// quantum it re-enqueues at the priority-1 tail and wins again as the
	// only priority-1 thread.
	q := New(id(99))
	q.Push(id(1), 5) // A
	q.Push(id(2), 1) // B

	got, _ := q.Elect()
	if got != id(2) {
		t.Fatalf("Elect() = %v, want B", got)
	}

	q.Push(id(2), 1)
	got, _ = q.Elect()
	if got != id(2) {
		t.Fatalf("re-election = %v, want B while it is the only priority-1 thread", got)
	}

	// With B gone, A is next.
	got, _ = q.Elect()
	if got != id(1) {
		t.Fatalf("election after B left = %v, want A", got)
	}
}

func TestAgingBoundsStarvation(t *testing.T) {
	q := New(id(99))
	q.Push(id(1), IdlePriority) // lowest-priority victim

	// A sustained stream of priority-0 arrivals. The victim must win within
	// Levels-1 aging passes.
	won := false
	for round := 0; round < Levels; round++ {
		q.Push(id(100+uint16(round)), 0)
		got, _ := q.Elect()
		if got == id(1) {
			won = true
			break
		}
		q.AgePass()
	}
	if !won {
		t.Fatal("lowest-priority thread starved past the aging bound")
	}
}

func TestAgingResetOnRun(t *testing.T) {
	q := New(id(99))
	q.Push(id(1), 6)

	// Age the thread to the top bucket.
	for i := 0; i < 6; i++ {
		q.AgePass()
	}
	if q.TopPriority() != 0 {
		t.Fatalf("TopPriority() = %d after full aging, want 0", q.TopPriority())
	}

	got, _ := q.Elect()
	if got != id(1) {
		t.Fatal("aged thread not elected")
	}

	// Re-enqueued after running: the boost must be gone.
	q.Push(id(1), 6)
	if q.TopPriority() != 6 {
		t.Errorf("TopPriority() = %d after reset, want base 6", q.TopPriority())
	}
}

func TestRemoveAndContains(t *testing.T) {
	q := New(id(99))
	q.Push(id(1), 2)
	q.Push(id(2), 2)

	if !q.Contains(id(1)) {
		t.Fatal("queued thread not found")
	}
	if !q.Remove(id(1)) {
		t.Fatal("Remove() of queued thread failed")
	}
	if q.Contains(id(1)) {
		t.Fatal("removed thread still present")
	}
	if q.Remove(id(1)) {
		t.Fatal("Remove() of absent thread succeeded")
	}
	if q.Depth() != 1 {
		t.Errorf("Depth() = %d, want 1", q.Depth())
	}
}

func TestTakeTailPrefersLeastUrgent(t *testing.T) {
	q := New(id(99))
	q.Push(id(1), 0)
	q.Push(id(2), 4)
	q.Push(id(3), 4)

	got, base, eff, ok := q.TakeTail()
	if !ok {
		t.Fatal("TakeTail() found nothing")
	}
	if got != id(3) || base != 4 || eff != 4 {
		t.Errorf("TakeTail() = (%v, %d, %d), want newest priority-4 thread", got, base, eff)
	}

	// Migration preserves earned aging on the destination.
	dst := New(id(98))
	dst.PushAged(got, base, 2)
	if dst.TopPriority() != 2 {
		t.Errorf("migrated thread lost its aged priority: TopPriority() = %d, want 2", dst.TopPriority())
	}
}
