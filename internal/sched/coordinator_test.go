package sched

import (
	"testing"

	"kernsched/internal/tcb"
)

func TestMigrationMovesThreadToShallowQueue(t *testing.T) {
	s := newScheduler(t, 2)
	pid := mustProcess(t, s, "app")
	for i := 0; i < 8; i++ {
		mustThread(t, s, pid, "worker", 0x1000, 3)
	}

	// Drain core 1: request termination of everything placed there, then let
	// its elections retire them.
	for _, info := range s.Threads() {
		if info.Core == 1 && !s.IsIdle(info.ID) {
			if err := s.TerminateThread(info.ID); err != nil {
				t.Fatalf("TerminateThread() failed: %v", err)
			}
		}
	}
	for i := 0; i < 6; i++ {
		s.OnTick(1)
	}
	if d := s.cores[1].runq.Depth(); d != 0 {
		t.Fatalf("core 1 queue depth = %d after draining, want 0", d)
	}
	srcDepth := s.cores[0].runq.Depth()
	if srcDepth < 2 {
		t.Fatalf("core 0 queue depth = %d, imbalance not established", srcDepth)
	}

	if moved := s.Rebalance(); moved != 1 {
		t.Fatalf("Rebalance() = %d, want 1 migration", moved)
	}

	var migrated tcb.ThreadID
	for _, info := range s.Threads() {
		if info.Core == 1 && info.State == tcb.StateReady && !s.IsIdle(info.ID) {
			migrated = info.ID
		}
	}
	if !migrated.Valid() {
		t.Fatal("no thread reports core 1 after migration")
	}
	if s.cores[0].runq.Contains(migrated) {
		t.Error("migrated thread still present in the source queue")
	}
	if !s.cores[1].runq.Contains(migrated) {
		t.Error("migrated thread missing from the destination queue")
	}
	if got := s.cores[0].runq.Depth(); got != srcDepth-1 {
		t.Errorf("source depth = %d after migration, want %d", got, srcDepth-1)
	}
	if got := s.Snapshot().Migrations; got != 1 {
		t.Errorf("migration counter = %d, want 1", got)
	}
}

func TestRebalanceLeavesBalancedQueuesAlone(t *testing.T) {
	s := newScheduler(t, 2)
	pid := mustProcess(t, s, "app")
	mustThread(t, s, pid, "a", 0x1000, 3)
	mustThread(t, s, pid, "b", 0x2000, 3)

	if moved := s.Rebalance(); moved != 0 {
		t.Errorf("Rebalance() = %d on balanced queues, want 0", moved)
	}

	single := newScheduler(t, 1)
	if moved := single.Rebalance(); moved != 0 {
		t.Errorf("Rebalance() = %d on one core, want 0", moved)
	}
}

func TestForceRescheduleActsAtNextTick(t *testing.T) {
	s := newScheduler(t, 1)
	pid := mustProcess(t, s, "app")
	a := mustThread(t, s, pid, "a", 0x1000, 5)
	b := mustThread(t, s, pid, "b", 0x2000, 5)

	s.OnTick(0)
	if got := s.CurrentThread(0); got != a {
		t.Fatalf("CurrentThread(0) = %v, want a", got)
	}

	s.ForceReschedule(0)
	s.OnTick(0)
	if got := s.CurrentThread(0); got != b {
		t.Fatalf("CurrentThread(0) = %v after forced reschedule, want b", got)
	}
	if got := s.Snapshot().Cores[0].Preemptions; got != 0 {
		t.Errorf("preemptions = %d, want 0 for a forced, non-expiry dispatch", got)
	}
}

func TestWakePlacementPrefersLeastLoadedCore(t *testing.T) {
	s := newScheduler(t, 2)
	pid := mustProcess(t, s, "app")

	// Placement alternates cores: a and c land on core 0, b and d on core 1.
	a := mustThread(t, s, pid, "a", 0x1000, 3)
	b := mustThread(t, s, pid, "b", 0x2000, 3)
	c := mustThread(t, s, pid, "c", 0x3000, 3)
	mustThread(t, s, pid, "d", 0x4000, 3)

	// Quiet core 0 entirely.
	for _, id := range []tcb.ThreadID{a, c} {
		if err := s.TerminateThread(id); err != nil {
			t.Fatalf("TerminateThread() failed: %v", err)
		}
	}
	s.OnTick(0)
	s.ReapZombies()
	if got := s.cores[0].loadProbe(); got != 0 {
		t.Fatalf("core 0 load = %d after draining, want 0", got)
	}

	// Block b on core 1, leaving d running there.
	s.OnTick(1)
	if got := s.CurrentThread(1); got != b {
		t.Fatalf("CurrentThread(1) = %v, want b", got)
	}
	s.Block(1)

	// Core 0 (load 0) beats core 1 (load 1) for the wake placement.
	if err := s.Wake(b); err != nil {
		t.Fatalf("Wake() failed: %v", err)
	}
	if woken := threadInfo(t, s, b); woken.Core != 0 {
		t.Errorf("woken thread placed on core %d, want the unloaded core 0", woken.Core)
	}
}

func threadInfo(t *testing.T, s *Scheduler, id tcb.ThreadID) ThreadInfo {
	t.Helper()
	for _, info := range s.Threads() {
		if info.ID == id {
			return info
		}
	}
	t.Fatalf("thread %v missing from inventory", id)
	return ThreadInfo{}
}

func (c *core) loadProbe() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}
