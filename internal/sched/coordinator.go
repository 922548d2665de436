package sched

// The cross-core coordinator: load probing, thread migration between cores
// and forced-reschedule signaling. Migration is the one path that mutates
// two ready queues at once; it holds both core locks, taken in ascending
// index order, so removal and insertion are one atomic step to every
// observer.

// outrankedLocked reports whether a newly READY thread at the given priority
// should displace what this core is running. The running thread is compared
// by base priority: its aging boost was reset when it was elected, so base
// is its effective level while it runs. The idle thread loses to everything.
func (c *core) outrankedLocked(priority uint8) bool {
	if c.current == c.idle {
		return true
	}
	return priority < c.current.BasePriority
}

// leastLoadedCore picks the placement target for a thread entering READY.
func (s *Scheduler) leastLoadedCore() *core {
	best := s.cores[0]
	bestLoad := -1
	for _, c := range s.cores {
		c.mu.Lock()
		load := c.loadLocked()
		c.mu.Unlock()
		if bestLoad < 0 || load < bestLoad {
			best = c
			bestLoad = load
		}
	}
	return best
}

// ForceReschedule raises a core's reschedule mailbox; the dispatcher acts on
// it at its next safe point.
func (s *Scheduler) ForceReschedule(coreID int) {
	s.coreAt(coreID).resched.Store(true)
}

// Rebalance compares ready-queue depths across cores and migrates one READY
// thread from the deepest queue to the shallowest, preserving its earned
// aging boost on the destination. Returns 1 when a thread moved, 0 when the
// queues were already balanced.
func (s *Scheduler) Rebalance() int {
	if len(s.cores) < 2 {
		return 0
	}

	var src, dst *core
	srcDepth, dstDepth := -1, -1
	for _, c := range s.cores {
		c.mu.Lock()
		d := c.runq.Depth()
		c.mu.Unlock()
		if srcDepth < 0 || d > srcDepth {
			src, srcDepth = c, d
		}
		if dstDepth < 0 || d < dstDepth {
			dst, dstDepth = c, d
		}
	}
	if src == dst || srcDepth-dstDepth < 2 {
		return 0
	}

	lockPair(src, dst)
	id, base, eff, ok := src.runq.TakeTail()
	if !ok {
		unlockPair(src, dst)
		return 0
	}
	t := s.mustThread(id)
	t.CoreHint.Store(int32(dst.id))
	t.QueuedAt = dst.tick
	dst.runq.PushAged(id, base, eff)
	outranked := dst.outrankedLocked(eff)
	unlockPair(src, dst)

	s.statMu.Lock()
	s.migrations++
	s.statMu.Unlock()

	if outranked {
		dst.resched.Store(true)
	}

	s.logger.Debug().
		Uint16("tid", id.Index).
		Int("from", src.id).
		Int("to", dst.id).
		Int("effective_priority", int(eff)).
		Msg("Thread migrated")
	return 1
}
