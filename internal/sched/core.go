package sched

import (
	"sync"
	"sync/atomic"

	"kernsched/internal/cpuctx"
	"kernsched/internal/readyq"
	"kernsched/internal/tcb"
)

// core is one dispatcher: the decision loop state for a single physical core.
// Everything behind mu is owned by this core; other cores reach in only
// through the short cross-core paths (wake placement, migration, probes).
type core struct {
	id    int
	sched *Scheduler

	mu          sync.Mutex
	current     *tcb.TCB
	idle        *tcb.TCB
	runq        *readyq.Queue
	quantum     uint32
	quantumLeft uint32

	// machine is the register state currently live on this core. Restores
	// load into it, saves capture from it.
	machine cpuctx.Context

	// tick is the core-local clock; there is no global tick coordinator.
	tick uint64

	// sleepers holds threads waiting for a wakeup tick on this core.
	sleepers []*tcb.TCB

	// resched is the inter-processor mailbox: a remote core raises it to
	// force a dispatch decision at this core's next safe point.
	resched atomic.Bool

	ctxSwitches uint64
	preemptions uint64
	syscalls    uint64

	// CPU load over a sliding tick window, derived from idle ticks.
	windowTicks uint32
	windowIdle  uint32
	loadPercent uint32
}

// onTick is the timer entry point for this core. Safe points for the
// reschedule mailbox and the pending-termination flag are here, at the
// quantum boundary.
func (c *core) onTick() {
	var finished []*tcb.TCB

	c.mu.Lock()
	c.tick++
	woke := c.releaseSleepersLocked()

	cur := c.current
	cur.RunTicks++
	c.accountLoadLocked(cur == c.idle)

	if c.quantumLeft > 0 {
		c.quantumLeft--
	}
	expired := c.quantumLeft == 0
	forced := c.resched.Swap(false) || woke

	if cur.PreemptDisabled && cur != c.idle {
		// Quantum expiry is deferred; keep the mailbox raised so the
		// decision happens as soon as preemption is re-enabled.
		if forced {
			c.resched.Store(true)
		}
		c.mu.Unlock()
		return
	}

	if expired || forced || cur.PendingTerm {
		if expired {
			c.preemptions++
		}
		finished = c.preemptLocked()
	}
	c.mu.Unlock()

	for _, t := range finished {
		c.sched.finishThread(t)
	}
}

// releaseSleepersLocked moves due sleepers back into the ready queue and
// reports whether any of them outranks the running thread.
func (c *core) releaseSleepersLocked() bool {
	outranked := false
	kept := c.sleepers[:0]
	for _, t := range c.sleepers {
		if t.WakeupTick > c.tick {
			kept = append(kept, t)
			continue
		}
		t.WakeupTick = 0
		t.State = tcb.StateReady
		t.QueuedAt = c.tick
		c.runq.Push(t.ID(), t.BasePriority)
		outranked = outranked || c.outrankedLocked(t.BasePriority)
	}
	c.sleepers = kept
	return outranked
}

// removeSleeperLocked drops a thread from the sleep list, for forced wakes.
func (c *core) removeSleeperLocked(t *tcb.TCB) {
	for i, st := range c.sleepers {
		if st == t {
			c.sleepers = append(c.sleepers[:i], c.sleepers[i+1:]...)
			return
		}
	}
}

func (c *core) accountLoadLocked(idleTick bool) {
	c.windowTicks++
	if idleTick {
		c.windowIdle++
	}
	if c.windowTicks >= c.sched.cfg.LoadWindow {
		c.loadPercent = (c.windowTicks - c.windowIdle) * 100 / c.windowTicks
		c.windowTicks = 0
		c.windowIdle = 0
	}
}

// loadLocked is the placement heuristic: queued threads plus one if a
// non-idle thread is running.
func (c *core) loadLocked() int {
	load := c.runq.Depth()
	if c.current != c.idle {
		load++
	}
	return load
}

// preemptLocked is the quantum-boundary transition: the running thread's
// context is captured, the thread re-enters its base priority bucket (aging
// boost reset) or retires if termination is pending, and the next election
// winner is restored. Returns threads that reached ZOMBIE and need
// finishing outside the core lock.
func (c *core) preemptLocked() []*tcb.TCB {
	c.runq.AgePass()

	cur := c.current
	cur.Ctx.Save(c.machine)

	var finished []*tcb.TCB
	if cur.PendingTerm && cur != c.idle {
		c.retireLocked(cur, true, 0)
		finished = append(finished, cur)
	} else {
		cur.State = tcb.StateReady
		if cur != c.idle {
			cur.QueuedAt = c.tick
			c.runq.Push(cur.ID(), cur.BasePriority)
		}
	}
	return append(finished, c.dispatchLocked()...)
}

// dispatchLocked elects and restores the next thread. The current thread's
// context must already be saved. Electees carrying the pending-termination
// flag retire without running. Never blocks, never fails: the idle thread
// backstops an empty queue.
func (c *core) dispatchLocked() []*tcb.TCB {
	var finished []*tcb.TCB
	prev := c.current
	for {
		id, fromQueue := c.runq.Elect()
		var next *tcb.TCB
		if fromQueue {
			next = c.sched.mustThread(id)
			if next.PendingTerm {
				c.retireLocked(next, true, 0)
				finished = append(finished, next)
				continue
			}
			if next.QueuedAt <= c.tick {
				next.WaitTicks += c.tick - next.QueuedAt
			}
		} else {
			next = c.idle
		}

		next.State = tcb.StateRunning
		next.CoreHint.Store(int32(c.id))
		c.machine = next.Ctx.Restore()
		c.current = next
		c.quantumLeft = c.quantum
		if next != prev {
			c.ctxSwitches++
		}
		return finished
	}
}

// retireLocked moves a thread to ZOMBIE. Reclamation happens later, off this
// core, once a joiner or the reaper collects it.
func (c *core) retireLocked(t *tcb.TCB, killed bool, code int32) {
	t.State = tcb.StateZombie
	t.ExitKilled = killed
	t.ExitCode = code
	t.PreemptDisabled = false
}
