package sched

import (
	"kernsched/internal/cpuctx"
	"kernsched/internal/kpanic"
	"kernsched/internal/readyq"
	"kernsched/internal/tcb"
)

func cpuInitial(t *tcb.TCB) cpuctx.Context {
	return cpuctx.NewInitial(t.Entry, t.StackTop)
}

// ExitStatus is a terminated thread's outcome, visible to its joiner.
type ExitStatus struct {
	Code   int32
	Killed bool
}

// CreateThread allocates a thread in the given process, prepares its initial
// context so that a restore begins executing at entry, and enqueues it READY
// on the least-loaded core. Fails with ErrResourceExhausted when the pool is
// full and ErrInvalidProcess when the process cannot accept threads.
func (s *Scheduler) CreateThread(pid int32, name string, entry uint32, priority uint8) (tcb.ThreadID, error) {
	if priority >= readyq.Levels {
		return tcb.Nil, ErrInvalidPriority
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()

	p, ok := s.procs[pid]
	if !ok || p.state != ProcActive {
		return tcb.Nil, ErrInvalidProcess
	}

	t, err := s.store.Alloc(name, pid, priority)
	if err != nil {
		return tcb.Nil, ErrResourceExhausted
	}
	t.Entry = entry
	t.Ctx.Reset(cpuInitial(t))

	dst := s.leastLoadedCore()
	dst.mu.Lock()
	t.State = tcb.StateReady
	t.CoreHint.Store(int32(dst.id))
	t.QueuedAt = dst.tick
	dst.runq.Push(t.ID(), priority)
	outranked := dst.outrankedLocked(priority)
	dst.mu.Unlock()

	p.threads = append(p.threads, t.ID())
	p.live++
	s.threads.Store(packID(t.ID()), t)

	if outranked {
		dst.resched.Store(true)
	}

	s.logger.Debug().
		Uint16("tid", t.ID().Index).
		Str("name", t.Name).
		Int32("pid", pid).
		Int("priority", int(priority)).
		Int("core", dst.id).
		Msg("Thread created")
	return t.ID(), nil
}

// TerminateThread requests cooperative termination. A RUNNING thread is not
// killed synchronously: it observes the flag at its next quantum boundary or
// syscall return. A BLOCKED thread is forcibly woken so it can observe the
// flag; a READY thread retires at its next election without running.
func (s *Scheduler) TerminateThread(id tcb.ThreadID) error {
	t, err := s.store.Lookup(id)
	if err != nil {
		return err
	}
	if s.IsIdle(id) {
		return ErrIdleThread
	}

	owner := s.lockOwner(t)
	t.PendingTerm = true
	state := t.State
	running := owner.current == t
	owner.mu.Unlock()

	switch state {
	case tcb.StateBlocked:
		// Forced READY transition; the wake can race the thread's own exit,
		// in which case there is nothing left to do.
		if err := s.Wake(id); err != nil && err != ErrNotBlocked {
			return err
		}
	case tcb.StateRunning:
		if running {
			owner.resched.Store(true)
		}
	}

	s.logger.Debug().Uint16("tid", id.Index).Str("state", state.String()).Msg("Thread termination requested")
	return nil
}

// Exit retires the calling core's current thread with an exit code and
// dispatches the next one. The idle thread never exits.
func (s *Scheduler) Exit(coreID int, code int32) {
	c := s.coreAt(coreID)

	c.mu.Lock()
	cur := c.current
	if cur == c.idle {
		kpanic.Fail(kpanic.CodeIdleExit, "idle thread on core %d attempted to exit", c.id)
	}
	c.runq.AgePass()
	cur.Ctx.Save(c.machine)
	c.retireLocked(cur, false, code)
	finished := append([]*tcb.TCB{cur}, c.dispatchLocked()...)
	c.mu.Unlock()

	for _, t := range finished {
		s.finishThread(t)
	}
}

// Block suspends the calling core's current thread without re-enqueueing it;
// it re-enters READY only through an explicit Wake. Voluntary yield is the
// same transition.
func (s *Scheduler) Block(coreID int) {
	c := s.coreAt(coreID)

	c.mu.Lock()
	cur := c.current
	if cur == c.idle {
		kpanic.Fail(kpanic.CodeIdleExit, "idle thread on core %d attempted to block", c.id)
	}
	c.runq.AgePass()
	cur.Ctx.Save(c.machine)
	cur.State = tcb.StateBlocked
	finished := c.dispatchLocked()
	c.mu.Unlock()

	for _, t := range finished {
		s.finishThread(t)
	}
}

// Sleep blocks the calling core's current thread until the given number of
// ticks elapses on this core; the tick handler releases it.
func (s *Scheduler) Sleep(coreID int, ticks uint64) {
	c := s.coreAt(coreID)

	c.mu.Lock()
	cur := c.current
	if cur == c.idle {
		kpanic.Fail(kpanic.CodeIdleExit, "idle thread on core %d attempted to sleep", c.id)
	}
	c.runq.AgePass()
	cur.Ctx.Save(c.machine)
	cur.State = tcb.StateBlocked
	cur.WakeupTick = c.tick + ticks
	c.sleepers = append(c.sleepers, cur)
	finished := c.dispatchLocked()
	c.mu.Unlock()

	for _, t := range finished {
		s.finishThread(t)
	}
}

// Wake transitions a BLOCKED thread to READY on the least-loaded core and
// raises that core's reschedule mailbox if the thread outranks what it is
// running. Callable from any core or wake source.
func (s *Scheduler) Wake(id tcb.ThreadID) error {
	t, err := s.store.Lookup(id)
	if err != nil {
		return err
	}

	for {
		hint := t.CoreHint.Load()
		if hint < 0 {
			return ErrNotBlocked
		}
		src := s.coreAt(int(hint))
		dst := s.leastLoadedCore()
		lockPair(src, dst)
		if t.CoreHint.Load() != int32(src.id) {
			unlockPair(src, dst)
			continue
		}
		if t.State != tcb.StateBlocked {
			unlockPair(src, dst)
			return ErrNotBlocked
		}

		src.removeSleeperLocked(t)
		t.WakeupTick = 0
		t.State = tcb.StateReady
		t.CoreHint.Store(int32(dst.id))
		t.QueuedAt = dst.tick
		dst.runq.Push(t.ID(), t.BasePriority)
		outranked := dst.outrankedLocked(t.BasePriority)
		unlockPair(src, dst)

		if outranked {
			dst.resched.Store(true)
		}
		s.logger.Debug().Uint16("tid", id.Index).Int("core", dst.id).Msg("Thread woken")
		return nil
	}
}

// Join waits for a thread's termination. Joining a ZOMBIE reaps it and
// returns its exit status immediately. Otherwise the caller is recorded as
// the joiner and blocked; it is woken when the target retires and should
// reissue the join to collect the status. Idle threads and the caller itself
// are not joinable.
func (s *Scheduler) Join(coreID int, target tcb.ThreadID) (ExitStatus, error) {
	c := s.coreAt(coreID)

	t, err := s.store.Lookup(target)
	if err != nil {
		return ExitStatus{}, err
	}
	if s.IsIdle(target) {
		return ExitStatus{}, ErrNotJoinable
	}

	for {
		hint := t.CoreHint.Load()
		if hint < 0 {
			return ExitStatus{}, tcb.ErrInvalidHandle
		}
		owner := s.coreAt(int(hint))
		lockPair(c, owner)
		if t.CoreHint.Load() != int32(owner.id) {
			unlockPair(c, owner)
			continue
		}

		caller := c.current
		if caller == t {
			unlockPair(c, owner)
			return ExitStatus{}, ErrNotJoinable
		}
		if t.State == tcb.StateZombie {
			status := ExitStatus{Code: t.ExitCode, Killed: t.ExitKilled}
			unlockPair(c, owner)
			if z, ok := s.collectZombie(target); ok {
				s.reclaim(z)
			}
			return status, nil
		}
		if t.Joiner.Valid() && t.Joiner != caller.ID() {
			unlockPair(c, owner)
			return ExitStatus{}, ErrAlreadyJoined
		}
		if caller == c.idle {
			kpanic.Fail(kpanic.CodeIdleExit, "idle thread on core %d attempted to join", c.id)
		}

		t.Joiner = caller.ID()
		c.runq.AgePass()
		caller.Ctx.Save(c.machine)
		caller.State = tcb.StateBlocked
		finished := c.dispatchLocked()
		unlockPair(c, owner)

		for _, ft := range finished {
			s.finishThread(ft)
		}
		return ExitStatus{}, ErrJoinPending
	}
}

// SetPriority changes a thread's base priority, re-bucketing it if READY and
// forcing a reschedule on its core if it now outranks the running thread.
func (s *Scheduler) SetPriority(id tcb.ThreadID, priority uint8) error {
	if priority >= readyq.Levels {
		return ErrInvalidPriority
	}
	t, err := s.store.Lookup(id)
	if err != nil {
		return err
	}
	if s.IsIdle(id) {
		return ErrIdleThread
	}

	owner := s.lockOwner(t)
	t.BasePriority = priority
	outranked := false
	if t.State == tcb.StateReady {
		if !owner.runq.Remove(id) {
			kpanic.Fail(kpanic.CodeQueueCorruption, "ready thread %d missing from core %d queue", id.Index, owner.id)
		}
		owner.runq.Push(id, priority)
		outranked = owner.outrankedLocked(priority)
	}
	owner.mu.Unlock()

	if outranked {
		owner.resched.Store(true)
	}
	return nil
}

// DisablePreemption defers quantum expiry for the calling core's current
// thread until re-enabled. Forced reschedules are held back with it.
func (s *Scheduler) DisablePreemption(coreID int) {
	c := s.coreAt(coreID)
	c.mu.Lock()
	c.current.PreemptDisabled = true
	c.mu.Unlock()
}

// EnablePreemption lifts the deferral; an expired quantum takes effect at
// the next tick.
func (s *Scheduler) EnablePreemption(coreID int) {
	c := s.coreAt(coreID)
	c.mu.Lock()
	c.current.PreemptDisabled = false
	expired := c.quantumLeft == 0
	c.mu.Unlock()
	if expired {
		c.resched.Store(true)
	}
}

// Syscall raises a synchronous call on the calling core: the current
// thread's context is captured, the handler runs on the thread's kernel
// stack with the entry frame, and the caller's context is restored. The
// pending-termination flag is observed at syscall return. The handler may
// call back into the scheduler to create, wake or terminate threads, but
// must not suspend the calling thread.
func (s *Scheduler) Syscall(coreID int, handler cpuctx.Handler, params uintptr) {
	c := s.coreAt(coreID)

	c.mu.Lock()
	cur := c.current
	machine := c.machine
	c.mu.Unlock()

	restored := cpuctx.EnterSyscall(&cur.Ctx, machine, handler, params, cur.StackTop)

	var finished []*tcb.TCB
	c.mu.Lock()
	c.syscalls++
	c.machine = restored
	if cur.PendingTerm && cur != c.idle {
		c.runq.AgePass()
		cur.Ctx.Save(c.machine)
		c.retireLocked(cur, true, 0)
		finished = append([]*tcb.TCB{cur}, c.dispatchLocked()...)
	}
	c.mu.Unlock()

	for _, t := range finished {
		s.finishThread(t)
	}
}

// finishThread completes a ZOMBIE transition outside any core lock: the
// thread enters the zombie set and a registered joiner is woken.
func (s *Scheduler) finishThread(t *tcb.TCB) {
	id := t.ID()
	s.zombieMu.Lock()
	s.zombies[id] = t
	s.zombieMu.Unlock()

	if j := t.Joiner; j.Valid() {
		if err := s.Wake(j); err != nil {
			s.logger.Debug().Err(err).Uint16("tid", id.Index).Msg("Joiner wake skipped")
		}
	}
	s.logger.Debug().
		Uint16("tid", id.Index).
		Str("name", t.Name).
		Bool("killed", t.ExitKilled).
		Int32("code", t.ExitCode).
		Msg("Thread retired")
}

// collectZombie removes a zombie from the set, claiming the right to reclaim
// it.
func (s *Scheduler) collectZombie(id tcb.ThreadID) (*tcb.TCB, bool) {
	s.zombieMu.Lock()
	defer s.zombieMu.Unlock()
	t, ok := s.zombies[id]
	if ok {
		delete(s.zombies, id)
	}
	return t, ok
}

// reclaim releases a zombie's TCB slot and stack, drops it from the
// inventory and settles process accounting; the last reclaimed thread of a
// process releases its PCID.
func (s *Scheduler) reclaim(t *tcb.TCB) {
	id := t.ID()
	pid := t.PID
	s.threads.Delete(packID(id))
	s.store.Free(t)

	s.procMu.Lock()
	p := s.procs[pid]
	dead := false
	if p != nil {
		p.dropThread(id)
		if p.live == 0 && p.pid != KernelPID {
			p.state = ProcDead
			delete(s.procs, pid)
			dead = true
		}
	}
	s.procMu.Unlock()

	if dead {
		if err := s.pcids.Release(pid); err != nil {
			s.logger.Error().Err(err).Int32("pid", pid).Msg("PCID release failed")
		}
		s.logger.Debug().Int32("pid", pid).Str("name", p.name).Msg("Process reclaimed")
	}
}

// ReapZombies reclaims every joinerless zombie, returning how many were
// collected. Zombies with a registered joiner are left for the joiner.
func (s *Scheduler) ReapZombies() int {
	s.zombieMu.Lock()
	batch := make([]*tcb.TCB, 0, len(s.zombies))
	for id, t := range s.zombies {
		if !t.Joiner.Valid() {
			delete(s.zombies, id)
			batch = append(batch, t)
		}
	}
	s.zombieMu.Unlock()

	for _, t := range batch {
		s.reclaim(t)
	}
	return len(batch)
}
