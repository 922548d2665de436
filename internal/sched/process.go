package sched

import "kernsched/internal/tcb"

// ProcState is a process's aggregate lifecycle state.
type ProcState uint8

const (
	ProcActive ProcState = iota
	ProcTerminating
	ProcDead
)

func (s ProcState) String() string {
	switch s {
	case ProcActive:
		return "active"
	case ProcTerminating:
		return "terminating"
	case ProcDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Process is an isolated execution domain: a PCID, an address-space handle
// owned by the memory subsystem, and the threads running in it. Guarded by
// the scheduler's process lock.
type Process struct {
	pid       int32
	name      string
	addrSpace uintptr
	state     ProcState
	threads   []tcb.ThreadID
	live      int
}

func (p *Process) dropThread(id tcb.ThreadID) {
	for i, tid := range p.threads {
		if tid == id {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	p.live--
}

// CreateProcess registers a new process under the lowest free PCID. The
// address-space handle is opaque here: the memory subsystem owns it, the
// scheduler only carries the reference. Fails with ErrResourceExhausted when
// the PCID space is exhausted.
func (s *Scheduler) CreateProcess(name string, addrSpace uintptr) (int32, error) {
	pid, err := s.pcids.Alloc()
	if err != nil {
		return 0, ErrResourceExhausted
	}

	p := &Process{pid: pid, name: name, addrSpace: addrSpace, state: ProcActive}
	s.procMu.Lock()
	s.procs[pid] = p
	s.procMu.Unlock()

	s.logger.Debug().Int32("pid", pid).Str("name", name).Msg("Process created")
	return pid, nil
}

// TerminateProcess requests cooperative termination of every thread in the
// process and refuses further thread creation. The process reaches DEAD and
// releases its PCID once all its threads are reclaimed. The kernel process
// is protected.
func (s *Scheduler) TerminateProcess(pid int32) error {
	if pid == KernelPID {
		return ErrInvalidProcess
	}

	s.procMu.Lock()
	p, ok := s.procs[pid]
	if !ok || p.state == ProcDead {
		s.procMu.Unlock()
		return ErrInvalidProcess
	}
	p.state = ProcTerminating
	if p.live == 0 {
		// Nothing to wait for.
		p.state = ProcDead
		delete(s.procs, pid)
		s.procMu.Unlock()
		if err := s.pcids.Release(pid); err != nil {
			s.logger.Error().Err(err).Int32("pid", pid).Msg("PCID release failed")
		}
		s.logger.Debug().Int32("pid", pid).Str("name", p.name).Msg("Process reclaimed")
		return nil
	}
	ids := make([]tcb.ThreadID, len(p.threads))
	copy(ids, p.threads)
	s.procMu.Unlock()

	for _, id := range ids {
		// Threads reclaimed since the snapshot was taken are already gone.
		if err := s.TerminateThread(id); err != nil && err != tcb.ErrInvalidHandle {
			return err
		}
	}

	s.logger.Info().Int32("pid", pid).Str("name", p.name).Int("threads", len(ids)).Msg("Process termination requested")
	return nil
}

// ProcessInfo is a diagnostic snapshot of one live process.
type ProcessInfo struct {
	PID     int32
	Name    string
	State   ProcState
	Threads int
}

// Processes snapshots the live-process table, kernel process included.
func (s *Scheduler) Processes() []ProcessInfo {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	out := make([]ProcessInfo, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, ProcessInfo{PID: p.pid, Name: p.name, State: p.state, Threads: p.live})
	}
	return out
}
