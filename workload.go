package main

import (
	"fmt"

	"github.com/phuslu/log"

	"kernsched/internal/config"
	"kernsched/internal/cpuctx"
	"kernsched/internal/logger"
	"kernsched/internal/sched"
)

// Workload is the built-in synthetic load generator. It spawns a set of
// processes and threads at startup and then, from each core's driver
// goroutine, periodically makes the running thread issue a synchronous kernel
// call or go to sleep. This keeps every scheduler path exercised when the
// binary runs standalone: election, preemption, aging, sleep wakeups, the
// syscall transition and cross-core rebalancing.
type Workload struct {
	sched *sched.Scheduler
	cfg   config.WorkloadConfig
	log   log.Logger

	// Per-core tick counters, each touched only by its core's driver.
	ticks []uint64
}

// NewWorkload spawns the configured processes and threads and returns the
// per-tick driver hook.
func NewWorkload(s *sched.Scheduler, cfg config.WorkloadConfig) (*Workload, error) {
	w := &Workload{
		sched: s,
		cfg:   cfg,
		log:   logger.NewLoggerWithContext("workload"),
		ticks: make([]uint64, s.CoreCount()),
	}

	for p := 0; p < cfg.Processes; p++ {
		name := fmt.Sprintf("proc-%d", p)
		addrSpace := uintptr(0x1000_0000 * (p + 1))
		pid, err := s.CreateProcess(name, addrSpace)
		if err != nil {
			return nil, fmt.Errorf("spawning workload process %s: %w", name, err)
		}

		for t := 0; t < cfg.ThreadsPerProcess; t++ {
			entry := uint32(0x40_0000 + (p*cfg.ThreadsPerProcess+t)*0x1000)
			// Spread threads over the non-idle priority levels.
			priority := uint8((p*cfg.ThreadsPerProcess + t) % 7)
			tid, err := s.CreateThread(pid, fmt.Sprintf("%s/worker-%d", name, t), entry, priority)
			if err != nil {
				return nil, fmt.Errorf("spawning workload thread for %s: %w", name, err)
			}
			GetMetrics().WorkloadSpawns.Inc()
			w.log.Debug().
				Int32("pid", pid).
				Str("thread", fmt.Sprintf("%v", tid)).
				Int("priority", int(priority)).
				Msg("Workload thread spawned")
		}
	}

	w.log.Info().
		Int("processes", cfg.Processes).
		Int("threads_per_process", cfg.ThreadsPerProcess).
		Msg("Synthetic workload spawned")
	return w, nil
}

// step runs once per tick on each core's driver goroutine, after the tick has
// been delivered. It stands in for the code the running thread would execute.
func (w *Workload) step(coreID int) {
	w.ticks[coreID]++
	tick := w.ticks[coreID]

	cur := w.sched.CurrentThread(coreID)
	if w.sched.IsIdle(cur) {
		return
	}

	if tick%uint64(w.cfg.SyscallPeriodTicks) == 0 {
		w.sched.Syscall(coreID, w.handleSyscall, uintptr(tick))
		GetMetrics().WorkloadSyscalls.Inc()
		return
	}

	if tick%uint64(w.cfg.SleepPeriodTicks) == 0 {
		w.sched.Sleep(coreID, uint64(w.cfg.SleepTicks))
	}
}

// handleSyscall is the kernel-side service routine for the workload's calls.
// It only inspects the frame; the interesting part is the context transition
// around it.
func (w *Workload) handleSyscall(frame *cpuctx.Frame) {
	w.log.Trace().
		Uint64("params", uint64(frame.Params)).
		Uint64("return_addr", uint64(frame.ReturnAddr)).
		Msg("Workload syscall serviced")
}
