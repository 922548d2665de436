// Package sched is the scheduling core: per-core dispatchers driven by an
// external timer tick, the thread/process manager, and the cross-core
// coordinator (migration, forced reschedule).
//
// Concurrency discipline: every core owns its dispatch state (current thread,
// ready queue, quantum countdown, sleep list) behind a short critical-section
// lock. A thread's control-block fields are protected by the lock of the core
// recorded in its CoreHint; the hint is an atomic that only changes while
// that lock is held, so cross-core paths load it, lock the hinted core and
// revalidate. Paths that must touch two cores at once (migration, wake
// placement, join) take both locks in ascending core-index order.
package sched

import (
	"errors"
	"fmt"
	"sync"

	"github.com/phuslu/log"

	"kernsched/internal/kpanic"
	"kernsched/internal/maps"
	"kernsched/internal/pcid"
	"kernsched/internal/readyq"
	"kernsched/internal/tcb"
)

// MaxCores is the hard ceiling on dispatcher cores, matching the target
// machine's SoC CPU count.
const MaxCores = 4

// idleEntry is the synthetic entry address idle threads spin at.
const idleEntry uint32 = 0xFFFF_FFF0

// KernelPID is the reserved identifier of the kernel process that owns the
// per-core idle threads. It lives outside the PCID space, so the full
// identifier range stays available to regular process creation.
const KernelPID int32 = -1

var (
	// ErrResourceExhausted is returned when the PCID space or the thread pool
	// is full. Recoverable at the call site.
	ErrResourceExhausted = errors.New("sched: resource exhausted")

	// ErrInvalidProcess is returned for operations naming an unknown, dead or
	// protected process.
	ErrInvalidProcess = errors.New("sched: unknown or dead process")

	// ErrInvalidPriority is returned when a priority is outside the level
	// range.
	ErrInvalidPriority = errors.New("sched: priority out of range")

	// ErrNotBlocked is returned by Wake when the thread is not in a wakeable
	// state.
	ErrNotBlocked = errors.New("sched: thread is not blocked")

	// ErrNotJoinable is returned when joining an idle thread or oneself.
	ErrNotJoinable = errors.New("sched: thread cannot be joined")

	// ErrAlreadyJoined is returned when another thread already waits on the
	// target.
	ErrAlreadyJoined = errors.New("sched: thread already has a joiner")

	// ErrJoinPending means the caller is now blocked waiting for the target;
	// it should reissue the join once it runs again.
	ErrJoinPending = errors.New("sched: join pending")

	// ErrIdleThread is returned for lifecycle operations aimed at a per-core
	// idle thread.
	ErrIdleThread = errors.New("sched: operation not valid on an idle thread")
)

// Config carries the compile-time ceilings of the surrounding system.
type Config struct {
	// Cores is the number of dispatcher cores, 1..MaxCores.
	Cores int

	// QuantumTicks is the time slice granted to a running thread.
	QuantumTicks uint32

	// ThreadCapacity is the fixed size of the thread control block pool,
	// idle threads included.
	ThreadCapacity int

	// MaxProcesses bounds live processes; never above the PCID ceiling.
	MaxProcesses int

	// KernelStackSize is the per-thread kernel stack region in bytes.
	KernelStackSize uint32

	// LoadWindow is the tick window over which per-core CPU load is averaged.
	LoadWindow uint32
}

// DefaultConfig returns the ceilings of the reference machine configuration.
func DefaultConfig() Config {
	return Config{
		Cores:           1,
		QuantumTicks:    10,
		ThreadCapacity:  1024,
		MaxProcesses:    pcid.Ceiling,
		KernelStackSize: 4096,
		LoadWindow:      100,
	}
}

func (c Config) validate() error {
	if c.Cores < 1 || c.Cores > MaxCores {
		return fmt.Errorf("core count %d outside 1..%d", c.Cores, MaxCores)
	}
	if c.QuantumTicks == 0 {
		return errors.New("quantum must be at least one tick")
	}
	if c.ThreadCapacity < c.Cores {
		return fmt.Errorf("thread capacity %d cannot hold %d idle threads", c.ThreadCapacity, c.Cores)
	}
	if c.MaxProcesses < 1 || c.MaxProcesses > pcid.Ceiling {
		return fmt.Errorf("max processes %d outside 1..%d", c.MaxProcesses, pcid.Ceiling)
	}
	if c.KernelStackSize == 0 {
		return errors.New("kernel stack size must be non-zero")
	}
	if c.LoadWindow == 0 {
		return errors.New("load window must be at least one tick")
	}
	return nil
}

// Scheduler is the multi-core scheduling core. One instance owns the thread
// pool, the PCID registry and every per-core dispatcher.
type Scheduler struct {
	logger log.Logger
	cfg    Config

	store *tcb.Store
	pcids *pcid.Registry

	cores []*core

	// threads is the live-thread registry keyed by packed handle; it backs
	// the inventory snapshot and the metrics collector.
	threads maps.ConcurrentMap[uint64, *tcb.TCB]

	procMu sync.Mutex
	procs  map[int32]*Process

	zombieMu sync.Mutex
	zombies  map[tcb.ThreadID]*tcb.TCB

	statMu     sync.Mutex
	migrations uint64
}

// New builds the scheduler: thread pool, PCID registry, the kernel process
// and one dispatcher per core with its idle thread installed and running.
// After New returns every core reports a current thread.
func New(cfg Config, logger log.Logger) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}

	s := &Scheduler{
		logger:  logger,
		cfg:     cfg,
		store:   tcb.NewStore(cfg.ThreadCapacity, cfg.KernelStackSize),
		pcids:   pcid.NewRegistry(int32(cfg.MaxProcesses)),
		threads: maps.NewConcurrentMap[uint64, *tcb.TCB](),
		procs:   make(map[int32]*Process),
		zombies: make(map[tcb.ThreadID]*tcb.TCB),
	}

	kernel := &Process{pid: KernelPID, name: "kernel", state: ProcActive}
	s.procs[KernelPID] = kernel

	s.cores = make([]*core, cfg.Cores)
	for i := range s.cores {
		idle, err := s.store.Alloc(fmt.Sprintf("idle-%d", i), KernelPID, readyq.IdlePriority)
		if err != nil {
			return nil, fmt.Errorf("idle thread for core %d: %w", i, err)
		}
		idle.Entry = idleEntry
		idle.Ctx.Reset(cpuInitial(idle))
		idle.State = tcb.StateRunning
		idle.CoreHint.Store(int32(i))

		c := &core{
			id:      i,
			sched:   s,
			idle:    idle,
			runq:    readyq.New(idle.ID()),
			quantum: cfg.QuantumTicks,
		}
		c.current = idle
		c.quantumLeft = cfg.QuantumTicks
		c.machine = idle.Ctx.Restore()
		s.cores[i] = c

		s.threads.Store(packID(idle.ID()), idle)
		kernel.threads = append(kernel.threads, idle.ID())
		kernel.live++
	}

	s.logger.Info().
		Int("cores", cfg.Cores).
		Int("thread_capacity", cfg.ThreadCapacity).
		Int("max_processes", cfg.MaxProcesses).
		Uint32("quantum_ticks", cfg.QuantumTicks).
		Msg("Scheduler initialized")
	return s, nil
}

// CoreCount returns the number of dispatcher cores.
func (s *Scheduler) CoreCount() int {
	return len(s.cores)
}

// CurrentThread returns the thread executing on the given core. It never
// returns the nil handle: a core without ready work runs its idle thread.
func (s *Scheduler) CurrentThread(coreID int) tcb.ThreadID {
	c := s.coreAt(coreID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.ID()
}

// OnTick is the per-core timer entry point. It advances the core's local
// clock, releases due sleepers, checks the reschedule mailbox and runs the
// preemption transition when the quantum expires.
func (s *Scheduler) OnTick(coreID int) {
	s.coreAt(coreID).onTick()
}

func (s *Scheduler) coreAt(coreID int) *core {
	if coreID < 0 || coreID >= len(s.cores) {
		kpanic.Fail(kpanic.CodeBadCoreIndex, "core index %d outside 0..%d", coreID, len(s.cores)-1)
	}
	return s.cores[coreID]
}

// lockOwner locks the core whose lock protects the thread's fields. The core
// hint can move between the unlocked read and the acquisition, so it is
// revalidated under the lock.
func (s *Scheduler) lockOwner(t *tcb.TCB) *core {
	for {
		hint := t.CoreHint.Load()
		if hint < 0 || int(hint) >= len(s.cores) {
			kpanic.Fail(kpanic.CodeBadCoreIndex, "thread %d carries core hint %d", t.ID().Index, hint)
		}
		c := s.cores[hint]
		c.mu.Lock()
		if t.CoreHint.Load() == int32(c.id) {
			return c
		}
		c.mu.Unlock()
	}
}

// lockPair takes two core locks in ascending index order.
func lockPair(a, b *core) {
	if a == b {
		a.mu.Lock()
		return
	}
	if a.id < b.id {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a, b *core) {
	a.mu.Unlock()
	if b != a {
		b.mu.Unlock()
	}
}

// mustThread resolves a handle the scheduler itself enqueued. A failed lookup
// here means a ready structure references a reclaimed slot.
func (s *Scheduler) mustThread(id tcb.ThreadID) *tcb.TCB {
	t, err := s.store.Lookup(id)
	if err != nil {
		kpanic.Fail(kpanic.CodeQueueCorruption, "queued handle %d.%d resolves to no thread", id.Index, id.Gen)
	}
	return t
}

// IsIdle reports whether the handle names one of the per-core idle threads.
func (s *Scheduler) IsIdle(id tcb.ThreadID) bool {
	for _, c := range s.cores {
		if c.idle.ID() == id {
			return true
		}
	}
	return false
}

func packID(id tcb.ThreadID) uint64 {
	return uint64(id.Gen)<<16 | uint64(id.Index)
}

// ThreadInfo is a diagnostic snapshot of one live thread.
type ThreadInfo struct {
	ID       tcb.ThreadID
	Name     string
	PID      int32
	State    tcb.State
	Priority uint8
	Core     int32
	RunTicks uint64
}

// Threads snapshots the live-thread inventory, idle threads included. Each
// entry is read under its owning core's lock; threads caught mid-placement
// or mid-reclamation are skipped rather than reported half-written.
func (s *Scheduler) Threads() []ThreadInfo {
	out := make([]ThreadInfo, 0, 16)
	s.threads.Range(func(_ uint64, t *tcb.TCB) bool {
		hint := t.CoreHint.Load()
		if hint < 0 || int(hint) >= len(s.cores) {
			return true
		}
		c := s.cores[hint]
		c.mu.Lock()
		if t.CoreHint.Load() != hint {
			c.mu.Unlock()
			return true
		}
		out = append(out, ThreadInfo{
			ID:       t.ID(),
			Name:     t.Name,
			PID:      t.PID,
			State:    t.State,
			Priority: t.BasePriority,
			Core:     hint,
			RunTicks: t.RunTicks,
		})
		c.mu.Unlock()
		return true
	})
	return out
}

// CoreStats is a point-in-time counter snapshot for one core.
type CoreStats struct {
	Core            int
	Tick            uint64
	ContextSwitches uint64
	Preemptions     uint64
	Syscalls        uint64
	QueueDepth      int
	Sleepers        int
	LoadPercent     uint32
}

// Stats is a point-in-time snapshot of scheduler-wide counters.
type Stats struct {
	LiveThreads   int
	LiveProcesses int
	Zombies       int
	Migrations    uint64
	Cores         []CoreStats
}

// Snapshot gathers per-core and global counters for the metrics collector.
func (s *Scheduler) Snapshot() Stats {
	st := Stats{Cores: make([]CoreStats, len(s.cores))}
	for i, c := range s.cores {
		c.mu.Lock()
		st.Cores[i] = CoreStats{
			Core:            c.id,
			Tick:            c.tick,
			ContextSwitches: c.ctxSwitches,
			Preemptions:     c.preemptions,
			Syscalls:        c.syscalls,
			QueueDepth:      c.runq.Depth(),
			Sleepers:        len(c.sleepers),
			LoadPercent:     c.loadPercent,
		}
		c.mu.Unlock()
	}

	st.LiveThreads = s.store.Live()

	s.procMu.Lock()
	st.LiveProcesses = len(s.procs)
	s.procMu.Unlock()

	s.zombieMu.Lock()
	st.Zombies = len(s.zombies)
	s.zombieMu.Unlock()

	s.statMu.Lock()
	st.Migrations = s.migrations
	s.statMu.Unlock()
	return st
}
