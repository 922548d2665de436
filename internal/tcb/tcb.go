// Package tcb owns the fixed-capacity pool of thread control blocks and the
// kernel stack arena backing them.
//
// Threads are addressed by (index, generation) handles. A slot's generation
// is bumped when the slot is reclaimed, so a handle held across reclamation
// fails lookup with ErrInvalidHandle instead of silently aliasing the slot's
// next occupant.
package tcb

import (
	"errors"
	"sync"
	"sync/atomic"

	"kernsched/internal/cpuctx"
	"kernsched/internal/kpanic"
)

var (
	// ErrResourceExhausted is returned when every slot in the pool is live.
	ErrResourceExhausted = errors.New("tcb: thread control block pool exhausted")

	// ErrInvalidHandle is returned when a handle is unknown, stale or reused
	// with a different generation.
	ErrInvalidHandle = errors.New("tcb: stale or unknown thread handle")
)

// State is a thread's scheduling state.
type State uint8

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateBlocked
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// ThreadID is a stable handle to a pool slot. The zero value never addresses
// a live thread: generations start at 1.
type ThreadID struct {
	Index uint16
	Gen   uint32
}

// Nil is the invalid thread handle.
var Nil = ThreadID{}

// Valid reports whether the handle could address a thread at all.
func (id ThreadID) Valid() bool {
	return id.Gen != 0
}

// NameMax bounds thread names, matching the control-block layout this design
// descends from.
const NameMax = 32

// TCB is the descriptor record for one schedulable thread. Field access is
// serialized by the scheduler core that owns the thread; the store only
// guards slot allocation and reclamation.
type TCB struct {
	id ThreadID

	Name string
	PID  int32

	// BasePriority is the thread's assigned priority level; the effective
	// (aged) priority lives in the ready queue entry.
	BasePriority uint8

	State State

	// Ctx is the saved execution context slot; valid and immutable while
	// the thread is not running.
	Ctx cpuctx.Slot

	// Entry is the instruction address the thread starts at.
	Entry uint32

	// StackLow and StackTop delimit the thread's kernel stack region inside
	// the store arena. The region is exclusively owned by the thread until
	// reclamation.
	StackLow uint32
	StackTop uint32

	// CoreHint is the core the thread last ran on or was placed on, -1 when
	// unplaced. Written only under the owning core's lock; cross-core paths
	// load it atomically, lock the hinted core and revalidate.
	CoreHint atomic.Int32

	// RunTicks and WaitTicks accumulate time for fairness accounting.
	RunTicks  uint64
	WaitTicks uint64

	// QueuedAt is the owning core's tick count when the thread last became
	// READY; election consumes it to account wait time.
	QueuedAt uint64

	// PendingTerm requests cooperative termination; the thread observes it
	// at its next quantum boundary or syscall return.
	PendingTerm bool

	// PreemptDisabled defers quantum expiry while the thread runs.
	PreemptDisabled bool

	// WakeupTick is the tick at which a sleeping thread becomes due.
	WakeupTick uint64

	// Joiner is the thread blocked waiting for this one to terminate.
	Joiner ThreadID

	// ExitKilled records whether the thread was killed rather than exiting
	// on its own; meaningful once the thread is a zombie.
	ExitKilled bool

	// ExitCode is the thread's reported exit value, meaningful once zombie.
	ExitCode int32

	inUse bool
}

// ID returns the thread's current handle.
func (t *TCB) ID() ThreadID {
	return t.id
}

// Store is the thread control block pool. Allocation and reclamation are the
// only shared mutations; both run under a short critical section.
type Store struct {
	mu        sync.Mutex
	slots     []TCB
	free      []uint16
	stackSize uint32
	arena     []byte
	live      int
}

// NewStore builds a pool of capacity slots, each with a dedicated kernel
// stack region of stackSize bytes.
func NewStore(capacity int, stackSize uint32) *Store {
	s := &Store{
		slots:     make([]TCB, capacity),
		free:      make([]uint16, 0, capacity),
		stackSize: stackSize,
		arena:     make([]byte, uint32(capacity)*stackSize),
	}
	for i := capacity - 1; i >= 0; i-- {
		s.slots[i].id = ThreadID{Index: uint16(i), Gen: 1}
		s.free = append(s.free, uint16(i))
	}
	return s
}

// Alloc claims a free slot and its stack region. The new thread starts in
// StateNew with an unplaced core hint; the caller prepares its entry context
// before making it ready.
func (s *Store) Alloc(name string, pid int32, priority uint8) (*TCB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.free) == 0 {
		return nil, ErrResourceExhausted
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.live++

	if len(name) > NameMax {
		name = name[:NameMax]
	}

	t := &s.slots[idx]
	t.Name = name
	t.PID = pid
	t.BasePriority = priority
	t.State = StateNew
	t.StackLow = uint32(idx) * s.stackSize
	t.StackTop = t.StackLow + s.stackSize
	t.CoreHint.Store(-1)
	t.RunTicks = 0
	t.WaitTicks = 0
	t.QueuedAt = 0
	t.PendingTerm = false
	t.PreemptDisabled = false
	t.WakeupTick = 0
	t.Joiner = Nil
	t.ExitKilled = false
	t.ExitCode = 0
	t.inUse = true
	return t, nil
}

// Free reclaims a zombie thread's slot and stack. The caller must have
// confirmed the thread is off every core. The slot generation is bumped so
// outstanding handles go stale.
func (s *Store) Free(t *TCB) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kpanic.Assert(t.inUse, kpanic.CodeQueueCorruption,
		"double reclamation of thread %d", t.id.Index)
	kpanic.Assert(t.State == StateZombie, kpanic.CodeQueueCorruption,
		"reclamation of non-zombie thread %d in state %s", t.id.Index, t.State)

	t.inUse = false
	t.id.Gen++
	s.free = append(s.free, t.id.Index)
	s.live--
}

// Lookup resolves a handle, failing with ErrInvalidHandle when the handle is
// stale or never referred to a live thread.
func (s *Store) Lookup(id ThreadID) (*TCB, error) {
	if !id.Valid() || int(id.Index) >= len(s.slots) {
		return nil, ErrInvalidHandle
	}
	t := &s.slots[id.Index]
	s.mu.Lock()
	ok := t.inUse && t.id.Gen == id.Gen
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidHandle
	}
	return t, nil
}

// Capacity returns the fixed pool size.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Live returns the number of slots currently claimed.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Stack returns the thread's kernel stack region inside the arena. Useful
// for diagnostics; the scheduler itself only deals in the offsets.
func (s *Store) Stack(t *TCB) []byte {
	return s.arena[t.StackLow:t.StackTop]
}
