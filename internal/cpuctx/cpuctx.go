// Package cpuctx is the context-transition unit: the sole mechanism by which
// control passes between any two threads.
//
// A thread's execution context is a concrete value (register file, stack
// pointer, instruction pointer) held in a per-thread Slot. Control transfer
// is an explicit two-phase transition: suspend-capture (Save) moves the live
// register state into the slot, resume-restore (Restore) loads a saved
// snapshot back onto the calling core. The phase field makes the contract
// checkable: restoring a thread whose context is already live on some core
// would duplicate execution of one logical thread, and is fatal.
package cpuctx

import (
	"kernsched/internal/kpanic"
)

// RegisterCount is the size of the general-purpose register file captured on
// a context transition, matching a 32-bit machine context.
const RegisterCount = 8

// Context is a full register snapshot of an execution context. It is a plain
// value: copying it is the hardware "store register file" operation.
type Context struct {
	Regs [RegisterCount]uint32
	SP   uint32
	IP   uint32
}

// Frame is the ephemeral stack-resident snapshot built on syscall or
// interrupt entry. It has no identity beyond the current transition and is
// never stored in a control block.
type Frame struct {
	// ReturnAddr is where execution resumes when the transition unwinds.
	ReturnAddr uint32

	// StackPtr is the interrupted context's stack pointer.
	StackPtr uint32

	// Params points at caller-supplied syscall parameters.
	Params uintptr
}

// Handler receives the entry frame of a synchronous call while running on
// the designated kernel stack.
type Handler func(frame *Frame)

// phase tracks which side of the two-phase transition a slot is on.
type phase uint8

const (
	// phaseSaved: the slot holds a valid, immutable snapshot; the thread is
	// not running anywhere.
	phaseSaved phase = iota

	// phaseLive: the thread's context is loaded on a core; the slot contents
	// are stale and must not be read.
	phaseLive
)

// Slot is the saved-context storage embedded in every thread control block.
// While the owning thread is not running, the slot is the single source of
// truth for its execution state.
type Slot struct {
	phase phase
	ctx   Context
}

// NewInitial builds a synthetic saved context that, when restored, begins
// executing at entry on an empty stack growing down from stackTop.
func NewInitial(entry, stackTop uint32) Context {
	return Context{SP: stackTop, IP: entry}
}

// Reset arms the slot with a saved snapshot. Used when preparing a NEW
// thread's entry context; the slot must not be live.
func (s *Slot) Reset(ctx Context) {
	if s.phase == phaseLive {
		kpanic.Fail(kpanic.CodeCorruptContext, "reset of a live context slot")
	}
	s.ctx = ctx
	s.phase = phaseSaved
}

// Save captures the live register state into the slot, completing the
// suspend half of a transition. The slot must be in the live phase: saving a
// thread that is not running means some other component tried to mutate a
// non-running thread's context.
func (s *Slot) Save(ctx Context) {
	if s.phase != phaseLive {
		kpanic.Fail(kpanic.CodeCorruptContext, "save into a non-live context slot")
	}
	s.ctx = ctx
	s.phase = phaseSaved
}

// Restore consumes the saved snapshot and marks the thread live on the
// calling core. The returned context is bit-identical to what was last
// saved. Restoring an already-live slot is a fatal invariant violation.
func (s *Slot) Restore() Context {
	if s.phase != phaseSaved {
		kpanic.Fail(kpanic.CodeDoubleRestore, "restore of an already-running context")
	}
	s.phase = phaseLive
	return s.ctx
}

// Saved reports whether the slot currently holds a restorable snapshot.
func (s *Slot) Saved() bool {
	return s.phase == phaseSaved
}

// EnterSyscall performs the synchronous call transition for the thread
// owning slot: it captures the calling context, switches to the supplied
// kernel stack, runs handler with the entry frame, then restores the
// caller's context. The returned context is the caller's, resuming at its
// saved instruction pointer.
func EnterSyscall(slot *Slot, cur Context, handler Handler, params uintptr, kernelStackTop uint32) Context {
	if kernelStackTop == 0 {
		kpanic.Fail(kpanic.CodeCorruptContext, "syscall entry without a kernel stack")
	}

	frame := Frame{
		ReturnAddr: cur.IP,
		StackPtr:   cur.SP,
		Params:     params,
	}

	slot.Save(cur)

	// The handler runs on the kernel stack; the frame lives only for the
	// span of this call.
	handler(&frame)

	return slot.Restore()
}
