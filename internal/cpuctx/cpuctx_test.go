package cpuctx

import (
	"errors"
	"testing"

	"kernsched/internal/kpanic"

	"github.com/phuslu/log"
)

var errHalted = errors.New("halted")

// trapPanic silences the fatal log and converts the halt into a recoverable
// sentinel so violation paths can be asserted on.
func trapPanic(t *testing.T) {
	t.Helper()
	prevHalt := kpanic.SetHalt(func() { panic(errHalted) })
	kpanic.SetLogger(log.Logger{Level: log.PanicLevel})
	t.Cleanup(func() {
		kpanic.SetHalt(prevHalt)
		kpanic.SetLogger(log.Logger{Level: log.TraceLevel})
	})
}

func expectViolation(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != errHalted {
			t.Fatalf("expected invariant violation, got %v", r)
		}
	}()
	f()
	t.Fatal("expected invariant violation, none raised")
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	var slot Slot
	want := Context{
		Regs: [RegisterCount]uint32{1, 2, 3, 4, 5, 6, 7, 8},
		SP:   0xBFFF_F000,
		IP:   0x0010_2040,
	}

	slot.Reset(NewInitial(0, 0))
	_ = slot.Restore() // thread goes live
	slot.Save(want)

	got := slot.Restore()
	if got != want {
		t.Errorf("restored context differs from saved: got %+v, want %+v", got, want)
	}
}

func TestNewInitialBeginsAtEntry(t *testing.T) {
	ctx := NewInitial(0x4000, 0x8000)
	if ctx.IP != 0x4000 {
		t.Errorf("initial IP = %#x, want entry %#x", ctx.IP, 0x4000)
	}
	if ctx.SP != 0x8000 {
		t.Errorf("initial SP = %#x, want stack top %#x", ctx.SP, 0x8000)
	}
}

func TestDoubleRestoreIsFatal(t *testing.T) {
	trapPanic(t)

	var slot Slot
	slot.Reset(NewInitial(0x4000, 0x8000))
	_ = slot.Restore()

	expectViolation(t, func() { _ = slot.Restore() })
}

func TestSaveOfNonLiveSlotIsFatal(t *testing.T) {
	trapPanic(t)

	var slot Slot
	slot.Reset(NewInitial(0x4000, 0x8000))

	expectViolation(t, func() { slot.Save(Context{}) })
}

func TestEnterSyscall(t *testing.T) {
	var slot Slot
	cur := Context{
		Regs: [RegisterCount]uint32{10, 20, 30, 40, 50, 60, 70, 80},
		SP:   0x7F00,
		IP:   0x1234,
	}
	slot.Reset(NewInitial(0, 0))
	_ = slot.Restore()

	var seen Frame
	ran := false
	restored := EnterSyscall(&slot, cur, func(frame *Frame) {
		ran = true
		seen = *frame
		if slot.Saved() != true {
			t.Error("caller context not captured while handler runs")
		}
	}, 0xDEAD, 0xA000)

	if !ran {
		t.Fatal("syscall handler never ran")
	}
	if seen.ReturnAddr != cur.IP || seen.StackPtr != cur.SP {
		t.Errorf("frame = %+v, want return %#x stack %#x", seen, cur.IP, cur.SP)
	}
	if seen.Params != 0xDEAD {
		t.Errorf("frame params = %#x, want 0xDEAD", seen.Params)
	}
	if restored != cur {
		t.Errorf("syscall return context = %+v, want caller context %+v", restored, cur)
	}
	if slot.Saved() {
		t.Error("thread should be live again after syscall return")
	}
}

func TestEnterSyscallRequiresKernelStack(t *testing.T) {
	trapPanic(t)

	var slot Slot
	slot.Reset(NewInitial(0, 0))
	_ = slot.Restore()

	expectViolation(t, func() {
		EnterSyscall(&slot, Context{}, func(*Frame) {}, 0, 0)
	})
}
