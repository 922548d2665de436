// Package kpanic is the fatal-condition sink for the scheduler core.
//
// Structural corruption of scheduler state is never recoverable: callers
// report a code, a message and optional formatting arguments, the condition
// is logged with its source location and the system halts. Nothing here ever
// returns control to the caller on the failure path.
package kpanic

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/phuslu/log"
)

// Panic codes for scheduler invariant violations.
const (
	// CodeDoubleRestore is raised when a context restore targets a thread
	// that is already live on a core.
	CodeDoubleRestore = 0x1001

	// CodeNoIdleFallback is raised when a ready queue election finds no
	// candidate and no idle thread, which cannot happen in a consistent
	// scheduler.
	CodeNoIdleFallback = 0x1002

	// CodeCorruptContext is raised when a saved context slot is consumed in
	// a phase it cannot legally be in.
	CodeCorruptContext = 0x1003

	// CodeQueueCorruption is raised when ready queue membership disagrees
	// with a thread's recorded state.
	CodeQueueCorruption = 0x1004

	// CodeIdleExit is raised when an idle thread reaches a termination path.
	CodeIdleExit = 0x1005

	// CodeBadCoreIndex is raised when a per-core structure is addressed with
	// an out-of-range core identifier.
	CodeBadCoreIndex = 0x1006
)

var logger = log.Logger{
	Level:  log.TraceLevel,
	Writer: &log.IOWriter{Writer: os.Stderr},
}

// halt terminates the process. Tests replace it to observe violations
// without dying.
var halt = func() { os.Exit(1) }

// SetLogger routes fatal reports through the given logger.
func SetLogger(l log.Logger) {
	logger = l
}

// SetHalt replaces the halt behavior and returns the previous one so tests
// can restore it.
func SetHalt(f func()) func() {
	prev := halt
	halt = f
	return prev
}

// Fail reports a fatal invariant violation and halts. The report carries the
// code, the message and the caller's file:line so the faulting site can be
// identified from the log alone.
func Fail(code uint32, format string, args ...any) {
	failFrom(2, code, format, args...)
}

// Assert fails with the given code and message when cond is false.
func Assert(cond bool, code uint32, format string, args ...any) {
	if !cond {
		failFrom(2, code, format, args...)
	}
}

func failFrom(skip int, code uint32, format string, args ...any) {
	file := "unknown"
	line := 0
	if _, f, l, ok := runtime.Caller(skip); ok {
		file = filepath.Base(f)
		line = l
	}
	logger.Fatal().
		Uint32("code", code).
		Str("at", fmt.Sprintf("%s:%d", file, line)).
		Msg(fmt.Sprintf(format, args...))
	halt()
}
