// Package cputopo answers the one topology question the scheduler asks at
// initialization: how many physical cores may it dispatch on.
//
// The answer comes from the platform (an external collaborator); when
// detection is impossible the scheduler falls back to a single-core
// configuration rather than aborting startup.
package cputopo

import (
	"errors"
	"runtime"
)

// ErrDetectionFailure is returned when the usable core count cannot be
// determined from the platform.
var ErrDetectionFailure = errors.New("cputopo: core count detection failed")

// probe returns the raw usable core count. Replaced in tests to exercise the
// failure paths.
var probe = func() int { return runtime.NumCPU() }

// DetectCoreCount returns the number of usable physical cores, capped at
// maxCores. A non-positive probe result is a detection failure.
func DetectCoreCount(maxCores int) (int, error) {
	n := probe()
	if n <= 0 {
		return 0, ErrDetectionFailure
	}
	if n > maxCores {
		n = maxCores
	}
	return n, nil
}

// DetectOrFallback resolves the core count for scheduler startup: on
// detection failure it degrades to a single core. The second return value
// reports whether the fallback was taken so the caller can log it.
func DetectOrFallback(maxCores int) (int, bool) {
	n, err := DetectCoreCount(maxCores)
	if err != nil {
		return 1, true
	}
	return n, false
}
