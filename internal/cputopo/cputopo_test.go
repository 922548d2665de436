package cputopo

import (
	"errors"
	"testing"
)

func withProbe(t *testing.T, f func() int) {
	t.Helper()
	prev := probe
	probe = f
	t.Cleanup(func() { probe = prev })
}

func TestDetectCoreCount(t *testing.T) {
	tests := []struct {
		name     string
		probed   int
		maxCores int
		want     int
		wantErr  bool
	}{
		{name: "within limit", probed: 2, maxCores: 4, want: 2},
		{name: "capped at max", probed: 16, maxCores: 4, want: 4},
		{name: "single core", probed: 1, maxCores: 4, want: 1},
		{name: "zero is failure", probed: 0, maxCores: 4, wantErr: true},
		{name: "negative is failure", probed: -1, maxCores: 4, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withProbe(t, func() int { return tt.probed })

			got, err := DetectCoreCount(tt.maxCores)
			if tt.wantErr {
				if !errors.Is(err, ErrDetectionFailure) {
					t.Fatalf("expected ErrDetectionFailure, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectCoreCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDetectOrFallback(t *testing.T) {
	withProbe(t, func() int { return 0 })
	n, degraded := DetectOrFallback(4)
	if n != 1 || !degraded {
		t.Errorf("expected single-core fallback, got n=%d degraded=%v", n, degraded)
	}

	withProbe(t, func() int { return 8 })
	n, degraded = DetectOrFallback(4)
	if n != 4 || degraded {
		t.Errorf("expected 4 cores without fallback, got n=%d degraded=%v", n, degraded)
	}
}
