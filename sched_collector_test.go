package main

import (
	"testing"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"kernsched/internal/sched"
)

func newTestScheduler(t *testing.T, cores int) *sched.Scheduler {
	t.Helper()
	cfg := sched.DefaultConfig()
	cfg.Cores = cores
	cfg.ThreadCapacity = 64
	cfg.MaxProcesses = 8
	s, err := sched.New(cfg, log.Logger{Level: log.PanicLevel})
	if err != nil {
		t.Fatalf("sched.New() failed: %v", err)
	}
	return s
}

func gather(t *testing.T, s *sched.Scheduler) map[string]*dto.MetricFamily {
	t.Helper()
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewSchedCollector(s)); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestSchedCollectorExportsCoreSeries(t *testing.T) {
	s := newTestScheduler(t, 2)
	pid, err := s.CreateProcess("app", 0x1000_0000)
	if err != nil {
		t.Fatalf("CreateProcess() failed: %v", err)
	}
	if _, err := s.CreateThread(pid, "worker", 0x40_0000, 3); err != nil {
		t.Fatalf("CreateThread() failed: %v", err)
	}
	s.OnTick(0)
	s.OnTick(1)

	byName := gather(t, s)

	perCore := []string{
		"kernsched_core_ticks_total",
		"kernsched_context_switches_total",
		"kernsched_preemptions_total",
		"kernsched_syscalls_total",
		"kernsched_ready_queue_depth",
		"kernsched_sleeping_threads",
		"kernsched_core_load_percent",
	}
	for _, name := range perCore {
		mf, ok := byName[name]
		if !ok {
			t.Errorf("metric family %s missing from scrape", name)
			continue
		}
		if got := len(mf.GetMetric()); got != 2 {
			t.Errorf("%s has %d series, want one per core", name, got)
		}
	}

	ticks := byName["kernsched_core_ticks_total"]
	for _, m := range ticks.GetMetric() {
		if got := m.GetCounter().GetValue(); got != 1 {
			t.Errorf("core tick counter = %v after one tick, want 1", got)
		}
	}
}

func TestSchedCollectorInventoryGauges(t *testing.T) {
	s := newTestScheduler(t, 1)
	pid, err := s.CreateProcess("app", 0x1000_0000)
	if err != nil {
		t.Fatalf("CreateProcess() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.CreateThread(pid, "worker", 0x40_0000, 3); err != nil {
			t.Fatalf("CreateThread() failed: %v", err)
		}
	}
	s.OnTick(0)

	byName := gather(t, s)

	// 3 workers plus the idle thread
	if got := byName["kernsched_live_threads"].GetMetric()[0].GetGauge().GetValue(); got != 4 {
		t.Errorf("live_threads = %v, want 4", got)
	}
	// The application process plus the kernel process
	if got := byName["kernsched_live_processes"].GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Errorf("live_processes = %v, want 2", got)
	}

	states := make(map[string]float64)
	for _, m := range byName["kernsched_threads_by_state"].GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "state" {
				states[lp.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	if states["running"] != 1 {
		t.Errorf("running thread count = %v, want 1", states["running"])
	}
	// Two waiting workers plus the displaced idle thread.
	if states["ready"] != 3 {
		t.Errorf("ready thread count = %v, want 3", states["ready"])
	}
}
