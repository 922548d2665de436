package main

import (
	"strconv"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"kernsched/internal/logger"
	"kernsched/internal/sched"
)

// SchedCollector implements prometheus.Collector for scheduler metrics.
// This collector follows Prometheus best practices by creating new metrics on
// each scrape from a point-in-time snapshot of the scheduler's counters.
//
// It exposes:
// - Context switches, preemptions and syscalls per core
// - Ready queue depth, sleeper count and CPU load per core
// - Live thread/process inventory and zombie backlog
// - Cross-core migration count
//
// All metrics are designed for low cardinality: labels are core indices and
// thread states, never thread or process IDs.
type SchedCollector struct {
	sched *sched.Scheduler
	log   log.Logger

	ticksDesc           *prometheus.Desc
	contextSwitchesDesc *prometheus.Desc
	preemptionsDesc     *prometheus.Desc
	syscallsDesc        *prometheus.Desc
	queueDepthDesc      *prometheus.Desc
	sleepersDesc        *prometheus.Desc
	loadDesc            *prometheus.Desc
	migrationsDesc      *prometheus.Desc
	liveThreadsDesc     *prometheus.Desc
	liveProcessesDesc   *prometheus.Desc
	zombiesDesc         *prometheus.Desc
	threadsByStateDesc  *prometheus.Desc
}

// NewSchedCollector creates a scheduler metrics collector.
func NewSchedCollector(s *sched.Scheduler) *SchedCollector {
	return &SchedCollector{
		sched: s,
		log:   logger.NewLoggerWithContext("metrics"),

		ticksDesc: prometheus.NewDesc(
			"kernsched_core_ticks_total",
			"Total timer ticks observed per core",
			[]string{"core"}, nil,
		),
		contextSwitchesDesc: prometheus.NewDesc(
			"kernsched_context_switches_total",
			"Total context switches performed per core",
			[]string{"core"}, nil,
		),
		preemptionsDesc: prometheus.NewDesc(
			"kernsched_preemptions_total",
			"Total quantum-expiry preemptions per core",
			[]string{"core"}, nil,
		),
		syscallsDesc: prometheus.NewDesc(
			"kernsched_syscalls_total",
			"Total synchronous kernel calls serviced per core",
			[]string{"core"}, nil,
		),
		queueDepthDesc: prometheus.NewDesc(
			"kernsched_ready_queue_depth",
			"Threads currently waiting in each core's ready queue",
			[]string{"core"}, nil,
		),
		sleepersDesc: prometheus.NewDesc(
			"kernsched_sleeping_threads",
			"Threads currently parked on each core's sleep list",
			[]string{"core"}, nil,
		),
		loadDesc: prometheus.NewDesc(
			"kernsched_core_load_percent",
			"Non-idle tick percentage per core over the load window",
			[]string{"core"}, nil,
		),
		migrationsDesc: prometheus.NewDesc(
			"kernsched_thread_migrations_total",
			"Total threads migrated between cores by the coordinator",
			nil, nil,
		),
		liveThreadsDesc: prometheus.NewDesc(
			"kernsched_live_threads",
			"Thread control blocks currently allocated, idle threads included",
			nil, nil,
		),
		liveProcessesDesc: prometheus.NewDesc(
			"kernsched_live_processes",
			"Processes currently holding an address space identifier",
			nil, nil,
		),
		zombiesDesc: prometheus.NewDesc(
			"kernsched_zombie_threads",
			"Terminated threads awaiting reclamation",
			nil, nil,
		),
		threadsByStateDesc: prometheus.NewDesc(
			"kernsched_threads_by_state",
			"Live thread count grouped by scheduler state",
			[]string{"state"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SchedCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticksDesc
	ch <- c.contextSwitchesDesc
	ch <- c.preemptionsDesc
	ch <- c.syscallsDesc
	ch <- c.queueDepthDesc
	ch <- c.sleepersDesc
	ch <- c.loadDesc
	ch <- c.migrationsDesc
	ch <- c.liveThreadsDesc
	ch <- c.liveProcessesDesc
	ch <- c.zombiesDesc
	ch <- c.threadsByStateDesc
}

// Collect implements prometheus.Collector.
// It is called by Prometheus on each scrape and must create new metrics each
// time to avoid race conditions and ensure stale metrics are not exposed.
func (c *SchedCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.sched.Snapshot()

	for _, cs := range stats.Cores {
		core := strconv.Itoa(cs.Core)

		ch <- prometheus.MustNewConstMetric(c.ticksDesc,
			prometheus.CounterValue, float64(cs.Tick), core)
		ch <- prometheus.MustNewConstMetric(c.contextSwitchesDesc,
			prometheus.CounterValue, float64(cs.ContextSwitches), core)
		ch <- prometheus.MustNewConstMetric(c.preemptionsDesc,
			prometheus.CounterValue, float64(cs.Preemptions), core)
		ch <- prometheus.MustNewConstMetric(c.syscallsDesc,
			prometheus.CounterValue, float64(cs.Syscalls), core)
		ch <- prometheus.MustNewConstMetric(c.queueDepthDesc,
			prometheus.GaugeValue, float64(cs.QueueDepth), core)
		ch <- prometheus.MustNewConstMetric(c.sleepersDesc,
			prometheus.GaugeValue, float64(cs.Sleepers), core)
		ch <- prometheus.MustNewConstMetric(c.loadDesc,
			prometheus.GaugeValue, float64(cs.LoadPercent), core)
	}

	ch <- prometheus.MustNewConstMetric(c.migrationsDesc,
		prometheus.CounterValue, float64(stats.Migrations))
	ch <- prometheus.MustNewConstMetric(c.liveThreadsDesc,
		prometheus.GaugeValue, float64(stats.LiveThreads))
	ch <- prometheus.MustNewConstMetric(c.liveProcessesDesc,
		prometheus.GaugeValue, float64(stats.LiveProcesses))
	ch <- prometheus.MustNewConstMetric(c.zombiesDesc,
		prometheus.GaugeValue, float64(stats.Zombies))

	byState := make(map[string]int)
	for _, info := range c.sched.Threads() {
		byState[info.State.String()]++
	}
	for state, count := range byState {
		ch <- prometheus.MustNewConstMetric(c.threadsByStateDesc,
			prometheus.GaugeValue, float64(count), state)
	}
}
