package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HostMetrics contains counters for the host driver itself, as opposed to the
// scheduler counters exported by SchedCollector.
type HostMetrics struct {
	RebalancePasses  prometheus.Counter // coordinator housekeeping runs
	ZombiesReaped    prometheus.Counter // threads reclaimed by housekeeping
	WorkloadSpawns   prometheus.Counter // threads spawned by the synthetic workload
	WorkloadSyscalls prometheus.Counter // synchronous calls issued by the workload
}

var (
	metrics     *HostMetrics
	metricsOnce sync.Once
)

// InitMetrics initializes all host metrics
func InitMetrics() {
	metricsOnce.Do(func() {
		metrics = &HostMetrics{
			RebalancePasses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "kernsched_host_rebalance_passes_total",
				Help: "Load-balancing passes run by the housekeeping loop",
			}),
			ZombiesReaped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "kernsched_host_zombies_reaped_total",
				Help: "Zombie threads reclaimed by the housekeeping loop",
			}),
			WorkloadSpawns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "kernsched_workload_threads_spawned_total",
				Help: "Threads created by the synthetic workload",
			}),
			WorkloadSyscalls: promauto.NewCounter(prometheus.CounterOpts{
				Name: "kernsched_workload_syscalls_total",
				Help: "Synchronous kernel calls issued by the synthetic workload",
			}),
		}
	})
}

// GetMetrics returns the initialized metrics
func GetMetrics() *HostMetrics {
	if metrics == nil {
		InitMetrics()
	}
	return metrics
}
