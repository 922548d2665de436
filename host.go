package main

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"

	"kernsched/internal/config"
	"kernsched/internal/logger"
	"kernsched/internal/sched"
)

// Host drives the scheduler the way hardware would: one goroutine per core
// delivering timer ticks, plus a housekeeping goroutine standing in for the
// cross-core coordinator's periodic duties.
//
// Each core goroutine is the sole caller of that core's entry points
// (OnTick, Syscall, Sleep), which is the calling discipline the scheduler
// requires.
type Host struct {
	sched    *sched.Scheduler
	cfg      *config.AppConfig
	workload *Workload
	log      log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost creates a host driver for the given scheduler. The workload may be
// nil when the synthetic workload is disabled.
func NewHost(s *sched.Scheduler, cfg *config.AppConfig, workload *Workload) *Host {
	return &Host{
		sched:    s,
		cfg:      cfg,
		workload: workload,
		log:      logger.NewLoggerWithContext("host"),
	}
}

// Start launches the per-core tick drivers and the housekeeping loop.
func (h *Host) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	tickInterval := time.Second / time.Duration(h.cfg.Scheduler.TickHz)
	for coreID := 0; coreID < h.sched.CoreCount(); coreID++ {
		h.wg.Add(1)
		go h.driveCore(ctx, coreID, tickInterval)
	}

	h.wg.Add(1)
	go h.housekeeping(ctx, tickInterval)

	h.log.Info().
		Int("cores", h.sched.CoreCount()).
		Dur("tick_interval", tickInterval).
		Msg("Host driver started")
}

// Stop halts all driver goroutines and waits for them to drain.
func (h *Host) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
	h.log.Info().Msg("Host driver stopped")
}

// driveCore is the timer interrupt source for one core.
func (h *Host) driveCore(ctx context.Context, coreID int, interval time.Duration) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.log.Debug().Int("core", coreID).Msg("Core driver started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sched.OnTick(coreID)
			if h.workload != nil {
				h.workload.step(coreID)
			}
		}
	}
}

// housekeeping periodically rebalances ready queues and reclaims joinerless
// zombies, at the periods configured in ticks of the driver clock.
func (h *Host) housekeeping(ctx context.Context, tickInterval time.Duration) {
	defer h.wg.Done()

	rebalance := time.NewTicker(tickInterval * time.Duration(h.cfg.Scheduler.RebalanceTicks))
	defer rebalance.Stop()
	reap := time.NewTicker(tickInterval * time.Duration(h.cfg.Scheduler.ReapTicks))
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rebalance.C:
			moved := h.sched.Rebalance()
			GetMetrics().RebalancePasses.Inc()
			if moved > 0 {
				h.log.Debug().Int("moved", moved).Msg("Rebalanced ready queues")
			}
		case <-reap.C:
			if reaped := h.sched.ReapZombies(); reaped > 0 {
				GetMetrics().ZombiesReaped.Add(float64(reaped))
				h.log.Debug().Int("reaped", reaped).Msg("Reclaimed zombie threads")
			}
		}
	}
}
