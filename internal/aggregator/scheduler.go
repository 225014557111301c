package aggregator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"order-metrics/config"
	"order-metrics/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Roller interface {
	RollupHour(ctx context.Context, hour time.Time) (models.HourlyAggregate, error)
}

// Scheduler decides when hourly rollups run: every interval, and after every Nth newly
// persisted order. Each run recomputes the current and the previous hour, so orders that
// land just before an hour boundary are folded in by the next run.
type Scheduler struct {
	roller   Roller
	interval time.Duration
	everyN   int64
	timeout  time.Duration
	now      func() time.Time

	persisted atomic.Int64
	trigger   chan struct{}
}

func NewScheduler(roller Roller, cfg config.RollupConfig, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		roller:   roller,
		interval: cfg.Interval,
		everyN:   int64(cfg.EveryN),
		timeout:  cfg.Timeout,
		now:      now,
		trigger:  make(chan struct{}, 1),
	}
}

// OrderPersisted records one newly stored order. It never blocks; triggers raised while a
// run is pending coalesce into that run.
func (s *Scheduler) OrderPersisted() {
	if s.everyN <= 0 {
		return
	}
	if s.persisted.Add(1)%s.everyN == 0 {
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}
}

// Run performs rollups until ctx is done. Failures are logged and retried on the next
// trigger.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	zap.L().Info("Rollup scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int64("every_n", s.everyN))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("Rollup scheduler stopped")
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if err := s.RunOnce(ctx); err != nil {
			zap.L().Error("Hourly rollup failed", zap.Error(err))
		}
	}
}

// RunOnce rolls up the previous and the current hour.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	current := s.now().UTC().Truncate(time.Hour)

	var errs error
	for _, hour := range []time.Time{current.Add(-time.Hour), current} {
		errs = multierr.Append(errs, s.rollup(ctx, hour))
	}
	return errs
}

func (s *Scheduler) rollup(ctx context.Context, hour time.Time) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.roller.RollupHour(ctx, hour); err != nil {
		return fmt.Errorf("rollup %s: %w", hour.Format(time.RFC3339), err)
	}
	return nil
}
