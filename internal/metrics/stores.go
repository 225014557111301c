package metrics

import (
	"context"
	"time"

	"order-metrics/config"

	"go.uber.org/zap"
)

// Clock returns the current time. Stores take one so tests can move time by hand.
type Clock func() time.Time

// Stores bundles the live metric stores fed by the order worker.
type Stores struct {
	Window      *WindowStore
	Leaderboard *Leaderboard
	Tallies     *TallyStore
	Totals      *RunningTotals
}

func NewStores(cfg config.MetricsConfig, now Clock) (*Stores, error) {
	window, err := NewWindowStore(cfg.WindowRetention, cfg.MaxWindowMinutes, now)
	if err != nil {
		return nil, err
	}
	leaderboard, err := NewLeaderboard(cfg.LeaderboardSize)
	if err != nil {
		return nil, err
	}
	tallies, err := NewTallyStore(cfg.TallyTTL, cfg.TallySlidingExpiry, now)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Window:      window,
		Leaderboard: leaderboard,
		Tallies:     tallies,
		Totals:      NewRunningTotals(),
	}, nil
}

// RunJanitor sweeps expired buckets and tallies every interval until ctx is done.
func (s *Stores) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stores) sweep() {
	buckets := s.Window.Sweep()
	tallies := s.Tallies.Sweep()
	if buckets > 0 || tallies > 0 {
		zap.L().Debug("Swept expired metrics",
			zap.Int("buckets", buckets),
			zap.Int("tallies", tallies))
	}
}

// Close makes every store fail fast with exception.ErrCacheUnavailable.
func (s *Stores) Close() {
	s.Window.close()
	s.Leaderboard.close()
	s.Tallies.close()
	s.Totals.close()
}
