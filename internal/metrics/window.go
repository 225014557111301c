package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"order-metrics/pkg/exception"

	"go.uber.org/zap"
)

type minuteBucket struct {
	value     atomic.Int64
	expiresAt atomic.Int64 // unix nanos
}

func (b *minuteBucket) live(now time.Time) bool {
	return b.expiresAt.Load() > now.UnixNano()
}

// WindowStore keeps 1-minute order and revenue buckets. Buckets expire `retention` after
// their last increment, so reads of any window up to maxWindow minutes are complete.
// Reads are lock-free and never block writers.
type WindowStore struct {
	buckets   sync.Map // bucketKey -> *minuteBucket
	retention time.Duration
	maxWindow int
	now       Clock
	closed    atomic.Bool
}

// NewWindowStore fails unless retention covers the longest window plus the partial
// current minute.
func NewWindowStore(retention time.Duration, maxWindowMinutes int, now Clock) (*WindowStore, error) {
	if maxWindowMinutes < 1 {
		return nil, fmt.Errorf("%w: max window must be at least 1 minute, got %d", exception.ErrInvalidArgument, maxWindowMinutes)
	}
	if minimum := time.Duration(maxWindowMinutes+1) * time.Minute; retention < minimum {
		return nil, fmt.Errorf("%w: bucket retention %s is shorter than %s needed by a %d minute window",
			exception.ErrInvalidArgument, retention, minimum, maxWindowMinutes)
	}
	if now == nil {
		now = time.Now
	}
	return &WindowStore{
		retention: retention,
		maxWindow: maxWindowMinutes,
		now:       now,
	}, nil
}

// IncrementOrders adds one order to the current minute.
func (s *WindowStore) IncrementOrders() error {
	return s.add(KindOrders, 1)
}

// IncrementRevenue adds amount to the current minute's revenue.
func (s *WindowStore) IncrementRevenue(amount float64) error {
	units, err := toRevenueUnits(amount)
	if err != nil {
		return err
	}
	return s.add(KindRevenue, units)
}

// SumOrders counts orders in the current minute and the windowMinutes-1 before it.
func (s *WindowStore) SumOrders(windowMinutes int) (int64, error) {
	return s.sum(KindOrders, windowMinutes)
}

// SumRevenue totals revenue over the same span as SumOrders.
func (s *WindowStore) SumRevenue(windowMinutes int) (float64, error) {
	units, err := s.sum(KindRevenue, windowMinutes)
	if err != nil {
		return 0, err
	}
	return fromRevenueUnits(units), nil
}

// MaxWindow is the longest window, in minutes, the store answers.
func (s *WindowStore) MaxWindow() int {
	return s.maxWindow
}

func (s *WindowStore) add(kind MetricKind, delta int64) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: window store closed", exception.ErrCacheUnavailable)
	}

	now := s.now()
	expiresAt := now.Add(s.retention).UnixNano()
	key := newBucketKey(kind, MinuteOf(now))
	v, ok := s.buckets.Load(key)
	if !ok {
		// published already live, so Sweep never sees it expired
		nb := &minuteBucket{}
		nb.expiresAt.Store(expiresAt)
		v, _ = s.buckets.LoadOrStore(key, nb)
	}
	b := v.(*minuteBucket)
	b.expiresAt.Store(expiresAt)
	b.value.Add(delta)
	return nil
}

func (s *WindowStore) sum(kind MetricKind, windowMinutes int) (int64, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: window store closed", exception.ErrCacheUnavailable)
	}
	if windowMinutes < 1 || windowMinutes > s.maxWindow {
		return 0, fmt.Errorf("%w: window %d outside [1, %d] minutes", exception.ErrInvalidArgument, windowMinutes, s.maxWindow)
	}

	now := s.now()
	current := MinuteOf(now)
	var total int64
	for i := 0; i < windowMinutes; i++ {
		v, ok := s.buckets.Load(newBucketKey(kind, current-MinuteIndex(i)))
		if !ok {
			continue
		}
		if b := v.(*minuteBucket); b.live(now) {
			total += b.value.Load()
		}
	}
	return total, nil
}

// Sweep drops expired buckets and reports how many were removed. Only past minutes can
// expire, and those are never written again, so deleting them cannot lose an increment.
func (s *WindowStore) Sweep() int {
	now := s.now()
	removed := 0
	s.buckets.Range(func(k, v any) bool {
		if !v.(*minuteBucket).live(now) && s.buckets.CompareAndDelete(k, v) {
			zap.L().Debug("Expired minute bucket", zap.Stringer("key", k.(bucketKey)))
			removed++
		}
		return true
	})
	return removed
}

// Len is the number of buckets held, expired or not.
func (s *WindowStore) Len() int {
	n := 0
	s.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *WindowStore) close() {
	s.closed.Store(true)
}
