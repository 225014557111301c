package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"order-metrics/models"
	"order-metrics/pkg/exception"

	"go.uber.org/zap"
)

type tallyCounter struct {
	count     int64
	expiresAt time.Time
}

// TallyStore counts orders per (dimension, value) with a per-key expiry.
//
// With sliding expiry every increment pushes the key's expiry to now+ttl, so a value that
// keeps receiving orders never ages out and the count means "orders since this value was
// last idle for ttl". With fixed expiry the window starts at the first increment and the
// counter restarts from zero once it lapses.
type TallyStore struct {
	m        sync.RWMutex
	counters map[tallyKey]*tallyCounter
	ttl      time.Duration
	sliding  bool
	now      Clock
	closed   atomic.Bool
}

func NewTallyStore(ttl time.Duration, sliding bool, now Clock) (*TallyStore, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: tally ttl must be positive, got %s", exception.ErrInvalidArgument, ttl)
	}
	if now == nil {
		now = time.Now
	}
	return &TallyStore{
		counters: map[tallyKey]*tallyCounter{},
		ttl:      ttl,
		sliding:  sliding,
		now:      now,
	}, nil
}

// Increment adds one to (dim, value).
func (s *TallyStore) Increment(dim Dimension, value string) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: tally store closed", exception.ErrCacheUnavailable)
	}
	if !dim.valid() {
		return fmt.Errorf("%w: unknown dimension %q", exception.ErrInvalidArgument, dim)
	}

	now := s.now()
	key := newTallyKey(dim, value)

	s.m.Lock()
	defer s.m.Unlock()

	c, ok := s.counters[key]
	if !ok || !c.expiresAt.After(now) {
		c = &tallyCounter{expiresAt: now.Add(s.ttl)}
		s.counters[key] = c
	} else if s.sliding {
		c.expiresAt = now.Add(s.ttl)
	}
	c.count++
	return nil
}

// ListAll returns every live value of dim with its count, in no particular order.
func (s *TallyStore) ListAll(dim Dimension) ([]models.TallyEntry, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: tally store closed", exception.ErrCacheUnavailable)
	}
	if !dim.valid() {
		return nil, fmt.Errorf("%w: unknown dimension %q", exception.ErrInvalidArgument, dim)
	}

	now := s.now()
	s.m.RLock()
	defer s.m.RUnlock()

	entries := make([]models.TallyEntry, 0, 8)
	for k, c := range s.counters {
		if k.dim == dim && c.expiresAt.After(now) {
			entries = append(entries, models.TallyEntry{Value: k.value, Orders: c.count})
		}
	}
	return entries, nil
}

// Ranked is ListAll sorted by count descending.
func (s *TallyStore) Ranked(dim Dimension) ([]models.TallyEntry, error) {
	entries, err := s.ListAll(dim)
	if err != nil {
		return nil, err
	}
	models.SortTally(entries)
	return entries, nil
}

// Sweep drops expired counters and reports how many were removed.
func (s *TallyStore) Sweep() int {
	now := s.now()
	s.m.Lock()
	defer s.m.Unlock()

	removed := 0
	for k, c := range s.counters {
		if !c.expiresAt.After(now) {
			delete(s.counters, k)
			zap.L().Debug("Expired tally counter", zap.Stringer("key", k), zap.Int64("count", c.count))
			removed++
		}
	}
	return removed
}

func (s *TallyStore) Len() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.counters)
}

func (s *TallyStore) close() {
	s.closed.Store(true)
}
