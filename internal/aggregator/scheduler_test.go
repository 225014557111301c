package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"order-metrics/config"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoller struct {
	m     sync.Mutex
	hours []time.Time
	err   error
	calls chan struct{}
}

func newFakeRoller() *fakeRoller {
	return &fakeRoller{calls: make(chan struct{}, 16)}
}

func (f *fakeRoller) RollupHour(_ context.Context, hour time.Time) (models.HourlyAggregate, error) {
	f.m.Lock()
	f.hours = append(f.hours, hour)
	f.m.Unlock()
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return models.HourlyAggregate{HourTimestamp: hour}, f.err
}

func (f *fakeRoller) seen() []time.Time {
	f.m.Lock()
	defer f.m.Unlock()
	return append([]time.Time(nil), f.hours...)
}

func TestSchedulerRunOnceRollsPreviousAndCurrentHour(t *testing.T) {
	roller := newFakeRoller()
	s := NewScheduler(roller, config.RollupConfig{Interval: time.Hour, EveryN: 10}, func() time.Time { return testNow })

	require.NoError(t, s.RunOnce(context.Background()))

	hour := testNow.Truncate(time.Hour)
	assert.Equal(t, []time.Time{hour.Add(-time.Hour), hour}, roller.seen())
}

func TestSchedulerRunOnceReportsEveryFailure(t *testing.T) {
	roller := newFakeRoller()
	roller.err = errors.Join(exception.ErrRollup, errors.New("db down"))
	s := NewScheduler(roller, config.RollupConfig{Interval: time.Hour}, func() time.Time { return testNow })

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrRollup)
	// both hours were still attempted
	assert.Len(t, roller.seen(), 2)
}

func TestSchedulerTriggersAfterEveryNOrders(t *testing.T) {
	roller := newFakeRoller()
	s := NewScheduler(roller, config.RollupConfig{Interval: time.Hour, EveryN: 3}, func() time.Time { return testNow })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	s.OrderPersisted()
	s.OrderPersisted()
	select {
	case <-roller.calls:
		t.Fatal("rollup ran before the third order")
	case <-time.After(50 * time.Millisecond):
	}

	s.OrderPersisted()
	for i := 0; i < 2; i++ {
		select {
		case <-roller.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("rollup was not triggered")
		}
	}
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	roller := newFakeRoller()
	s := NewScheduler(roller, config.RollupConfig{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-roller.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("interval rollup did not run")
	}
}

func TestSchedulerOrderPersistedNeverBlocks(t *testing.T) {
	s := NewScheduler(newFakeRoller(), config.RollupConfig{Interval: time.Hour, EveryN: 1}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.OrderPersisted()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OrderPersisted blocked without a running scheduler")
	}
}
