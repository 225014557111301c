package metrics

import (
	"fmt"
	"sync/atomic"

	"order-metrics/models"
	"order-metrics/pkg/exception"
)

type totalsValue struct {
	orders       int64
	revenueUnits int64
}

// RunningTotals holds the all-time (orders, revenue) pair. The pair is swapped as one
// value, so a reader never sees an order counted without its revenue.
type RunningTotals struct {
	v      atomic.Pointer[totalsValue]
	closed atomic.Bool
}

func NewRunningTotals() *RunningTotals {
	t := &RunningTotals{}
	t.v.Store(&totalsValue{})
	return t
}

// AddOrder counts one order worth revenue.
func (t *RunningTotals) AddOrder(revenue float64) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: running totals closed", exception.ErrCacheUnavailable)
	}
	units, err := toRevenueUnits(revenue)
	if err != nil {
		return err
	}

	for {
		old := t.v.Load()
		next := &totalsValue{orders: old.orders + 1, revenueUnits: old.revenueUnits + units}
		if t.v.CompareAndSwap(old, next) {
			return nil
		}
	}
}

func (t *RunningTotals) Snapshot() (models.Totals, error) {
	if t.closed.Load() {
		return models.Totals{}, fmt.Errorf("%w: running totals closed", exception.ErrCacheUnavailable)
	}
	v := t.v.Load()
	return models.Totals{Orders: v.orders, Revenue: fromRevenueUnits(v.revenueUnits)}, nil
}

func (t *RunningTotals) close() {
	t.closed.Store(true)
}
