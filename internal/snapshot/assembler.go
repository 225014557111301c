package snapshot

import (
	"context"
	"time"

	"order-metrics/internal/metrics"
	"order-metrics/models"

	"golang.org/x/sync/errgroup"
)

const (
	TopProducts   = 10
	recentMinutes = 5
)

// Assembler composes read-only views over the live stores. Each source is read
// independently, so a snapshot taken under load may count an order in one view and not
// yet in another.
type Assembler struct {
	stores *metrics.Stores
	now    func() time.Time
}

func NewAssembler(stores *metrics.Stores, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{stores: stores, now: now}
}

// Assemble reads every view concurrently and stamps the capture time.
func (a *Assembler) Assemble(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Overview, err = a.Overview(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Products, err = a.Products(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Locations, err = a.Tally(ctx, metrics.DimensionLocation)
		return err
	})
	g.Go(func() (err error) {
		snap.Payments, err = a.Tally(ctx, metrics.DimensionPaymentMethod)
		return err
	})
	g.Go(func() (err error) {
		snap.Statuses, err = a.Tally(ctx, metrics.DimensionStatus)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Snapshot{}, err
	}

	snap.Timestamp = a.now().UTC()
	return snap, nil
}

// Overview is the all-time totals plus order and revenue rates over the last 1 and 5 minutes.
func (a *Assembler) Overview(ctx context.Context) (models.Overview, error) {
	var (
		ov    models.Overview
		w     = a.stores.Window
		g, gc = errgroup.WithContext(ctx)
	)
	g.Go(func() (err error) {
		if err = gc.Err(); err != nil {
			return err
		}
		ov.Totals, err = a.stores.Totals.Snapshot()
		return err
	})
	g.Go(func() (err error) {
		ov.RecentActivity.OrdersLastMinute, err = w.SumOrders(1)
		return err
	})
	g.Go(func() (err error) {
		ov.RecentActivity.OrdersLast5Minutes, err = w.SumOrders(recentMinutes)
		return err
	})
	g.Go(func() (err error) {
		ov.RecentActivity.RevenueLastMinute, err = w.SumRevenue(1)
		return err
	})
	g.Go(func() (err error) {
		ov.RecentActivity.RevenueLast5Minute, err = w.SumRevenue(recentMinutes)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Overview{}, err
	}
	return ov, nil
}

func (a *Assembler) Products(ctx context.Context) ([]models.ProductRank, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.stores.Leaderboard.TopN(TopProducts)
}

// Tally is one dimension ranked by count.
func (a *Assembler) Tally(ctx context.Context, dim metrics.Dimension) ([]models.TallyEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.stores.Tallies.Ranked(dim)
}
