package aggregator

import (
	"context"
	"fmt"
	"time"

	"order-metrics/internal/postgres"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mirror receives each recomputed hourly aggregate after it has been committed.
type Mirror interface {
	InsertHourlyAggregate(ctx context.Context, agg models.HourlyAggregate) error
}

// Aggregator owns the durable side of order processing: the orders and payments rows and
// the hourly rollups derived from them.
type Aggregator struct {
	db     *gorm.DB
	mirror Mirror
	now    func() time.Time
}

type Option func(*Aggregator)

func WithMirror(m Mirror) Option {
	return func(a *Aggregator) { a.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(db *gorm.DB, opts ...Option) *Aggregator {
	a := &Aggregator{db: db, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PersistOrder stores the order and its payment in one transaction and reports whether
// the order row was new. A redelivered order inserts nothing.
func (a *Aggregator) PersistOrder(ctx context.Context, order models.Order) (bool, error) {
	if order.ID == "" || order.UserID == "" {
		return false, fmt.Errorf("%w: order id and user id are required", exception.ErrPersistence)
	}

	inserted := false
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := postgres.NewOrderRecord(order)
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil {
			return fmt.Errorf("insert order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		payment := postgres.NewPaymentRecord(order)
		if err := tx.Create(&payment).Error; err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: order %s: %w", exception.ErrPersistence, order.ID, err)
	}

	if inserted {
		zap.L().Debug("Stored order", zap.String("order_id", order.ID))
	} else {
		zap.L().Debug("Order already stored", zap.String("order_id", order.ID))
	}
	return inserted, nil
}

type hourTotals struct {
	Revenue decimal.Decimal
	Orders  int64
	Users   int64
}

// RollupHour recomputes the aggregate for the UTC hour containing hour and upserts it.
// Running it any number of times over unchanged orders yields the same row.
func (a *Aggregator) RollupHour(ctx context.Context, hour time.Time) (models.HourlyAggregate, error) {
	start := hour.UTC().Truncate(time.Hour)
	end := start.Add(time.Hour)

	var rec postgres.HourlyRecord
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var totals hourTotals
		err := tx.Raw(`
			SELECT
				COALESCE(SUM(amount), 0) AS revenue,
				COUNT(*) AS orders,
				COUNT(DISTINCT user_id) AS users
			FROM orders
			WHERE created_at >= ? AND created_at < ?
		`, start, end).Scan(&totals).Error
		if err != nil {
			return fmt.Errorf("aggregate orders: %w", err)
		}

		rec = postgres.HourlyRecord{
			HourTimestamp: start,
			TotalRevenue:  totals.Revenue.Round(2),
			TotalOrders:   totals.Orders,
			ActiveUsers:   totals.Users,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hour_timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_revenue", "total_orders", "active_users"}),
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("upsert aggregate: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.HourlyAggregate{}, fmt.Errorf("%w: hour %s: %w", exception.ErrRollup, start.Format(time.RFC3339), err)
	}

	agg := rec.ToModel()
	zap.L().Info("Updated hourly analytics",
		zap.Time("hour", start),
		zap.Int64("orders", agg.TotalOrders),
		zap.Float64("revenue", agg.TotalRevenue),
		zap.Int64("active_users", agg.ActiveUsers))

	if a.mirror != nil {
		if err := a.mirror.InsertHourlyAggregate(ctx, agg); err != nil {
			zap.L().Warn("Failed to mirror hourly aggregate", zap.Time("hour", start), zap.Error(err))
		}
	}
	return agg, nil
}
