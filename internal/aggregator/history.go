package aggregator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"order-metrics/internal/postgres"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	topProductsLimit = 10
	trendDays        = 7
)

var periodHours = map[string]int{
	"today": 24,
	"week":  24 * 7,
	"month": 24 * 30,
}

// GetHistoricalData returns the hourly aggregates of the last `hours` hours, newest first.
func (a *Aggregator) GetHistoricalData(ctx context.Context, hours int) ([]models.HourlyAggregate, error) {
	if hours < 1 {
		return nil, fmt.Errorf("%w: hours must be positive, got %d", exception.ErrInvalidArgument, hours)
	}
	since := a.now().UTC().Add(-time.Duration(hours) * time.Hour)

	var recs []postgres.HourlyRecord
	err := a.db.WithContext(ctx).
		Where("hour_timestamp >= ?", since).
		Order("hour_timestamp DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: historical data: %w", exception.ErrPersistence, err)
	}

	out := make([]models.HourlyAggregate, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ToModel())
	}
	return out, nil
}

type dailyRow struct {
	Orders  int64
	Revenue decimal.Decimal
	Users   int64
}

type productRow struct {
	ProductID  string
	OrderCount int64
	Revenue    decimal.Decimal
}

// EnhancedMetrics summarises today's orders (UTC day) and the best-selling products of
// the last week, both read straight from the orders table.
func (a *Aggregator) EnhancedMetrics(ctx context.Context) (models.EnhancedMetrics, error) {
	now := a.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	weekAgo := now.Add(-trendDays * 24 * time.Hour)

	var daily dailyRow
	var products []productRow

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.db.WithContext(gctx).Raw(`
			SELECT
				COUNT(*) AS orders,
				COALESCE(SUM(amount), 0) AS revenue,
				COUNT(DISTINCT user_id) AS users
			FROM orders
			WHERE created_at >= ? AND created_at < ?
		`, dayStart, dayStart.Add(24*time.Hour)).Scan(&daily).Error
	})
	g.Go(func() error {
		return a.db.WithContext(gctx).Raw(`
			SELECT
				product_id,
				COUNT(*) AS order_count,
				COALESCE(SUM(amount), 0) AS revenue
			FROM orders
			WHERE created_at >= ?
			GROUP BY product_id
			ORDER BY order_count DESC, product_id ASC
			LIMIT ?
		`, weekAgo, topProductsLimit).Scan(&products).Error
	})
	if err := g.Wait(); err != nil {
		return models.EnhancedMetrics{}, fmt.Errorf("%w: enhanced metrics: %w", exception.ErrPersistence, err)
	}

	summary := models.DailySummary{
		OrdersToday:     daily.Orders,
		RevenueToday:    daily.Revenue.Round(2).InexactFloat64(),
		UniqueCustomers: daily.Users,
	}
	if daily.Orders > 0 {
		summary.AvgOrderValue = daily.Revenue.Div(decimal.NewFromInt(daily.Orders)).Round(2).InexactFloat64()
	}

	top := make([]models.ProductSales, 0, len(products))
	for _, p := range products {
		top = append(top, models.ProductSales{
			ProductID:    p.ProductID,
			OrderCount:   p.OrderCount,
			TotalRevenue: p.Revenue.Round(2).InexactFloat64(),
		})
	}

	return models.EnhancedMetrics{Daily: summary, TopProducts: top, Timestamp: now}, nil
}

// WeeklyTrends folds the last seven days of hourly aggregates into one row per UTC day,
// oldest first.
func (a *Aggregator) WeeklyTrends(ctx context.Context) ([]models.DailyTrend, error) {
	hourly, err := a.GetHistoricalData(ctx, trendDays*24)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*models.DailyTrend)
	revenue := make(map[string]decimal.Decimal)
	for _, h := range hourly {
		day := h.HourTimestamp.UTC().Format(time.DateOnly)
		t, ok := byDay[day]
		if !ok {
			t = &models.DailyTrend{Date: day}
			byDay[day] = t
		}
		t.Orders += h.TotalOrders
		t.ActiveUsers += h.ActiveUsers
		revenue[day] = revenue[day].Add(decimal.NewFromFloat(h.TotalRevenue))
	}

	trends := make([]models.DailyTrend, 0, len(byDay))
	for day, t := range byDay {
		t.Revenue = revenue[day].Round(2).InexactFloat64()
		trends = append(trends, *t)
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Date < trends[j].Date })
	return trends, nil
}

// Performance summarises a period of "today", "week" or "month" from hourly aggregates.
func (a *Aggregator) Performance(ctx context.Context, period string) (models.PerformanceSummary, error) {
	hours, ok := periodHours[period]
	if !ok {
		return models.PerformanceSummary{}, fmt.Errorf("%w: unknown period %q", exception.ErrInvalidArgument, period)
	}

	hourly, err := a.GetHistoricalData(ctx, hours)
	if err != nil {
		return models.PerformanceSummary{}, err
	}

	summary := models.PerformanceSummary{Period: period}
	revenue := decimal.Zero
	for _, h := range hourly {
		summary.TotalOrders += h.TotalOrders
		revenue = revenue.Add(decimal.NewFromFloat(h.TotalRevenue))
		// first of equals wins, rows are newest first
		if summary.PeakHour == nil || h.TotalOrders > summary.PeakHour.Orders {
			summary.PeakHour = &models.PeakHour{Timestamp: h.HourTimestamp, Orders: h.TotalOrders}
		}
	}
	summary.TotalRevenue = revenue.Round(2).InexactFloat64()
	summary.AverageOrdersPerHour = int64(math.Round(float64(summary.TotalOrders) / float64(hours)))
	return summary, nil
}
