package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"order-metrics/internal/postgres"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_time_format=sqlite"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps every query on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, postgres.Migrate(db))
	return db
}

func newTestAggregator(t *testing.T, opts ...Option) (*Aggregator, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(db, opts...), db
}

func testOrder(id, user string, amount float64, ts time.Time) models.Order {
	return models.Order{
		ID:               id,
		UserID:           user,
		Product:          models.Product{ID: "prod-" + id, Name: "Widget"},
		Pricing:          models.Pricing{FinalAmount: amount},
		Status:           "pending",
		PaymentMethod:    "card",
		ShippingLocation: "Hanoi",
		Quantity:         1,
		Timestamp:        ts,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type recordingMirror struct {
	m    sync.Mutex
	aggs []models.HourlyAggregate
	err  error
}

func (r *recordingMirror) InsertHourlyAggregate(_ context.Context, agg models.HourlyAggregate) error {
	r.m.Lock()
	defer r.m.Unlock()
	r.aggs = append(r.aggs, agg)
	return r.err
}

func TestPersistOrderInsertsOrderAndPayment(t *testing.T) {
	agg, db := newTestAggregator(t)
	ctx := context.Background()

	inserted, err := agg.PersistOrder(ctx, testOrder("o-1", "u-1", 99.5, testNow))
	require.NoError(t, err)
	assert.True(t, inserted)

	var payment postgres.PaymentRecord
	require.NoError(t, db.First(&payment, "order_id = ?", "o-1").Error)
	assert.Equal(t, postgres.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "card", payment.Method)
	assert.True(t, payment.ProcessedAt.Equal(testNow))
	assert.Equal(t, int64(1), countRows(t, db, &postgres.OrderRecord{}))
}

func TestPersistOrderTwiceStoresOnce(t *testing.T) {
	agg, db := newTestAggregator(t)
	ctx := context.Background()
	order := testOrder("o-1", "u-1", 10, testNow)

	inserted, err := agg.PersistOrder(ctx, order)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = agg.PersistOrder(ctx, order)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Equal(t, int64(1), countRows(t, db, &postgres.OrderRecord{}))
	assert.Equal(t, int64(1), countRows(t, db, &postgres.PaymentRecord{}))
}

func TestPersistOrderRequiresIDs(t *testing.T) {
	agg, db := newTestAggregator(t)

	_, err := agg.PersistOrder(context.Background(), testOrder("", "u-1", 10, testNow))
	assert.ErrorIs(t, err, exception.ErrPersistence)
	assert.Zero(t, countRows(t, db, &postgres.OrderRecord{}))
}

func TestPersistOrderRollsBackOnPaymentFailure(t *testing.T) {
	agg, db := newTestAggregator(t)
	require.NoError(t, db.Migrator().DropTable(&postgres.PaymentRecord{}))

	_, err := agg.PersistOrder(context.Background(), testOrder("o-1", "u-1", 10, testNow))
	assert.ErrorIs(t, err, exception.ErrPersistence)
	assert.Zero(t, countRows(t, db, &postgres.OrderRecord{}))
}

func TestRollupHourIsIdempotent(t *testing.T) {
	mirror := &recordingMirror{}
	agg, db := newTestAggregator(t, WithMirror(mirror))
	ctx := context.Background()
	hour := testNow.Truncate(time.Hour)

	for i, o := range []models.Order{
		testOrder("o-1", "u-1", 10.10, hour),
		testOrder("o-2", "u-1", 20.20, hour.Add(15*time.Minute)),
		testOrder("o-3", "u-2", 30.30, hour.Add(59*time.Minute+59*time.Second)),
		testOrder("o-4", "u-3", 1000, hour.Add(time.Hour)),
		testOrder("o-5", "u-3", 1000, hour.Add(-time.Second)),
	} {
		_, err := agg.PersistOrder(ctx, o)
		require.NoError(t, err, i)
	}

	first, err := agg.RollupHour(ctx, hour.Add(20*time.Minute))
	require.NoError(t, err)
	second, err := agg.RollupHour(ctx, hour)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.HourTimestamp.Equal(hour))
	assert.Equal(t, int64(3), first.TotalOrders)
	assert.Equal(t, int64(2), first.ActiveUsers)
	assert.InDelta(t, 60.60, first.TotalRevenue, 1e-9)
	assert.Equal(t, int64(1), countRows(t, db, &postgres.HourlyRecord{}))

	require.Len(t, mirror.aggs, 2)
	assert.Equal(t, first, mirror.aggs[0])
}

func TestRollupHourUpdatesExistingRow(t *testing.T) {
	agg, db := newTestAggregator(t)
	ctx := context.Background()
	hour := testNow.Truncate(time.Hour)

	_, err := agg.PersistOrder(ctx, testOrder("o-1", "u-1", 5, hour))
	require.NoError(t, err)
	_, err = agg.RollupHour(ctx, hour)
	require.NoError(t, err)

	_, err = agg.PersistOrder(ctx, testOrder("o-2", "u-2", 7, hour.Add(time.Minute)))
	require.NoError(t, err)
	got, err := agg.RollupHour(ctx, hour)
	require.NoError(t, err)

	assert.Equal(t, int64(2), got.TotalOrders)
	assert.InDelta(t, 12.0, got.TotalRevenue, 1e-9)
	assert.Equal(t, int64(1), countRows(t, db, &postgres.HourlyRecord{}))
}

func TestRollupHourEmptyHour(t *testing.T) {
	agg, _ := newTestAggregator(t)

	got, err := agg.RollupHour(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, got.TotalOrders)
	assert.Zero(t, got.TotalRevenue)
}

func TestRollupHourMirrorFailureIsNotReturned(t *testing.T) {
	mirror := &recordingMirror{err: fmt.Errorf("clickhouse down")}
	agg, _ := newTestAggregator(t, WithMirror(mirror))

	_, err := agg.RollupHour(context.Background(), testNow)
	assert.NoError(t, err)
	assert.Len(t, mirror.aggs, 1)
}

func TestRollupHourFailure(t *testing.T) {
	agg, db := newTestAggregator(t)
	require.NoError(t, db.Migrator().DropTable(&postgres.OrderRecord{}))

	_, err := agg.RollupHour(context.Background(), testNow)
	assert.ErrorIs(t, err, exception.ErrRollup)
}
