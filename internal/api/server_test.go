package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"order-metrics/config"
	"order-metrics/internal/broadcast"
	"order-metrics/internal/metrics"
	"order-metrics/internal/snapshot"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistorian struct {
	hours      int
	rolledHour time.Time
}

func (f *fakeHistorian) GetHistoricalData(_ context.Context, hours int) ([]models.HourlyAggregate, error) {
	f.hours = hours
	return []models.HourlyAggregate{{TotalOrders: 4, TotalRevenue: 40, ActiveUsers: 2}}, nil
}

func (f *fakeHistorian) EnhancedMetrics(context.Context) (models.EnhancedMetrics, error) {
	return models.EnhancedMetrics{Daily: models.DailySummary{OrdersToday: 9}}, nil
}

func (f *fakeHistorian) WeeklyTrends(context.Context) ([]models.DailyTrend, error) {
	return []models.DailyTrend{{Date: "2024-03-01", Orders: 5}}, nil
}

func (f *fakeHistorian) Performance(_ context.Context, period string) (models.PerformanceSummary, error) {
	if period != "today" {
		return models.PerformanceSummary{}, fmt.Errorf("%w: unknown period %q", exception.ErrInvalidArgument, period)
	}
	return models.PerformanceSummary{Period: period, TotalOrders: 24}, nil
}

func (f *fakeHistorian) RollupHour(_ context.Context, hour time.Time) (models.HourlyAggregate, error) {
	f.rolledHour = hour
	return models.HourlyAggregate{HourTimestamp: hour.Truncate(time.Hour), TotalOrders: 1}, nil
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	stores    *metrics.Stores
	history   *fakeHistorian
	broadcast *broadcast.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stores, err := metrics.NewStores(config.Default().Metrics, nil)
	require.NoError(t, err)
	assembler := snapshot.NewAssembler(stores, nil)
	bc := broadcast.NewService(assembler, time.Hour)
	t.Cleanup(bc.Close)

	history := &fakeHistorian{}
	srv := NewServer(assembler, stores, history, bc)
	return &testEnv{server: srv, handler: srv.Router(), stores: stores, history: history, broadcast: bc}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func seed(t *testing.T, s *metrics.Stores) {
	t.Helper()
	for _, o := range []struct {
		product, status string
		amount          float64
	}{{"X", "pending", 100}, {"X", "confirmed", 50}} {
		require.NoError(t, s.Window.IncrementOrders())
		require.NoError(t, s.Window.IncrementRevenue(o.amount))
		require.NoError(t, s.Leaderboard.RecordProduct(o.product))
		require.NoError(t, s.Tallies.Increment(metrics.DimensionStatus, o.status))
		require.NoError(t, s.Tallies.Increment(metrics.DimensionPaymentMethod, "card"))
		require.NoError(t, s.Tallies.Increment(metrics.DimensionLocation, "Hanoi"))
		require.NoError(t, s.Totals.AddOrder(o.amount))
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestLiveMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.stores)

	var snap models.Snapshot
	rec := env.do(t, http.MethodGet, "/api/metrics/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &snap)
	assert.Equal(t, int64(2), snap.Overview.Totals.Orders)
	assert.Equal(t, []models.ProductRank{{Name: "X", Orders: 2}}, snap.Products)

	var overview overviewResponse
	rec = env.do(t, http.MethodGet, "/api/metrics/overview")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &overview)
	assert.InDelta(t, 150.0, overview.Totals.Revenue, 1e-9)
	assert.False(t, overview.Timestamp.IsZero())

	var products []models.ProductRank
	decode(t, env.do(t, http.MethodGet, "/api/metrics/products"), &products)
	assert.Equal(t, []models.ProductRank{{Name: "X", Orders: 2}}, products)

	var payments []models.TallyEntry
	decode(t, env.do(t, http.MethodGet, "/api/metrics/payments"), &payments)
	assert.Equal(t, []models.TallyEntry{{Value: "card", Orders: 2}}, payments)

	var statuses []models.TallyEntry
	decode(t, env.do(t, http.MethodGet, "/api/metrics/tally/statuses"), &statuses)
	assert.Len(t, statuses, 2)
}

func TestWindowEndpoints(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.stores)

	var orders struct {
		WindowMinutes int   `json:"windowMinutes"`
		Orders        int64 `json:"orders"`
	}
	rec := env.do(t, http.MethodGet, "/api/metrics/orders?window=5")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &orders)
	assert.Equal(t, 5, orders.WindowMinutes)
	assert.Equal(t, int64(2), orders.Orders)

	var revenue struct {
		Revenue float64 `json:"revenue"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/metrics/revenue?window=15"), &revenue)
	assert.InDelta(t, 150.0, revenue.Revenue, 1e-9)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/metrics/orders?window=16").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/metrics/revenue?window=abc").Code)
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/metrics/tally/colours")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	assert.Equal(t, http.StatusBadRequest, body.Error.Status)
	assert.Contains(t, body.Error.Message, "colours")

	env.stores.Close()
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/metrics/snapshot").Code)
}

func TestHistoricalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var hourly struct {
		Data   []models.HourlyAggregate `json:"data"`
		Period string                   `json:"period"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/historical/hourly"), &hourly)
	assert.Equal(t, 24, env.history.hours)
	assert.Equal(t, "24 hours", hourly.Period)
	require.Len(t, hourly.Data, 1)

	decode(t, env.do(t, http.MethodGet, "/api/historical/hourly/48"), &hourly)
	assert.Equal(t, 48, env.history.hours)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/historical/hourly/zero").Code)

	var enhanced models.EnhancedMetrics
	decode(t, env.do(t, http.MethodGet, "/api/historical/enhanced-metrics"), &enhanced)
	assert.Equal(t, int64(9), enhanced.Daily.OrdersToday)

	var trends struct {
		Trends []models.DailyTrend `json:"trends"`
		Period string              `json:"period"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/historical/trends/weekly"), &trends)
	assert.Equal(t, "7 days", trends.Period)
	assert.Len(t, trends.Trends, 1)

	var perf struct {
		Period  string                    `json:"period"`
		Summary models.PerformanceSummary `json:"summary"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/historical/performance/today"), &perf)
	assert.Equal(t, int64(24), perf.Summary.TotalOrders)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/historical/performance/decade").Code)
}

func TestRollupEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/historical/rollup?hour=2024-03-01T10:20:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.history.rolledHour.Equal(time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC)))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/historical/rollup?hour=yesterday").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/historical/rollup").Code)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebsocketFeed(t *testing.T) {
	env := newTestEnv(t)
	seed(t, env.stores)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, broadcast.EventAll, first.Event)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, int64(2), snap.Overview.Totals.Orders)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": broadcast.RequestProducts}))
	reply := readFrame(t, conn)
	assert.Equal(t, broadcast.EventProducts, reply.Event)
	var products []models.ProductRank
	require.NoError(t, json.Unmarshal(reply.Data, &products))
	assert.Equal(t, []models.ProductRank{{Name: "X", Orders: 2}}, products)

	require.Eventually(t, func() bool { return env.broadcast.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.broadcast.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
