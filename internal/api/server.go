package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"order-metrics/internal/broadcast"
	"order-metrics/internal/metrics"
	"order-metrics/internal/snapshot"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Historian answers queries over the durable hourly rollups.
type Historian interface {
	GetHistoricalData(ctx context.Context, hours int) ([]models.HourlyAggregate, error)
	EnhancedMetrics(ctx context.Context) (models.EnhancedMetrics, error)
	WeeklyTrends(ctx context.Context) ([]models.DailyTrend, error)
	Performance(ctx context.Context, period string) (models.PerformanceSummary, error)
	RollupHour(ctx context.Context, hour time.Time) (models.HourlyAggregate, error)
}

// Server exposes live metrics, historical rollups and the websocket feed.
type Server struct {
	assembler *snapshot.Assembler
	stores    *metrics.Stores
	history   Historian
	broadcast *broadcast.Service
	upgrader  websocket.Upgrader
	now       func() time.Time
}

func NewServer(assembler *snapshot.Assembler, stores *metrics.Stores, history Historian, bc *broadcast.Service) *Server {
	return &Server{
		assembler: assembler,
		stores:    stores,
		history:   history,
		broadcast: bc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": s.now().UTC()})
	})
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api/metrics", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/overview", s.handleOverview)
		r.Get("/products", s.handleProducts)
		r.Get("/locations", s.handleTally(metrics.DimensionLocation))
		r.Get("/payments", s.handleTally(metrics.DimensionPaymentMethod))
		r.Get("/status", s.handleTally(metrics.DimensionStatus))
		r.Get("/tally/{dimension}", s.handleTallyByName)
		r.Get("/orders", s.handleOrdersWindow)
		r.Get("/revenue", s.handleRevenueWindow)
	})

	r.Route("/api/historical", func(r chi.Router) {
		r.Get("/hourly", s.handleHourly)
		r.Get("/hourly/{hours}", s.handleHourly)
		r.Get("/enhanced-metrics", s.handleEnhancedMetrics)
		r.Get("/trends/weekly", s.handleWeeklyTrends)
		r.Get("/performance/{period}", s.handlePerformance)
		r.Post("/rollup", s.handleRollup)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}

// writeFailure maps err to a status code by its sentinel.
func writeFailure(w http.ResponseWriter, what string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exception.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, exception.ErrCacheUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed", zap.String("operation", what), zap.Error(err))
	}
	writeError(w, status, "failed to fetch %s: %v", what, err)
}
