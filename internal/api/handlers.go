package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"order-metrics/internal/metrics"
	"order-metrics/models"
	"order-metrics/pkg/exception"

	"github.com/go-chi/chi/v5"
)

const defaultHistoryHours = 24

type overviewResponse struct {
	models.Overview
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.assembler.Assemble(r.Context())
	if err != nil {
		writeFailure(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.assembler.Overview(r.Context())
	if err != nil {
		writeFailure(w, "overview", err)
		return
	}
	writeJSON(w, http.StatusOK, overviewResponse{Overview: ov, Timestamp: s.now().UTC()})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.assembler.Products(r.Context())
	if err != nil {
		writeFailure(w, "products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleTally(dim metrics.Dimension) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.assembler.Tally(r.Context(), dim)
		if err != nil {
			writeFailure(w, string(dim), err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleTallyByName(w http.ResponseWriter, r *http.Request) {
	dim, err := metrics.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		writeFailure(w, "tally", err)
		return
	}
	s.handleTally(dim)(w, r)
}

func (s *Server) handleOrdersWindow(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		writeFailure(w, "orders", err)
		return
	}
	orders, err := s.stores.Window.SumOrders(window)
	if err != nil {
		writeFailure(w, "orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windowMinutes": window, "orders": orders})
}

func (s *Server) handleRevenueWindow(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		writeFailure(w, "revenue", err)
		return
	}
	revenue, err := s.stores.Window.SumRevenue(window)
	if err != nil {
		writeFailure(w, "revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windowMinutes": window, "revenue": revenue})
}

func windowParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 1, nil
	}
	window, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: window %q is not a number", exception.ErrInvalidArgument, raw)
	}
	return window, nil
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	hours := defaultHistoryHours
	if raw := chi.URLParam(r, "hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer, got %q", raw)
			return
		}
		hours = n
	}

	data, err := s.history.GetHistoricalData(r.Context(), hours)
	if err != nil {
		writeFailure(w, "historical data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   data,
		"period": fmt.Sprintf("%d hours", hours),
	})
}

func (s *Server) handleEnhancedMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.history.EnhancedMetrics(r.Context())
	if err != nil {
		writeFailure(w, "enhanced metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleWeeklyTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := s.history.WeeklyTrends(r.Context())
	if err != nil {
		writeFailure(w, "weekly trends", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": trends, "period": "7 days"})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	period := chi.URLParam(r, "period")
	summary, err := s.history.Performance(r.Context(), period)
	if err != nil {
		writeFailure(w, "performance data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "summary": summary})
}

func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	hour := s.now()
	if raw := r.URL.Query().Get("hour"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "hour must be RFC 3339: %v", err)
			return
		}
		hour = parsed
	}

	agg, err := s.history.RollupHour(r.Context(), hour)
	if err != nil {
		writeFailure(w, "rollup", err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}
