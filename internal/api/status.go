package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/forestwatch/internal/datastore"
)

const defaultHistoryLimit = 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	ModelKind      string    `json:"model_kind"`
	ModelReady     bool      `json:"model_ready"`
	Version        string    `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	HistoryEnabled bool      `json:"history_enabled"`
}

// handleHealth always answers 200. An unloaded model shows as degraded.
func (s *Server) handleHealth(c echo.Context) error {
	ready := s.predictor.ModelReady()
	status := "healthy"
	if !ready {
		status = "degraded"
	}

	now := time.Now()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:         status,
		ModelKind:      s.predictor.ModelKind(),
		ModelReady:     ready,
		Version:        s.build.Version(),
		Timestamp:      now.UTC(),
		UptimeSeconds:  int64(now.Sub(s.startTime).Seconds()),
		HistoryEnabled: s.history != nil,
	})
}

// HistoryResponse is the body of GET /api/v1/predictions.
type HistoryResponse struct {
	Predictions []datastore.PredictionRecord `json:"predictions"`
	Total       int64                        `json:"total"`
}

// handleHistory lists recent predictions, newest first.
func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "prediction history is disabled"})
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > datastore.MaxRecentLimit {
			return badRequest(c, "limit must be an integer between 1 and "+strconv.Itoa(datastore.MaxRecentLimit))
		}
		limit = n
	}

	ctx := c.Request().Context()
	records, err := s.history.RecentPredictions(ctx, limit)
	if err != nil {
		return s.internalError(c, err, "failed to read prediction history")
	}
	total, err := s.history.CountPredictions(ctx)
	if err != nil {
		return s.internalError(c, err, "failed to count prediction history")
	}
	if records == nil {
		records = []datastore.PredictionRecord{}
	}

	return c.JSON(http.StatusOK, HistoryResponse{Predictions: records, Total: total})
}
