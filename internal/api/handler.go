// Package api exposes the aggregated events over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fieldmap/internal/export"
	"fieldmap/internal/models"

	"github.com/labstack/echo/v4"
)

// Aggregator produces the enriched events for a window.
type Aggregator interface {
	Aggregate(ctx context.Context, w models.TimeWindow) ([]models.EnrichedEvent, error)
}

// Handler serves the event endpoints.
type Handler struct {
	agg    Aggregator
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(agg Aggregator, logger *slog.Logger) *Handler {
	return &Handler{agg: agg, logger: logger, now: time.Now}
}

// Register mounts the handler's routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/api/events", h.ListEvents)
	e.GET("/api/events.ics", h.ExportEvents)
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// ListEvents handles GET /api/events?timeMin=...&timeMax=...
func (h *Handler) ListEvents(c echo.Context) error {
	events, status, err := h.aggregate(c)
	if err != nil {
		return c.String(status, err.Error())
	}
	return c.JSON(http.StatusOK, events)
}

// ExportEvents handles GET /api/events.ics with the same parameters,
// answering 204 when nothing in the window could be placed on the map.
func (h *Handler) ExportEvents(c echo.Context) error {
	events, status, err := h.aggregate(c)
	if err != nil {
		return c.String(status, err.Error())
	}

	var buf bytes.Buffer
	if err := export.WriteICS(&buf, events, h.now()); err != nil {
		if errors.Is(err, export.ErrNoEvents) {
			return c.NoContent(http.StatusNoContent)
		}
		h.logger.Error("Failed to export events", "error", err)
		return c.String(http.StatusInternalServerError, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="events.ics"`)
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

// aggregate validates the window and runs the aggregation. On failure it
// returns the status code to answer with.
func (h *Handler) aggregate(c echo.Context) ([]models.EnrichedEvent, int, error) {
	w, err := models.ParseTimeWindow(c.QueryParam("timeMin"), c.QueryParam("timeMax"))
	if err != nil {
		h.logger.Info("Rejected events query", "error", err)
		return nil, http.StatusBadRequest, err
	}

	events, err := h.agg.Aggregate(c.Request().Context(), w)
	if err != nil {
		h.logger.Error("Aggregation failed", "error", err)
		return nil, http.StatusInternalServerError, err
	}
	return events, http.StatusOK, nil
}
