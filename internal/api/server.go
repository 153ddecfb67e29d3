package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer builds the echo instance: panic recovery, request logging,
// the event routes and, if staticDir is set, the map front-end.
func NewServer(logger *slog.Logger, h *Handler, staticDir string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Error("HTTP request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("HTTP request", attrs...)
			return nil
		},
	}))

	h.Register(e)

	if staticDir != "" {
		e.Static("/", staticDir)
	}
	return e
}
