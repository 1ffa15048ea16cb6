// Package api serves the device's local HTTP surface: health, session
// inspection and control, boot report and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/device/domain/entities"
	"github.com/satriahrh/arunika/device/internal/protocol"
	"github.com/satriahrh/arunika/device/usecase"
)

const commandTimeout = 2 * time.Second

// NewServer creates the echo instance with the standard middleware
func NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	return e
}

// InitRoutes initializes all API routes. metrics may be nil.
func InitRoutes(e *echo.Echo, session SessionController, reporter BootReporter, metrics http.Handler, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "arunika-device",
		})
	})

	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}

	v1 := e.Group("/api/v1")

	v1.GET("/session", func(c echo.Context) error {
		return c.JSON(http.StatusOK, session.Snapshot())
	})
	v1.POST("/session/abort", func(c echo.Context) error {
		return abortSession(c, session, logger)
	})
	v1.POST("/session/listen", func(c echo.Context) error {
		return listenSession(c, session, logger)
	})

	if reporter != nil {
		v1.GET("/boot", func(c echo.Context) error {
			return c.JSON(http.StatusOK, reporter.Report())
		})
	}
}

func abortSession(c echo.Context, session SessionController, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), commandTimeout)
	defer cancel()

	if err := session.Abort(ctx); err != nil {
		return commandError(c, err, logger)
	}
	logger.Info("Local abort executed")
	return c.JSON(http.StatusOK, CommandResponse{Status: "ok", Session: session.Snapshot()})
}

func listenSession(c echo.Context, session SessionController, logger *zap.Logger) error {
	var req ListenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	state := protocol.ListenState(req.State)
	if state != protocol.ListenStart && state != protocol.ListenStop {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_state",
			Message: `State must be "start" or "stop"`,
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), commandTimeout)
	defer cancel()

	if err := session.Listen(ctx, state); err != nil {
		return commandError(c, err, logger)
	}
	logger.Info("Local listen executed", zap.String("state", string(state)))
	return c.JSON(http.StatusOK, CommandResponse{Status: "ok", Session: session.Snapshot()})
}

func commandError(c echo.Context, err error, logger *zap.Logger) error {
	switch {
	case errors.Is(err, entities.ErrNotConnected):
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "not_connected",
			Message: "Session is not connected",
		})
	case errors.Is(err, usecase.ErrEngineBusy):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "busy",
			Message: "Session engine is busy",
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "unavailable",
			Message: "Session engine did not respond",
		})
	default:
		logger.Error("Local command failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}
