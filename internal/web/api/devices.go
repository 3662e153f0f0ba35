package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/middleware"
	webModels "github.com/austin-smith/fusion-bridge-sub010/internal/web/models"
)

// ContextInvalidator drops cached device context
type ContextInvalidator interface {
	Invalidate(ctx context.Context, deviceID string) error
}

// RegisterDeviceRoutes exposes the device context rules are evaluated
// against. invalidator may be nil when no cache is configured.
func RegisterDeviceRoutes(r gin.IRouter, mw *middleware.MiddlewareManager, topology engine.TopologyStore, invalidator ContextInvalidator) {
	devices := r.Group("/devices")
	devices.Use(mw.RequireAuth())
	{
		devices.GET("/:id/context", func(c *gin.Context) {
			dc, err := topology.GetDeviceContext(c, c.Param("id"))
			if errors.Is(err, engine.ErrDeviceNotFound) {
				c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "device not found"})
				return
			}
			if err != nil {
				log.Error().Err(err).Str("device_id", c.Param("id")).Msg("device context")
				c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to fetch device context"})
				return
			}
			c.JSON(http.StatusOK, dc)
		})

		devices.DELETE("/:id/context", func(c *gin.Context) {
			if invalidator == nil {
				c.Status(http.StatusNoContent)
				return
			}
			if err := invalidator.Invalidate(c, c.Param("id")); err != nil {
				log.Error().Err(err).Str("device_id", c.Param("id")).Msg("invalidate device context")
				c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to invalidate"})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}
