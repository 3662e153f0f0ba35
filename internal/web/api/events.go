package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/middleware"
	webModels "github.com/austin-smith/fusion-bridge-sub010/internal/web/models"
)

// EventSink accepts an event for dispatch. queued reports whether the event
// was handed to the task queue rather than dispatched inline.
type EventSink func(ctx context.Context, event models.StandardizedEvent) (queued bool, err error)

// ExecutionReader is the audit read path
type ExecutionReader interface {
	GetExecutionSummary(ctx context.Context, executionID string) (*models.ExecutionSummary, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]models.AutomationExecution, error)
}

const defaultExecutionLimit = 50

func RegisterEventRoutes(r gin.IRouter, mw *middleware.MiddlewareManager, sink EventSink) {
	r.POST("/events", mw.RequireAuth(), func(c *gin.Context) {
		var event models.StandardizedEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "invalid request: " + err.Error()})
			return
		}
		if event.ID == "" || event.DeviceID == "" || event.Type == "" {
			c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "id, deviceId and type are required"})
			return
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		queued, err := sink(c, event)
		if errors.Is(err, engine.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, webModels.ErrorResponse{Error: err.Error()})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("event ingestion failed")
			c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to accept event"})
			return
		}
		c.JSON(http.StatusAccepted, webModels.EventAccepted{EventID: event.ID, Queued: queued})
	})
}

func RegisterExecutionRoutes(r gin.IRouter, mw *middleware.MiddlewareManager, reader ExecutionReader) {
	executions := r.Group("/executions")
	executions.Use(mw.RequireAuth())
	{
		executions.GET("", func(c *gin.Context) {
			limit := defaultExecutionLimit
			if raw := c.Query("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "limit must be a positive integer"})
					return
				}
				limit = n
			}
			execs, err := reader.ListExecutions(c, c.Query("ruleId"), limit)
			if err != nil {
				log.Error().Err(err).Msg("list executions")
				c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to fetch executions"})
				return
			}
			if execs == nil {
				execs = []models.AutomationExecution{}
			}
			c.JSON(http.StatusOK, execs)
		})

		executions.GET("/:id", func(c *gin.Context) {
			summary, err := reader.GetExecutionSummary(c, c.Param("id"))
			if errors.Is(err, audit.ErrNotFound) {
				c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "execution not found"})
				return
			}
			if err != nil {
				log.Error().Err(err).Str("execution_id", c.Param("id")).Msg("get execution")
				c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to fetch execution"})
				return
			}
			c.JSON(http.StatusOK, summary)
		})
	}
}
