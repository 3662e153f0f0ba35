package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/middleware"
	webModels "github.com/austin-smith/fusion-bridge-sub010/internal/web/models"
)

// RuleEngine is the part of the engine the rule routes drive
type RuleEngine interface {
	RegisterRule(ctx context.Context, rule models.AutomationRule) (engine.RuleState, error)
	UnregisterRule(ruleID string) bool
	Rule(ruleID string) (engine.RuleState, bool)
	FireRule(ctx context.Context, ruleID string) (string, error)
}

func RegisterAutomationRoutes(r gin.IRouter, mw *middleware.MiddlewareManager, store engine.RuleStore, eng RuleEngine) {
	h := &ruleHandlers{store: store, engine: eng}
	automations := r.Group("/automations")
	automations.Use(mw.RequireAuth())
	{
		automations.GET("/rules", h.list)
		automations.GET("/rules/:id", h.get)
		automations.POST("/rules", h.create)
		automations.PUT("/rules/:id", h.update)
		automations.DELETE("/rules/:id", h.delete)
		automations.POST("/rules/:id/fire", h.fire)
	}
}

type ruleHandlers struct {
	store  engine.RuleStore
	engine RuleEngine
}

func (h *ruleHandlers) response(rule models.AutomationRule) webModels.RuleResponse {
	state, ok := h.engine.Rule(rule.ID)
	return webModels.NewRuleResponse(rule, state, ok)
}

func (h *ruleHandlers) list(c *gin.Context) {
	rules, err := h.store.ListRules(c)
	if err != nil {
		log.Error().Err(err).Msg("list rules")
		c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to fetch rules"})
		return
	}
	out := make([]webModels.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, h.response(rule))
	}
	c.JSON(http.StatusOK, out)
}

func (h *ruleHandlers) get(c *gin.Context) {
	rule, err := h.store.GetRule(c, c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.response(*rule))
}

func (h *ruleHandlers) create(c *gin.Context) {
	var rule models.AutomationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else if _, err := h.store.GetRule(c, rule.ID); err == nil {
		c.JSON(http.StatusConflict, webModels.ErrorResponse{Error: "rule already exists"})
		return
	}
	h.save(c, rule, http.StatusCreated)
}

func (h *ruleHandlers) update(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetRule(c, id); err != nil {
		h.storeError(c, err)
		return
	}
	var rule models.AutomationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	rule.ID = id
	h.save(c, rule, http.StatusOK)
}

// save validates, persists and (re)registers rule. Validation happens before
// the store is touched so an invalid rule never replaces a good one.
func (h *ruleHandlers) save(c *gin.Context, rule models.AutomationRule, status int) {
	// an API write takes the rule over from the rule file
	rule.Source = ""
	if err := rule.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, webModels.NewErrorResponse("invalid rule", err))
		return
	}
	if err := h.store.SaveRule(c, rule); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("save rule")
		c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "failed to save rule"})
		return
	}
	if _, err := h.engine.RegisterRule(c, rule); err != nil {
		log.Error().Err(err).Str("rule_id", rule.ID).Msg("register rule")
		c.JSON(http.StatusInternalServerError, webModels.NewErrorResponse("failed to register rule", err))
		return
	}
	c.JSON(status, h.response(rule))
}

func (h *ruleHandlers) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteRule(c, id); err != nil {
		h.storeError(c, err)
		return
	}
	h.engine.UnregisterRule(id)
	c.Status(http.StatusNoContent)
}

func (h *ruleHandlers) fire(c *gin.Context) {
	executionID, err := h.engine.FireRule(c, c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, webModels.FireResponse{ExecutionID: executionID})
	case errors.Is(err, engine.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrNotScheduled), errors.Is(err, engine.ErrRuleInactive):
		c.JSON(http.StatusConflict, webModels.ErrorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, webModels.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: err.Error()})
	}
}

func (h *ruleHandlers) storeError(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrRuleNotFound) {
		c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "rule not found"})
		return
	}
	log.Error().Err(err).Msg("rule store")
	c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "rule store unavailable"})
}
