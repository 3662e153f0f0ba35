package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/audit"
	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/metrics"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// ErrSkipped marks actions that never started because the execution was
// cancelled first.
var ErrSkipped = errors.New("execution cancelled before action started")

// Config bounds executor calls
type Config struct {
	ActionTimeout  time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig is used for zero fields
var DefaultConfig = Config{
	ActionTimeout:  30 * time.Second,
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
}

// Outcome is the aggregate result of one pipeline run
type Outcome struct {
	Status            models.ExecutionStatus
	SuccessfulActions int
	FailedActions     int
	Duration          time.Duration
	// Context is the trigger context with the actions[] results appended
	Context facts.FactMap
}

// Pipeline runs actions sequentially with per-action timeout and retry
type Pipeline struct {
	registry *Registry
	audit    *audit.Service
	cfg      Config
	metrics  metrics.Sink
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline. Zero config fields take DefaultConfig values.
func NewPipeline(registry *Registry, auditSvc *audit.Service, cfg Config, sink metrics.Sink) *Pipeline {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig.ActionTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Pipeline{
		registry: registry,
		audit:    auditSvc,
		cfg:      cfg,
		metrics:  sink,
		logger:   log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes actions in order. A failed action never stops the ones
// after it. Cancelling ctx marks the actions that have not started yet as
// skipped.
func (p *Pipeline) Run(ctx context.Context, executionID string, actions []models.Action, triggerCtx facts.FactMap, org OrgContext) Outcome {
	started := time.Now()
	tctx := triggerCtx.Clone()
	results := make([]any, 0, len(actions))
	auditCtx := context.WithoutCancel(ctx)
	org.ExecutionID = executionID

	out := Outcome{}
	for i, act := range actions {
		status, data := p.runOne(ctx, auditCtx, executionID, i, act, tctx, org)
		if status == models.ActionStatusSuccess {
			out.SuccessfulActions++
		} else {
			out.FailedActions++
		}

		entry := map[string]any{"type": string(act.Type), "status": string(status)}
		if data != nil {
			entry["result"] = facts.Normalize(data)
		}
		results = append(results, entry)
		tctx["actions"] = append([]any(nil), results...)
	}

	out.Status = audit.ComputeStatus(len(actions), out.FailedActions)
	out.Duration = time.Since(started)
	out.Context = tctx
	return out
}

func (p *Pipeline) runOne(ctx, auditCtx context.Context, executionID string, index int, act models.Action, tctx facts.FactMap, org OrgContext) (models.ActionStatus, map[string]any) {
	logger := p.logger.With().
		Str("execution_id", executionID).
		Int("action_index", index).
		Str("action_type", string(act.Type)).
		Logger()

	resolved := models.Action{Type: act.Type, Params: ResolveTemplates(act.Params, tctx)}
	actionExecID := p.audit.StartActionExecution(auditCtx, executionID, index, resolved)
	started := time.Now()

	if ctx.Err() != nil {
		msg := ErrSkipped.Error()
		p.audit.CompleteActionExecution(auditCtx, actionExecID, audit.ActionCompletion{
			Status:       models.ActionStatusSkipped,
			ErrorMessage: &msg,
		})
		logger.Warn().Msg("action skipped")
		return models.ActionStatusSkipped, nil
	}

	res, retries := p.attempt(ctx, resolved, org, logger)
	completion := audit.ActionCompletion{
		RetryCount: retries,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if res.Kind == ResultOK {
		completion.Status = models.ActionStatusSuccess
		completion.ResultData = res.Data
		logger.Info().Int("retry_count", retries).Msg("action succeeded")
	} else {
		completion.Status = models.ActionStatusFailure
		msg := "unknown error"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		completion.ErrorMessage = &msg
		logger.Warn().Str("error", msg).Str("kind", res.Kind.String()).Int("retry_count", retries).Msg("action failed")
	}
	p.audit.CompleteActionExecution(auditCtx, actionExecID, completion)
	return completion.Status, completion.ResultData
}

// attempt invokes the executor until success, a permanent failure or the
// retry bound. It returns the last result and the number of retries.
func (p *Pipeline) attempt(ctx context.Context, act models.Action, org OrgContext, logger zerolog.Logger) (Result, int) {
	exec, ok := p.registry.Lookup(act.Type)
	if !ok {
		p.metrics.ActionAttempt(string(act.Type), metrics.OutcomePermanent)
		return Permanent(fmt.Errorf("no executor registered for %s", act.Type)), 0
	}

	retries := 0
	for {
		res := p.invoke(ctx, exec, act.Params, org)
		p.metrics.ActionAttempt(string(act.Type), outcomeLabel(res.Kind))
		if res.Kind != ResultTransient || retries >= p.cfg.MaxRetries {
			return res, retries
		}

		backoff := p.backoff(retries)
		logger.Debug().Err(res.Err).Int("attempt", retries+1).Dur("backoff", backoff).Msg("transient failure, retrying")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, retries
		case <-timer.C:
		}
		retries++
		p.metrics.ActionRetry(string(act.Type))
	}
}

// invoke runs one executor call under the action timeout. Panics become
// permanent failures and a timeout is transient.
func (p *Pipeline) invoke(ctx context.Context, exec Executor, params models.ActionParams, org OrgContext) Result {
	actx, cancel := context.WithTimeout(ctx, p.cfg.ActionTimeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Permanent(fmt.Errorf("executor panic: %v", r))
			}
		}()
		done <- exec.Execute(actx, params, org)
	}()

	select {
	case res := <-done:
		return res
	case <-actx.Done():
		if ctx.Err() != nil {
			return Transient(fmt.Errorf("action interrupted: %w", ctx.Err()))
		}
		return Transient(fmt.Errorf("action timed out after %s", p.cfg.ActionTimeout))
	}
}

func (p *Pipeline) backoff(retry int) time.Duration {
	d := p.cfg.InitialBackoff
	for i := 0; i < retry; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

func outcomeLabel(k ResultKind) string {
	switch k {
	case ResultOK:
		return metrics.OutcomeSuccess
	case ResultTransient:
		return metrics.OutcomeTransient
	}
	return metrics.OutcomePermanent
}
