package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// Dispatcher routes events to matching rules
type Dispatcher interface {
	DispatchEvent(ctx context.Context, event models.StandardizedEvent) ([]string, error)
}

// Handlers processes queued tasks
type Handlers struct {
	dispatcher Dispatcher
	push       *PushSender
	logger     zerolog.Logger
}

// NewHandlers creates task handlers. push may be nil, in which case
// notifications are dropped.
func NewHandlers(dispatcher Dispatcher, push *PushSender) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		push:       push,
		logger:     log.With().Str("component", "taskqueue").Logger(),
	}
}

// Mux routes task types to handlers
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDispatchEvent, h.HandleDispatchEvent)
	mux.HandleFunc(TypePushNotification, h.HandlePush)
	return mux
}

func (h *Handlers) HandleDispatchEvent(ctx context.Context, t *asynq.Task) error {
	var event models.StandardizedEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	ids, err := h.dispatcher.DispatchEvent(ctx, event)
	if err != nil {
		return err
	}
	h.logger.Debug().Str("event_id", event.ID).Int("executions", len(ids)).Msg("event dispatched")
	return nil
}

func (h *Handlers) HandlePush(ctx context.Context, t *asynq.Task) error {
	var n models.PushNotification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("decode push: %v: %w", err, asynq.SkipRetry)
	}
	if h.push == nil {
		h.logger.Warn().Str("rule_id", n.RuleID).Msg("push gateway not configured, dropping notification")
		return nil
	}
	return h.push.Send(ctx, n)
}

// PushSender delivers notifications to an HTTP push gateway
type PushSender struct {
	url    string
	token  string
	client *http.Client
}

func NewPushSender(url, token string, timeout time.Duration) *PushSender {
	return &PushSender{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

// Send posts n to the gateway. Client errors are not retried.
func (s *PushSender) Send(ctx context.Context, n models.PushNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("push gateway rejected notification with %d: %w", resp.StatusCode, asynq.SkipRetry)
	}
}
