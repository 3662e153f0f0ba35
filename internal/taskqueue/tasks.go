package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// Task types
const (
	TypeDispatchEvent    = "automation:dispatch_event"
	TypePushNotification = "notification:push"
)

const pushMaxRetry = 5

// NewDispatchEventTask wraps an incoming event for asynchronous dispatch
func NewDispatchEventTask(event models.StandardizedEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDispatchEvent, payload), nil
}

// NewPushTask wraps a notification for delivery to the push gateway
func NewPushTask(n models.PushNotification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePushNotification, payload), nil
}

// Client enqueues engine work on Redis
type Client struct {
	client          *asynq.Client
	dispatchTimeout time.Duration
	logger          zerolog.Logger
}

func NewClient(opt asynq.RedisConnOpt, dispatchTimeout time.Duration) *Client {
	return &Client{
		client:          asynq.NewClient(opt),
		dispatchTimeout: dispatchTimeout,
		logger:          log.With().Str("component", "taskqueue").Logger(),
	}
}

// EnqueueDispatch queues event for DispatchEvent. The event id doubles as
// task id so redelivered events are dropped.
func (c *Client) EnqueueDispatch(ctx context.Context, event models.StandardizedEvent) error {
	task, err := NewDispatchEventTask(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	opts := []asynq.Option{asynq.MaxRetry(3), asynq.TaskID("event:" + event.ID)}
	if c.dispatchTimeout > 0 {
		opts = append(opts, asynq.Timeout(c.dispatchTimeout))
	}
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.logger.Debug().Str("event_id", event.ID).Msg("duplicate event ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.ID, err)
	}
	c.logger.Debug().Str("event_id", event.ID).Str("task_id", info.ID).Msg("event enqueued")
	return nil
}

// EnqueuePush queues a notification and returns the task id
func (c *Client) EnqueuePush(ctx context.Context, n models.PushNotification) (string, error) {
	task, err := NewPushTask(n)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(pushMaxRetry), asynq.Timeout(30*time.Second))
	if err != nil {
		return "", fmt.Errorf("enqueue push: %w", err)
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
