package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

const defaultBookmarkDuration = 60 * time.Second

// CreateEventExecutor writes a synthetic event to the event history
type CreateEventExecutor struct {
	writer EventWriter
	now    func() time.Time
}

func (e *CreateEventExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	p, ok := params.(models.CreateEventParams)
	if !ok {
		return wrongParams(models.ActionCreateEvent, params)
	}
	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = org.DeviceID
	}
	category := p.Category
	if category == "" {
		category = "AUTOMATION"
	}
	eventType := p.Type
	if eventType == "" {
		eventType = "AUTOMATION_EVENT"
	}
	event := models.StandardizedEvent{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Timestamp: e.now().UTC(),
		Category:  category,
		Type:      eventType,
		Subtype:   p.Subtype,
		Payload: map[string]any{
			"caption":     p.CaptionTemplate,
			"description": p.DescriptionTemplate,
			"ruleId":      org.RuleID,
			"executionId": org.ExecutionID,
		},
	}
	if err := e.writer.InsertEvent(ctx, event, org.OrganizationID); err != nil {
		return action.Transient(fmt.Errorf("insert event: %w", err))
	}
	return action.Ok(map[string]any{"eventId": event.ID})
}

// BookmarkExecutor stores a bookmark on a camera device
type BookmarkExecutor struct {
	writer BookmarkWriter
	now    func() time.Time
}

func (e *BookmarkExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	p, ok := params.(models.CreateBookmarkParams)
	if !ok {
		return wrongParams(models.ActionCreateBookmark, params)
	}
	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = org.DeviceID
	}
	if deviceID == "" {
		return action.Permanent(errors.New("bookmark needs a device"))
	}
	start := org.TriggeredAt
	if start.IsZero() {
		start = e.now()
	}
	duration := p.DurationMs
	if duration == 0 {
		duration = defaultBookmarkDuration.Milliseconds()
	}
	b := models.Bookmark{
		ID:             uuid.NewString(),
		DeviceID:       deviceID,
		OrganizationID: org.OrganizationID,
		Name:           p.NameTemplate,
		Description:    p.DescriptionTemplate,
		StartTime:      start.UTC(),
		DurationMs:     duration,
		Tags:           p.Tags,
		CreatedByRule:  org.RuleID,
	}
	if err := e.writer.InsertBookmark(ctx, b); err != nil {
		return action.Transient(fmt.Errorf("insert bookmark: %w", err))
	}
	return action.Ok(map[string]any{"bookmarkId": b.ID, "deviceId": deviceID})
}

// PushExecutor queues push notifications for asynchronous delivery
type PushExecutor struct {
	queue PushEnqueuer
}

func (e *PushExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	p, ok := params.(models.SendPushNotificationParams)
	if !ok {
		return wrongParams(models.ActionSendPushNotification, params)
	}
	if p.MessageTemplate == "" {
		return action.Permanent(errors.New("message is empty after template resolution"))
	}
	taskID, err := e.queue.EnqueuePush(ctx, models.PushNotification{
		OrganizationID: org.OrganizationID,
		Title:          p.TitleTemplate,
		Message:        p.MessageTemplate,
		TargetUserKey:  p.TargetUserKeyTemplate,
		Priority:       p.Priority,
		RuleID:         org.RuleID,
		ExecutionID:    org.ExecutionID,
	})
	if err != nil {
		return action.Transient(fmt.Errorf("enqueue push: %w", err))
	}
	return action.Ok(map[string]any{"taskId": taskID})
}
