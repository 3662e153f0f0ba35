package testutil

import (
	"context"
	"sync"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// Message is one published payload
type Message struct {
	Topic   string
	Payload []byte
}

// RecordingPublisher keeps every published message
type RecordingPublisher struct {
	mu       sync.Mutex
	messages []Message
	// FailTimes makes the first n publishes fail with Err
	FailTimes int
	Err       error
}

func (p *RecordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailTimes > 0 {
		p.FailTimes--
		return p.Err
	}
	p.messages = append(p.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

func (p *RecordingPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Records collects created events, bookmarks and queued pushes
type Records struct {
	mu        sync.Mutex
	Events    []models.StandardizedEvent
	Bookmarks []models.Bookmark
	Pushes    []models.PushNotification
	Err       error
}

func (r *Records) InsertEvent(_ context.Context, event models.StandardizedEvent, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, event)
	return nil
}

func (r *Records) InsertBookmark(_ context.Context, b models.Bookmark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Bookmarks = append(r.Bookmarks, b)
	return nil
}

func (r *Records) EnqueuePush(_ context.Context, n models.PushNotification) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.Pushes = append(r.Pushes, n)
	return "task-" + n.RuleID, nil
}
