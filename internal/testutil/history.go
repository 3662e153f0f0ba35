// Package testutil provides in-memory collaborators for package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
)

// MemoryHistory is a temporal.HistoryStore over a slice of events
type MemoryHistory struct {
	mu      sync.Mutex
	events  []models.HistoricalEvent
	queries []temporal.Query
	// Err is returned by every query when set
	Err error
	// Block, when set, holds every query until it is closed or ctx is done
	Block chan struct{}
}

func NewMemoryHistory(events ...models.HistoricalEvent) *MemoryHistory {
	return &MemoryHistory{events: events}
}

// Add appends an event with its device context
func (h *MemoryHistory) Add(event models.StandardizedEvent, device models.DeviceContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, models.HistoricalEvent{Event: event, Device: device})
}

// Queries returns every query received so far
func (h *MemoryHistory) Queries() []temporal.Query {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]temporal.Query(nil), h.queries...)
}

func (h *MemoryHistory) QueryEvents(ctx context.Context, q temporal.Query) ([]models.HistoricalEvent, error) {
	h.mu.Lock()
	h.queries = append(h.queries, q)
	block := h.Block
	h.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Err != nil {
		return nil, h.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.HistoricalEvent
	for _, he := range h.events {
		ts := he.Event.Timestamp
		switch {
		case q.From != nil && ts.Before(*q.From):
		case q.To != nil && ts.After(*q.To):
		case q.ExcludeEventID != "" && he.Event.ID == q.ExcludeEventID:
		case q.OrganizationID != "" && he.Device.OrganizationID != q.OrganizationID:
		case q.AreaID != "" && he.Device.AreaID != q.AreaID:
		case q.LocationID != "" && he.Device.LocationID != q.LocationID:
		default:
			out = append(out, he)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
