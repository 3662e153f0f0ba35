package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/temporal"
)

var _ temporal.HistoryStore = (*DB)(nil)

// QueryEvents returns the events of a window with the context of their devices
func (d *DB) QueryEvents(ctx context.Context, q temporal.Query) ([]models.HistoricalEvent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.From != nil {
		where = append(where, "e.ts >= "+arg(*q.From))
	}
	if q.To != nil {
		where = append(where, "e.ts <= "+arg(*q.To))
	}
	if q.OrganizationID != "" {
		where = append(where, "e.organization_id = "+arg(q.OrganizationID))
	}
	if q.AreaID != "" {
		where = append(where, "dv.area_id = "+arg(q.AreaID))
	}
	if q.LocationID != "" {
		where = append(where, "dv.location_id = "+arg(q.LocationID))
	}
	if q.ExcludeEventID != "" {
		where = append(where, "e.id <> "+arg(q.ExcludeEventID))
	}

	sql := `SELECT e.id, e.device_id, e.ts, e.category, e.type, e.subtype, e.payload,
		` + deviceContextColumns + `
		FROM events e
		LEFT JOIN devices dv ON dv.device_id = e.device_id
		LEFT JOIN areas a ON a.id = dv.area_id
		LEFT JOIN locations l ON l.id = dv.location_id`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY e.ts"
	if q.Limit > 0 {
		sql += " LIMIT " + arg(q.Limit)
	}

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HistoricalEvent
	for rows.Next() {
		var (
			he      models.HistoricalEvent
			payload []byte
			dc      deviceRow
		)
		dest := append([]any{&he.Event.ID, &he.Event.DeviceID, &he.Event.Timestamp, &he.Event.Category, &he.Event.Type,
			&he.Event.Subtype, &payload}, dc.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &he.Event.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of event %s: %w", he.Event.ID, err)
			}
		}
		he.Device = dc.context(he.Event.DeviceID)
		out = append(out, he)
	}
	return out, rows.Err()
}

// InsertEvent appends an event to the history
func (d *DB) InsertEvent(ctx context.Context, event models.StandardizedEvent, organizationID string) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO events (id, device_id, organization_id, ts, category, type, subtype, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		event.ID, event.DeviceID, organizationID, event.Timestamp, event.Category, event.Type, event.Subtype, payload)
	return err
}

// InsertBookmark stores a bookmark
func (d *DB) InsertBookmark(ctx context.Context, b models.Bookmark) error {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := d.pool.Exec(ctx,
		`INSERT INTO bookmarks (id, device_id, organization_id, name, description, start_time, duration_ms, tags, created_by_rule)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.DeviceID, b.OrganizationID, b.Name, b.Description, b.StartTime, b.DurationMs, tags, b.CreatedByRule)
	return err
}
