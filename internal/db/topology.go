package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

const deviceContextColumns = `dv.name, dv.type, dv.vendor, dv.area_id, a.name, a.armed_state,
		dv.location_id, l.name, l.time_zone, dv.organization_id`

// deviceRow receives the nullable columns of a device joined with its
// area and location
type deviceRow struct {
	name, deviceType, vendor, areaID, areaName, armed *string
	locationID, locationName, tz, org                 *string
}

func (r *deviceRow) dest() []any {
	return []any{&r.name, &r.deviceType, &r.vendor, &r.areaID, &r.areaName, &r.armed,
		&r.locationID, &r.locationName, &r.tz, &r.org}
}

func (r *deviceRow) context(deviceID string) models.DeviceContext {
	s := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return models.DeviceContext{
		DeviceID:         deviceID,
		Name:             s(r.name),
		Type:             s(r.deviceType),
		Vendor:           s(r.vendor),
		AreaID:           s(r.areaID),
		AreaName:         s(r.areaName),
		AreaArmedState:   s(r.armed),
		LocationID:       s(r.locationID),
		LocationName:     s(r.locationName),
		LocationTimeZone: s(r.tz),
		OrganizationID:   s(r.org),
	}
}

// GetDeviceContext fetches a device with its area and location
func (d *DB) GetDeviceContext(ctx context.Context, deviceID string) (models.DeviceContext, error) {
	var r deviceRow
	err := d.pool.QueryRow(ctx, `SELECT `+deviceContextColumns+`
		FROM devices dv
		LEFT JOIN areas a ON a.id = dv.area_id
		LEFT JOIN locations l ON l.id = dv.location_id
		WHERE dv.device_id = $1`, deviceID).Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DeviceContext{}, fmt.Errorf("%w: %s", engine.ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return models.DeviceContext{}, err
	}
	return r.context(deviceID), nil
}

// GetLocation fetches a location
func (d *DB) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	var l models.Location
	err := d.pool.QueryRow(ctx, "SELECT id, name, time_zone, organization_id FROM locations WHERE id = $1", id).
		Scan(&l.ID, &l.Name, &l.TimeZone, &l.OrganizationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("location %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListAreaIDs fetches the areas of a location
func (d *DB) ListAreaIDs(ctx context.Context, organizationID, locationID string) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT a.id FROM areas a JOIN locations l ON l.id = a.location_id
		 WHERE a.location_id = $1 AND ($2 = '' OR l.organization_id = $2) ORDER BY a.id`,
		locationID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
