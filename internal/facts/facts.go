// Package facts builds the flat fact maps that rules are evaluated against.
package facts

import (
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// FactMap maps fact names to dynamic values. Values are normalized to
// string, float64, bool, []any or map[string]any; a missing key is absent.
type FactMap map[string]any

// Kind classifies a dynamic value
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// KindOf returns the kind of a normalized value
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindAbsent
	case string:
		return KindString
	case float64:
		return KindNumber
	case bool:
		return KindBool
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	}
	return KindAbsent
}

// Resolve builds the fact map for an event and the context of its device.
// Empty context fields produce absent facts.
func Resolve(event models.StandardizedEvent, device models.DeviceContext) FactMap {
	f := FactMap{}
	ts := float64(event.Timestamp.UnixMilli())

	put(f, "eventId", event.ID)
	put(f, "eventCategory", event.Category)
	put(f, "eventType", event.Type)
	put(f, "eventSubtype", event.Subtype)
	f["eventTimestamp"] = ts
	put(f, "deviceId", event.DeviceID)
	put(f, "deviceName", device.Name)
	put(f, "deviceType", device.Type)
	put(f, "deviceVendor", device.Vendor)
	put(f, "areaId", device.AreaID)
	put(f, "areaName", device.AreaName)
	put(f, "areaState", device.AreaArmedState)
	put(f, "locationId", device.LocationID)
	put(f, "locationName", device.LocationName)
	put(f, "locationTimeZone", device.LocationTimeZone)
	put(f, "organizationId", device.OrganizationID)

	payload := Normalize(event.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	f["payload"] = payload

	eventObj := map[string]any{
		"timestamp":    ts,
		"timestampIso": event.Timestamp.UTC().Format(time.RFC3339),
		"payload":      payload,
	}
	put(eventObj, "id", event.ID)
	put(eventObj, "deviceId", event.DeviceID)
	put(eventObj, "category", event.Category)
	put(eventObj, "type", event.Type)
	put(eventObj, "subtype", event.Subtype)
	put(eventObj, "deviceName", device.Name)
	put(eventObj, "deviceType", device.Type)
	put(eventObj, "areaId", device.AreaID)
	put(eventObj, "areaName", device.AreaName)
	put(eventObj, "locationId", device.LocationID)
	put(eventObj, "locationName", device.LocationName)
	f["event"] = eventObj

	deviceObj := map[string]any{}
	put(deviceObj, "id", event.DeviceID)
	put(deviceObj, "name", device.Name)
	put(deviceObj, "type", device.Type)
	put(deviceObj, "vendor", device.Vendor)
	f["device"] = deviceObj

	if device.AreaID != "" {
		area := map[string]any{}
		put(area, "id", device.AreaID)
		put(area, "name", device.AreaName)
		put(area, "armedState", device.AreaArmedState)
		f["area"] = area
	}
	if device.LocationID != "" {
		f["location"] = locationObject(models.Location{
			ID: device.LocationID, Name: device.LocationName, TimeZone: device.LocationTimeZone,
		})
	}
	return f
}

// ForSchedule builds the context of a scheduled fire. loc may be nil.
func ForSchedule(firedAt time.Time, cronExpression, timeZone string, loc *models.Location) FactMap {
	f := FactMap{}
	schedule := map[string]any{
		"firedAt":        firedAt.UTC().Format(time.RFC3339),
		"firedAtMs":      float64(firedAt.UnixMilli()),
		"cronExpression": cronExpression,
	}
	put(schedule, "timeZone", timeZone)
	f["schedule"] = schedule
	if loc != nil {
		put(f, "locationId", loc.ID)
		put(f, "locationName", loc.Name)
		put(f, "locationTimeZone", loc.TimeZone)
		put(f, "organizationId", loc.OrganizationID)
		f["location"] = locationObject(*loc)
	}
	return f
}

// Clone returns a shallow copy
func (f FactMap) Clone() FactMap {
	out := make(FactMap, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}

func locationObject(loc models.Location) map[string]any {
	obj := map[string]any{}
	put(obj, "id", loc.ID)
	put(obj, "name", loc.Name)
	put(obj, "timeZone", loc.TimeZone)
	return obj
}

func put(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// Normalize converts Go numeric and slice types into the canonical fact
// representation. Unsupported types are dropped.
func Normalize(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nv, ok := normalizeValue(v); ok {
			out[k] = nv
		}
	}
	return out
}

func normalizeValue(v any) (any, bool) {
	switch n := v.(type) {
	case nil:
		return nil, false
	case string, bool, float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case []string:
		out := make([]any, len(n))
		for i, s := range n {
			out[i] = s
		}
		return out, true
	case []any:
		out := make([]any, 0, len(n))
		for _, item := range n {
			if nv, ok := normalizeValue(item); ok {
				out = append(out, nv)
			}
		}
		return out, true
	case map[string]any:
		return Normalize(n), true
	}
	return nil, false
}

// NormalizeValue converts a single value like Normalize. Unsupported types
// become nil.
func NormalizeValue(v any) any {
	nv, _ := normalizeValue(v)
	return nv
}
