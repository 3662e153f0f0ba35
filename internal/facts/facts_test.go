package facts

import (
	"testing"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() models.StandardizedEvent {
	return models.StandardizedEvent{
		ID:        "evt-1",
		DeviceID:  "dev-1",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Category:  "DEVICE_STATE",
		Type:      "DOOR_OPEN",
		Payload: map[string]any{
			"battery": 87,
			"zones":   []any{map[string]any{"name": "front"}, map[string]any{"name": "back"}},
			"labels":  map[string]any{"front door": "main"},
			"tags":    []string{"entry", "ground"},
		},
	}
}

func sampleDevice() models.DeviceContext {
	return models.DeviceContext{
		DeviceID:       "dev-1",
		Name:           "Front Door",
		Type:           "contact",
		AreaID:         "area-1",
		AreaName:       "Lobby",
		AreaArmedState: "ARMED",
		LocationID:     "loc-1",
		LocationName:   "HQ",
		OrganizationID: "org-1",
	}
}

func TestResolve_FlatAndNestedFacts(t *testing.T) {
	f := Resolve(sampleEvent(), sampleDevice())

	assert.Equal(t, "DOOR_OPEN", f["eventType"])
	assert.Equal(t, "ARMED", f["areaState"])
	assert.Equal(t, "org-1", f["organizationId"])
	assert.Equal(t, float64(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()), f["eventTimestamp"])
	_, hasSubtype := f["eventSubtype"]
	assert.False(t, hasSubtype, "empty subtype must be absent")
	_, hasTZ := f["locationTimeZone"]
	assert.False(t, hasTZ)

	name, ok := f.LookupPath("event.deviceName")
	require.True(t, ok)
	assert.Equal(t, "Front Door", name)

	battery, ok := f.Lookup("payload", "battery")
	require.True(t, ok)
	assert.Equal(t, float64(87), battery)

	tags, ok := f.Lookup("payload", "tags")
	require.True(t, ok)
	assert.Equal(t, []any{"entry", "ground"}, tags)
}

func TestResolve_UnknownDeviceLeavesTopologyAbsent(t *testing.T) {
	f := Resolve(sampleEvent(), models.DeviceContext{})

	for _, key := range []string{"areaId", "areaState", "locationId", "deviceName", "area", "location"} {
		_, ok := f[key]
		assert.False(t, ok, key)
	}
	assert.Equal(t, "dev-1", f["deviceId"])
}

func TestLookup_Paths(t *testing.T) {
	f := Resolve(sampleEvent(), sampleDevice())

	tests := []struct {
		name  string
		fact  string
		path  string
		want  any
		found bool
	}{
		{name: "no path", fact: "eventType", want: "DOOR_OPEN", found: true},
		{name: "json path prefix", fact: "payload", path: "$.zones[1].name", want: "back", found: true},
		{name: "dotted", fact: "payload", path: "zones[0].name", want: "front", found: true},
		{name: "quoted bracket", fact: "payload", path: "labels['front door']", want: "main", found: true},
		{name: "index out of range", fact: "payload", path: "zones[5].name"},
		{name: "key on array", fact: "payload", path: "zones.name"},
		{name: "descend into scalar", fact: "payload", path: "battery.level"},
		{name: "missing fact", fact: "nope"},
		{name: "unterminated bracket", fact: "payload", path: "zones[0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.Lookup(tt.fact, tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestForSchedule(t *testing.T) {
	fired := time.Date(2025, 3, 3, 13, 0, 0, 0, time.UTC)
	f := ForSchedule(fired, "0 8 * * MON-FRI", "America/New_York",
		&models.Location{ID: "loc-1", Name: "HQ", TimeZone: "America/New_York"})

	v, ok := f.LookupPath("schedule.cronExpression")
	require.True(t, ok)
	assert.Equal(t, "0 8 * * MON-FRI", v)
	assert.Equal(t, "loc-1", f["locationId"])
	_, ok = f["eventId"]
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAbsent, KindOf(nil))
	assert.Equal(t, KindString, KindOf("x"))
	assert.Equal(t, KindNumber, KindOf(1.5))
	assert.Equal(t, KindBool, KindOf(true))
	assert.Equal(t, KindArray, KindOf([]any{}))
	assert.Equal(t, KindObject, KindOf(map[string]any{}))
	assert.Equal(t, KindAbsent, KindOf(struct{}{}))
}
