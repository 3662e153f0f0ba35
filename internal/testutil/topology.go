package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// ErrUnknown is returned for locations that were never added
var ErrUnknown = errors.New("testutil: unknown id")

// StaticTopology serves device and location context from maps
type StaticTopology struct {
	mu        sync.RWMutex
	devices   map[string]models.DeviceContext
	locations map[string]models.Location
	lookups   int
}

func NewStaticTopology() *StaticTopology {
	return &StaticTopology{
		devices:   map[string]models.DeviceContext{},
		locations: map[string]models.Location{},
	}
}

func (t *StaticTopology) AddDevice(d models.DeviceContext) *StaticTopology {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[d.DeviceID] = d
	return t
}

func (t *StaticTopology) AddLocation(l models.Location) *StaticTopology {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locations[l.ID] = l
	return t
}

// Lookups counts GetDeviceContext calls
func (t *StaticTopology) Lookups() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookups
}

func (t *StaticTopology) GetDeviceContext(_ context.Context, deviceID string) (models.DeviceContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups++
	d, ok := t.devices[deviceID]
	if !ok {
		return models.DeviceContext{}, fmt.Errorf("%w: %s", engine.ErrDeviceNotFound, deviceID)
	}
	return d, nil
}

func (t *StaticTopology) GetLocation(_ context.Context, locationID string) (*models.Location, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.locations[locationID]
	if !ok {
		return nil, ErrUnknown
	}
	return &l, nil
}

// ListAreaIDs returns the distinct areas of the devices in a location
func (t *StaticTopology) ListAreaIDs(_ context.Context, organizationID, locationID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, d := range t.devices {
		if d.LocationID != locationID || d.AreaID == "" || seen[d.AreaID] {
			continue
		}
		if organizationID != "" && d.OrganizationID != organizationID {
			continue
		}
		seen[d.AreaID] = true
		out = append(out, d.AreaID)
	}
	sort.Strings(out)
	return out, nil
}

// SetArmedState changes the armed state of every device in an area
func (t *StaticTopology) SetArmedState(areaID, state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, d := range t.devices {
		if d.AreaID == areaID {
			d.AreaArmedState = state
			t.devices[id] = d
		}
	}
}

// ContextCache is an in-memory read-through device context cache with the
// invalidation surface of the Redis cache
type ContextCache struct {
	store engine.TopologyStore

	mu      sync.Mutex
	devices map[string]models.DeviceContext
	areas   map[string]map[string]bool
}

var _ engine.TopologyStore = (*ContextCache)(nil)

func NewContextCache(store engine.TopologyStore) *ContextCache {
	return &ContextCache{
		store:   store,
		devices: map[string]models.DeviceContext{},
		areas:   map[string]map[string]bool{},
	}
}

func (c *ContextCache) GetDeviceContext(ctx context.Context, deviceID string) (models.DeviceContext, error) {
	c.mu.Lock()
	dc, ok := c.devices[deviceID]
	c.mu.Unlock()
	if ok {
		return dc, nil
	}
	dc, err := c.store.GetDeviceContext(ctx, deviceID)
	if err != nil {
		return dc, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[deviceID] = dc
	if dc.AreaID != "" {
		if c.areas[dc.AreaID] == nil {
			c.areas[dc.AreaID] = map[string]bool{}
		}
		c.areas[dc.AreaID][deviceID] = true
	}
	return dc, nil
}

func (c *ContextCache) GetLocation(ctx context.Context, locationID string) (*models.Location, error) {
	return c.store.GetLocation(ctx, locationID)
}

func (c *ContextCache) Invalidate(_ context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, deviceID)
	return nil
}

func (c *ContextCache) InvalidateArea(_ context.Context, areaID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.areas[areaID] {
		delete(c.devices, id)
	}
	delete(c.areas, areaID)
	return nil
}
