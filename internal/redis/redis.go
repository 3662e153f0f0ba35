package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

// NewRedisClient creates a Redis client and checks the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

const (
	contextKeyPrefix = "automation:device-context:"
	// areaKeyPrefix indexes the cached devices of an area
	areaKeyPrefix = "automation:area-devices:"
)

// ContextCache is a read-through cache of device context in front of a
// topology store. Cache failures fall back to the store.
type ContextCache struct {
	client *redis.Client
	store  engine.TopologyStore
	ttl    time.Duration
	logger zerolog.Logger
}

var _ engine.TopologyStore = (*ContextCache)(nil)

// NewContextCache wraps store. A zero ttl defaults to five minutes.
func NewContextCache(client *redis.Client, store engine.TopologyStore, ttl time.Duration) *ContextCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContextCache{
		client: client,
		store:  store,
		ttl:    ttl,
		logger: log.With().Str("component", "context_cache").Logger(),
	}
}

func contextKey(deviceID string) string {
	return contextKeyPrefix + deviceID
}

func areaKey(areaID string) string {
	return areaKeyPrefix + areaID
}

// GetDeviceContext returns the cached context or loads and caches it
func (c *ContextCache) GetDeviceContext(ctx context.Context, deviceID string) (models.DeviceContext, error) {
	raw, err := c.client.Get(ctx, contextKey(deviceID)).Bytes()
	switch {
	case err == nil:
		var dc models.DeviceContext
		if jerr := json.Unmarshal(raw, &dc); jerr == nil {
			return dc, nil
		}
		c.logger.Warn().Str("device_id", deviceID).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("device_id", deviceID).Msg("context cache read failed")
	}

	dc, err := c.store.GetDeviceContext(ctx, deviceID)
	if err != nil {
		return dc, err
	}
	if raw, err := json.Marshal(dc); err == nil {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, contextKey(deviceID), raw, c.ttl)
			if dc.AreaID != "" {
				pipe.SAdd(ctx, areaKey(dc.AreaID), deviceID)
				pipe.Expire(ctx, areaKey(dc.AreaID), c.ttl)
			}
			return nil
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("device_id", deviceID).Msg("context cache write failed")
		}
	}
	return dc, nil
}

// GetLocation is not cached; it is only read at rule registration
func (c *ContextCache) GetLocation(ctx context.Context, locationID string) (*models.Location, error) {
	return c.store.GetLocation(ctx, locationID)
}

// Invalidate drops the cached context of a device
func (c *ContextCache) Invalidate(ctx context.Context, deviceID string) error {
	if err := c.client.Del(ctx, contextKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", deviceID, err)
	}
	c.logger.Debug().Str("device_id", deviceID).Msg("device context invalidated")
	return nil
}

// InvalidateArea drops the cached context of every device of an area, so
// the next event reads the area's current armed state.
func (c *ContextCache) InvalidateArea(ctx context.Context, areaID string) error {
	deviceIDs, err := c.client.SMembers(ctx, areaKey(areaID)).Result()
	if err != nil {
		return fmt.Errorf("list cached devices of area %s: %w", areaID, err)
	}
	keys := make([]string, 0, len(deviceIDs)+1)
	for _, id := range deviceIDs {
		keys = append(keys, contextKey(id))
	}
	keys = append(keys, areaKey(areaID))
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate area %s: %w", areaID, err)
	}
	c.logger.Debug().Str("area_id", areaID).Int("devices", len(deviceIDs)).Msg("area context invalidated")
	return nil
}
