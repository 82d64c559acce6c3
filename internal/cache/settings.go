package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storefront-payments/internal/model"
)

const (
	shippingSettingsKey = "settings:shipping"
	// bumped by Invalidate; a load only fills the cache if the generation it started under is current
	shippingGenerationKey = "settings:shipping:gen"
)

var setIfGenerationScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if not gen then
	gen = "0"
end
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// Source is the authoritative settings store behind the cache.
type Source interface {
	ShippingSettings(ctx context.Context) (model.ShippingSettings, error)
	Invalidate(ctx context.Context) error
}

// SettingsCache is a read-through Redis cache in front of a Source.
// Redis failures degrade to reading the source directly.
type SettingsCache struct {
	client redis.Cmdable
	source Source
	ttl    time.Duration
	logger *zap.Logger
	loads  singleflight.Group
}

func NewSettingsCache(client redis.Cmdable, source Source, ttl time.Duration, logger *zap.Logger) *SettingsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *SettingsCache) ShippingSettings(ctx context.Context) (model.ShippingSettings, error) {
	data, err := c.client.Get(ctx, shippingSettingsKey).Bytes()
	switch {
	case err == nil:
		var settings model.ShippingSettings
		if err := json.Unmarshal(data, &settings); err == nil {
			return settings, nil
		}
		c.logger.Warn("discarding corrupt cached shipping settings")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("redis get shipping settings failed", zap.Error(err))
	}

	v, err, _ := c.loads.Do(shippingSettingsKey, func() (interface{}, error) {
		return c.load(ctx)
	})
	if err != nil {
		return model.ShippingSettings{}, err
	}
	return v.(model.ShippingSettings), nil
}

func (c *SettingsCache) load(ctx context.Context) (model.ShippingSettings, error) {
	gen, err := c.client.Get(ctx, shippingGenerationKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
		gen = "0"
	case err != nil:
		c.logger.Warn("redis get shipping settings generation failed", zap.Error(err))
		return c.source.ShippingSettings(ctx)
	}

	settings, err := c.source.ShippingSettings(ctx)
	if err != nil {
		return model.ShippingSettings{}, err
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return settings, nil
	}
	keys := []string{shippingSettingsKey, shippingGenerationKey}
	stored, err := setIfGenerationScript.Run(ctx, c.client, keys, gen, raw, c.ttl.Milliseconds()).Int()
	switch {
	case err != nil:
		c.logger.Warn("redis set shipping settings failed", zap.Error(err))
	case stored == 0:
		c.logger.Debug("shipping settings changed during load, not caching")
	}
	return settings, nil
}

func (c *SettingsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, shippingGenerationKey).Err(); err != nil {
		return fmt.Errorf("redis bump shipping settings generation: %w", err)
	}
	if err := c.client.Del(ctx, shippingSettingsKey).Err(); err != nil {
		return fmt.Errorf("redis delete shipping settings: %w", err)
	}
	return c.source.Invalidate(ctx)
}
