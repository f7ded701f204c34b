package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kjstillabower/cropsense-service/internal/models"
)

// WeatherCache is the SQL cache backend. Rows are never deleted; freshness is
// decided by the caller from cached_at.
type WeatherCache struct {
	db *DB
}

func NewWeatherCache(db *DB) *WeatherCache {
	return &WeatherCache{db: db}
}

type weatherCacheRow struct {
	City        string `db:"city"`
	WeatherData string `db:"weather_data"`
	CachedAt    int64  `db:"cached_at"`
}

func (c *WeatherCache) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	var row weatherCacheRow
	err := c.db.get(ctx, "weather_cache_get", &row,
		`SELECT city, weather_data, cached_at FROM weather_cache WHERE city = ?`, key)
	if isNoRows(err) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("sql weather cache get: %w", err)
	}
	var payload models.FormattedWeather
	if err := json.Unmarshal([]byte(row.WeatherData), &payload); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("sql weather cache decode %q: %w", key, err)
	}
	return models.CacheEntry{Key: row.City, Payload: payload, CachedAt: fromMillis(row.CachedAt)}, true, nil
}

func (c *WeatherCache) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("sql weather cache encode: %w", err)
	}
	_, err = c.db.exec(ctx, "weather_cache_upsert", `
		INSERT INTO weather_cache (city, weather_data, cached_at) VALUES (?, ?, ?)
		ON CONFLICT (city) DO UPDATE SET
			weather_data = excluded.weather_data,
			cached_at = excluded.cached_at`,
		entry.Key, string(raw), toMillis(entry.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("sql weather cache upsert: %w", err)
	}
	return nil
}

func (c *WeatherCache) Ping(ctx context.Context) error {
	return c.db.Ping(ctx)
}
