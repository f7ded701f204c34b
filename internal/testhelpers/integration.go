//go:build integration
// +build integration

// Package testhelpers builds live dependencies for integration tests.
package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/cropsense-service/internal/cache"
	"github.com/kjstillabower/cropsense-service/internal/client"
	"github.com/kjstillabower/cropsense-service/internal/format"
	"github.com/kjstillabower/cropsense-service/internal/geocode"
	"github.com/kjstillabower/cropsense-service/internal/service"
	"github.com/kjstillabower/cropsense-service/internal/store"
)

// IntegrationConfig holds live endpoints for integration tests.
type IntegrationConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "sql", "memcached", "redis" or "in_memory"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig reads integration settings from the environment and skips
// the test when WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationConfig{
		APIKey:        apiKey,
		APIURL:        envOr("WEATHER_API_URL", client.DefaultBaseURL),
		CacheBackend:  envOr("INTEGRATION_CACHE_BACKEND", "sql"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupWeatherService wires a WeatherService against the live forecast API and
// Nominatim. Unreachable memcached or redis falls back to the SQLite cache.
func SetupWeatherService(t *testing.T, cfg IntegrationConfig) (*service.WeatherService, *cache.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	fetcher, err := client.NewPirateWeatherClient(cfg.APIKey, cfg.APIURL, 10*time.Second, client.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewPirateWeatherClient() error = %v", err)
	}

	db, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "integration.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	c := cache.NewStore("sql", store.NewWeatherCache(db), time.Hour)
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedBackend(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(context.Background()); err == nil {
			t.Cleanup(func() { _ = mc.Close() })
			c = cache.NewStore("memcached", mc, time.Hour)
		} else {
			t.Logf("memcached not available (%v), using sql cache", err)
		}
	case "redis":
		rc := cache.NewRedisBackend(cfg.RedisAddr, "", 0)
		if err := rc.Ping(context.Background()); err == nil {
			t.Cleanup(func() { _ = rc.Close() })
			c = cache.NewStore("redis", rc, time.Hour)
		} else {
			t.Logf("redis not available (%v), using sql cache", err)
		}
	case "in_memory":
		c = cache.NewStore("in_memory", cache.NewMemoryBackend(), time.Hour)
	}

	geocoder := geocode.NewNominatim(geocode.DefaultNominatimURL, geocode.DefaultUserAgent, geocode.DefaultTimeout, logger)
	svc := service.NewWeatherService(fetcher, geocoder, c, format.New(time.UTC),
		service.WithCoalescing(true),
		service.WithDefaultLocations(store.NewLocations(db)),
		service.WithLogger(logger),
	)
	return svc, c
}
