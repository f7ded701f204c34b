package store

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/kjstillabower/cropsense-service/internal/cache"
	"github.com/kjstillabower/cropsense-service/internal/models"
)

func f64(v float64) *float64 { return &v }

func samplePayload(summary string) models.FormattedWeather {
	return models.FormattedWeather{
		Location: models.Location{Latitude: f64(21.1458), Longitude: f64(79.0882), Timezone: "Asia/Kolkata"},
		Current: models.Current{
			Time: "2026-05-01T10:00:00", Summary: summary, Icon: "clear-day",
			Temperature: f64(34.5), Humidity: 30, PrecipitationType: "none",
		},
		Hourly:   []models.HourlySample{{Time: "2026-05-01 10:00", Temperature: f64(34.5), Icon: "clear-day", Summary: summary}},
		Daily:    []models.DailySample{{Date: "2026-05-01", Summary: summary, Icon: "clear-day", PrecipitationType: "none", Sunrise: "05:58", Sunset: "18:41"}},
		CachedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// TestWeatherCache_RoundTrip verifies the SQL backend through the freshness-checking store.
func TestWeatherCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := cache.NewStore("sql", NewWeatherCache(newTestDB(t)), time.Hour).WithClock(func() time.Time { return now })

	want := samplePayload("Clear")
	if err := s.Upsert(ctx, "nagpur", want); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, ok, err := s.Lookup(ctx, "nagpur")
	if err != nil || !ok {
		t.Fatalf("Lookup = (_, %v, %v), want hit", ok, err)
	}
	if !reflect.DeepEqual(got.Payload, want) {
		t.Errorf("Payload = %+v, want %+v", got.Payload, want)
	}
	if !got.CachedAt.Equal(now) {
		t.Errorf("CachedAt = %v, want %v", got.CachedAt, now)
	}
}

func TestWeatherCache_TwoHourOldEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := cache.NewStore("sql", NewWeatherCache(newTestDB(t)), time.Hour).WithClock(func() time.Time { return now })

	if err := s.Upsert(ctx, "21.1458,79.0882", samplePayload("Clear")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, ok, err := s.Lookup(ctx, "21.1458,79.0882"); err != nil || ok {
		t.Fatalf("Lookup = (_, %v, %v), want stale miss", ok, err)
	}
}

func TestWeatherCache_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	backend := NewWeatherCache(newTestDB(t))
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	if err := backend.Put(ctx, models.CacheEntry{Key: "pune", Payload: samplePayload("Clear"), CachedAt: t0}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := backend.Put(ctx, models.CacheEntry{Key: "pune", Payload: samplePayload("Rain"), CachedAt: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := backend.Get(ctx, "pune")
	if err != nil || !ok {
		t.Fatalf("Get = (_, %v, %v)", ok, err)
	}
	if got.Payload.Current.Summary != "Rain" || !got.CachedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("Get = (%q, %v), want latest write", got.Payload.Current.Summary, got.CachedAt)
	}
}

func TestWeatherCache_Miss(t *testing.T) {
	backend := NewWeatherCache(newTestDB(t))
	if _, ok, err := backend.Get(context.Background(), "nowhere"); ok || err != nil {
		t.Errorf("Get = (_, %v, %v), want (false, nil)", ok, err)
	}
}
