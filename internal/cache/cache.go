package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/observability"
)

// DefaultTTL is how long a cached payload counts as fresh.
const DefaultTTL = time.Hour

// Backend persists cache entries. Backends never expire entries themselves;
// freshness is judged by Store at read time from CachedAt.
type Backend interface {
	Get(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, entry models.CacheEntry) error
}

// Pinger is implemented by backends with a reachability check for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the weather cache: at most one entry per key, last writer wins.
type Store struct {
	backend Backend
	name    string
	ttl     time.Duration
	now     func() time.Time
}

// NewStore wraps backend with a TTL freshness check. name labels metrics
// ("sql", "memcached", "redis", "in_memory"). A non-positive ttl uses DefaultTTL.
func NewStore(name string, backend Backend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, name: name, ttl: ttl, now: time.Now}
}

// WithClock replaces the clock used for cached_at and freshness. For tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Lookup returns the entry for key when now - cached_at < TTL. A stale entry is
// reported as absent and left in place.
func (s *Store) Lookup(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	start := time.Now()
	entry, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.observe("get", "error", start)
		observability.CacheErrorsTotal.WithLabelValues("get", string(apperr.Categorize(err))).Inc()
		return models.CacheEntry{}, false, err
	}
	s.observe("get", "success", start)
	switch {
	case !ok:
		observability.CacheLookupsTotal.WithLabelValues(s.name, "miss").Inc()
		return models.CacheEntry{}, false, nil
	case !Fresh(entry.CachedAt, s.now(), s.ttl):
		observability.CacheLookupsTotal.WithLabelValues(s.name, "stale").Inc()
		return models.CacheEntry{}, false, nil
	}
	observability.CacheLookupsTotal.WithLabelValues(s.name, "hit").Inc()
	return entry, true, nil
}

// Upsert stores payload under key with cached_at = now, replacing any existing entry.
func (s *Store) Upsert(ctx context.Context, key string, payload models.FormattedWeather) error {
	start := time.Now()
	err := s.backend.Put(ctx, models.CacheEntry{Key: key, Payload: payload, CachedAt: s.now()})
	if err != nil {
		s.observe("set", "error", start)
		observability.CacheErrorsTotal.WithLabelValues("set", string(apperr.Categorize(err))).Inc()
		return err
	}
	s.observe("set", "success", start)
	return nil
}

// Ping checks the backend when it supports it; backends without a remote dependency
// always report healthy.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Store) observe(op, result string, start time.Time) {
	observability.CacheOperationDurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// Fresh reports whether an entry written at cachedAt is still within ttl at now.
func Fresh(cachedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(cachedAt) < ttl
}

// CityKey normalizes a place name for use as a cache key.
func CityKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// CoordinateKey renders "lat,lon" using the shortest decimal form of each value.
func CoordinateKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
