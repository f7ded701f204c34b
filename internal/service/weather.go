package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/cropsense-service/internal/advisory"
	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/cache"
	"github.com/kjstillabower/cropsense-service/internal/client"
	"github.com/kjstillabower/cropsense-service/internal/geocode"
	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/observability"
	"github.com/kjstillabower/cropsense-service/internal/validation"
)

// DefaultUnits is used when a query does not name a unit system.
const DefaultUnits = "si"

// Cache is the read-through store used by WeatherService. *cache.Store satisfies it.
type Cache interface {
	Lookup(ctx context.Context, key string) (models.CacheEntry, bool, error)
	Upsert(ctx context.Context, key string, payload models.FormattedWeather) error
}

// Formatter turns a raw forecast into the cached payload shape.
type Formatter interface {
	Format(raw client.RawForecast) models.FormattedWeather
}

// DefaultLocator finds a user's default farm location.
type DefaultLocator interface {
	Default(ctx context.Context, userID string) (models.FarmLocation, bool, error)
}

// Query is a weather request as received from a caller. Coordinates are raw
// strings so that only a complete, parseable pair selects the coordinate path.
type Query struct {
	UserID string
	Lat    string
	Lon    string
	City   string
	Units  string
}

// WeatherService serves formatted weather through the cache, falling back to
// geocoding and the forecast API on a miss.
type WeatherService struct {
	fetcher   client.ForecastClient
	geocoder  geocode.Geocoder
	cache     Cache
	formatter Formatter
	defaults  DefaultLocator
	logger    *zap.Logger

	stampede *stampedeTracker
	group    *singleflight.Group // nil unless coalescing is enabled
}

type Option func(*WeatherService)

// WithCoalescing collapses concurrent misses for the same key into one upstream call.
func WithCoalescing(enabled bool) Option {
	return func(s *WeatherService) {
		if enabled {
			s.group = &singleflight.Group{}
		}
	}
}

// WithDefaultLocations enables the default-location fallback in Current.
func WithDefaultLocations(d DefaultLocator) Option {
	return func(s *WeatherService) { s.defaults = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *WeatherService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewWeatherService(fetcher client.ForecastClient, geocoder geocode.Geocoder, c Cache, formatter Formatter, opts ...Option) *WeatherService {
	s := &WeatherService{
		fetcher:   fetcher,
		geocoder:  geocoder,
		cache:     c,
		formatter: formatter,
		logger:    zap.NewNop(),
		stampede:  newStampedeTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ByCoordinates returns weather for lat/lon, from cache when fresh.
func (s *WeatherService) ByCoordinates(ctx context.Context, lat, lon float64, units string) (models.FormattedWeather, error) {
	key := cache.CoordinateKey(lat, lon)
	observability.RecordWeatherQuery(key)
	return s.byCoordinates(ctx, key, lat, lon, units)
}

func (s *WeatherService) byCoordinates(ctx context.Context, key string, lat, lon float64, units string) (models.FormattedWeather, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	if w, ok := s.lookup(ctx, logger, key); ok {
		return w, nil
	}
	return s.onMiss(ctx, key, func() (models.FormattedWeather, error) {
		raw, err := s.fetcher.Fetch(ctx, lat, lon, units)
		if err != nil {
			return models.FormattedWeather{}, fmt.Errorf("fetch weather for %s: %w", key, err)
		}
		w := s.formatter.Format(raw)
		s.store(ctx, logger, key, w)
		return w, nil
	})
}

// ByCity returns weather for a place name. On a miss the city is geocoded, the
// coordinates are resolved through the cache and the result is stored under the city key.
// An unresolvable place wraps apperr.ErrNotFound.
func (s *WeatherService) ByCity(ctx context.Context, city, units string) (models.FormattedWeather, error) {
	key := cache.CityKey(city)
	observability.RecordWeatherQuery(key)
	logger := observability.LoggerFromContext(ctx, s.logger)
	if w, ok := s.lookup(ctx, logger, key); ok {
		return w, nil
	}
	return s.onMiss(ctx, "city:"+key, func() (models.FormattedWeather, error) {
		coords, found := s.geocoder.Resolve(ctx, strings.TrimSpace(city))
		if !found {
			return models.FormattedWeather{}, fmt.Errorf("%w: could not find coordinates for %q", apperr.ErrNotFound, strings.TrimSpace(city))
		}
		w, err := s.byCoordinates(ctx, cache.CoordinateKey(coords.Lat, coords.Lon), coords.Lat, coords.Lon, units)
		if err != nil {
			return models.FormattedWeather{}, err
		}
		s.store(ctx, logger, key, w)
		return w, nil
	})
}

// Refresh geocodes city, fetches a new forecast and overwrites both the coordinate
// and city entries without consulting the cache. Used by cache warming.
func (s *WeatherService) Refresh(ctx context.Context, city, units string) error {
	logger := observability.LoggerFromContext(ctx, s.logger)
	coords, found := s.geocoder.Resolve(ctx, strings.TrimSpace(city))
	if !found {
		return fmt.Errorf("%w: could not find coordinates for %q", apperr.ErrNotFound, strings.TrimSpace(city))
	}
	if units == "" {
		units = DefaultUnits
	}
	raw, err := s.fetcher.Fetch(ctx, coords.Lat, coords.Lon, units)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", city, err)
	}
	w := s.formatter.Format(raw)
	s.store(ctx, logger, cache.CoordinateKey(coords.Lat, coords.Lon), w)
	s.store(ctx, logger, cache.CityKey(city), w)
	return nil
}

// Current resolves the query's location and returns the weather with farming advice.
// Resolution order is coordinates, then city, then the user's default location.
func (s *WeatherService) Current(ctx context.Context, q Query) (models.CurrentReport, error) {
	w, err := s.resolve(ctx, q, true)
	if err != nil {
		return models.CurrentReport{}, err
	}
	rec := advisory.Recommend(w)
	observability.RecommendationsTotal.WithLabelValues("irrigation").Add(float64(len(rec.Irrigation)))
	observability.RecommendationsTotal.WithLabelValues("precautions").Add(float64(len(rec.Precautions)))
	observability.RecommendationsTotal.WithLabelValues("best_activities").Add(float64(len(rec.BestActivities)))
	return models.CurrentReport{Weather: w, Recommendations: rec}, nil
}

// Forecast returns the hourly and daily series. It requires coordinates or a city.
func (s *WeatherService) Forecast(ctx context.Context, q Query) (models.ForecastReport, error) {
	w, err := s.resolve(ctx, q, false)
	if err != nil {
		return models.ForecastReport{}, err
	}
	return models.ForecastReport{Hourly: w.Hourly, Daily: w.Daily}, nil
}

func (s *WeatherService) resolve(ctx context.Context, q Query, allowDefault bool) (models.FormattedWeather, error) {
	units := strings.TrimSpace(q.Units)
	if units == "" {
		units = DefaultUnits
	}

	if strings.TrimSpace(q.Lat) != "" && strings.TrimSpace(q.Lon) != "" {
		lat, err := validation.ParseLatitude(q.Lat)
		if err != nil {
			return models.FormattedWeather{}, err
		}
		lon, err := validation.ParseLongitude(q.Lon)
		if err != nil {
			return models.FormattedWeather{}, err
		}
		return s.ByCoordinates(ctx, lat, lon, units)
	}

	if strings.TrimSpace(q.City) != "" {
		city, err := validation.ValidateCity(q.City, validation.MaxCityLength)
		if err != nil {
			return models.FormattedWeather{}, err
		}
		return s.ByCity(ctx, city, units)
	}

	if !allowDefault {
		return models.FormattedWeather{}, fmt.Errorf("%w: either lat and lon or city is required", apperr.ErrValidation)
	}
	if s.defaults == nil || q.UserID == "" {
		return models.FormattedWeather{}, fmt.Errorf("%w: no location provided and no default location set", apperr.ErrNotFound)
	}
	loc, found, err := s.defaults.Default(ctx, q.UserID)
	if err != nil {
		return models.FormattedWeather{}, fmt.Errorf("load default location: %w", err)
	}
	if !found {
		return models.FormattedWeather{}, fmt.Errorf("%w: no location provided and no default location set", apperr.ErrNotFound)
	}
	if loc.HasCoordinates() {
		return s.ByCoordinates(ctx, *loc.Latitude, *loc.Longitude, units)
	}
	return s.ByCity(ctx, loc.City, units)
}

// lookup treats a cache error as a miss so that a broken cache degrades to upstream calls.
func (s *WeatherService) lookup(ctx context.Context, logger *zap.Logger, key string) (models.FormattedWeather, bool) {
	entry, ok, err := s.cache.Lookup(ctx, key)
	if err != nil {
		logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return models.FormattedWeather{}, false
	}
	if !ok {
		logger.Debug("cache miss", zap.String("key", key))
		return models.FormattedWeather{}, false
	}
	logger.Debug("cache hit", zap.String("key", key))
	return entry.Payload, true
}

// store writes w under key. A failed write is logged and the caller still gets the data.
func (s *WeatherService) store(ctx context.Context, logger *zap.Logger, key string, w models.FormattedWeather) {
	if err := s.cache.Upsert(ctx, key, w); err != nil {
		logger.Warn("cache upsert failed", zap.String("key", key), zap.Error(err))
	}
}

// onMiss runs resolve for a missed key, counting concurrent misses and sharing one
// call among them when coalescing is enabled.
func (s *WeatherService) onMiss(ctx context.Context, key string, resolve func() (models.FormattedWeather, error)) (models.FormattedWeather, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	if n := s.stampede.RecordMiss(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("concurrent cache misses", zap.String("key", key), zap.Int("in_flight", n))
	}
	defer s.stampede.Done(key)

	if s.group == nil {
		w, err := resolve()
		if err == nil {
			logger.Debug("weather resolved upstream", zap.String("key", key), zap.Duration("duration", time.Since(start)))
		}
		return w, err
	}
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return resolve()
	})
	if err != nil {
		return models.FormattedWeather{}, err
	}
	logger.Debug("weather resolved upstream", zap.String("key", key), zap.Bool("shared", shared), zap.Duration("duration", time.Since(start)))
	return v.(models.FormattedWeather), nil
}
