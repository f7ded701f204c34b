package geocode

import (
	"context"
	"sync"
	"time"

	"github.com/kelvins/geocoder"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/observability"
)

// The geocoder library keeps its API key in a package variable.
var apiKeyMu sync.Mutex

// Google resolves places through the Google Geocoding API.
type Google struct {
	timeout time.Duration
	logger  *zap.Logger
	lookup  func(geocoder.Address) (geocoder.Location, error)
}

func NewGoogle(apiKey string, timeout time.Duration, logger *zap.Logger) *Google {
	apiKeyMu.Lock()
	geocoder.ApiKey = apiKey
	apiKeyMu.Unlock()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Google{timeout: timeout, logger: logger, lookup: geocoder.Geocoding}
}

type googleResult struct {
	loc geocoder.Location
	err error
}

// Resolve runs the blocking library call on its own goroutine so ctx and the
// configured timeout still bound the caller.
func (g *Google) Resolve(ctx context.Context, place string) (models.Coordinates, bool) {
	log := observability.LoggerFromContext(ctx, g.logger)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan googleResult, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{City: place})
		done <- googleResult{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		observability.GeocodeRequestsTotal.WithLabelValues("google", "error").Inc()
		log.Warn("geocoding timed out", zap.String("place", place), zap.Error(ctx.Err()))
		return models.Coordinates{}, false
	case res := <-done:
		if res.err != nil {
			observability.GeocodeRequestsTotal.WithLabelValues("google", "error").Inc()
			log.Warn("geocoding failed", zap.String("place", place), zap.Error(res.err))
			return models.Coordinates{}, false
		}
		observability.GeocodeRequestsTotal.WithLabelValues("google", "found").Inc()
		return models.Coordinates{Lat: res.loc.Latitude, Lon: res.loc.Longitude}, true
	}
}
