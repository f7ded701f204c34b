// Package geocode resolves free-text place names to coordinates. Lookups never
// fail loudly: any problem is logged and reported as "not found" to the caller.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/models"
	"github.com/kjstillabower/cropsense-service/internal/observability"
)

const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent    = "CropSense-AI/1.0"
	DefaultTimeout      = 5 * time.Second
)

// Geocoder resolves a place name. found is false when the place cannot be resolved
// for any reason.
type Geocoder interface {
	Resolve(ctx context.Context, place string) (coords models.Coordinates, found bool)
}

// Nominatim queries an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewNominatim returns a Nominatim geocoder. Nominatim rejects requests without a
// User-Agent, so an empty userAgent falls back to DefaultUserAgent.
func NewNominatim(url, userAgent string, timeout time.Duration, logger *zap.Logger) *Nominatim {
	if url == "" {
		url = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Nominatim{client: client, url: url, logger: logger}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (n *Nominatim) Resolve(ctx context.Context, place string) (models.Coordinates, bool) {
	log := observability.LoggerFromContext(ctx, n.logger)
	coords, err := n.lookup(ctx, place)
	if err != nil {
		observability.GeocodeRequestsTotal.WithLabelValues("nominatim", "error").Inc()
		log.Warn("geocoding failed", zap.String("place", place), zap.Error(err))
		return models.Coordinates{}, false
	}
	if coords == nil {
		observability.GeocodeRequestsTotal.WithLabelValues("nominatim", "absent").Inc()
		log.Info("geocoding returned no results", zap.String("place", place))
		return models.Coordinates{}, false
	}
	observability.GeocodeRequestsTotal.WithLabelValues("nominatim", "found").Inc()
	return *coords, true
}

// lookup returns nil coordinates with a nil error when the search has no results.
func (n *Nominatim) lookup(ctx context.Context, place string) (*models.Coordinates, error) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":      place,
			"format": "json",
			"limit":  "1",
		}).
		Get(n.url)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode())
	}

	var results []nominatimResult
	if err := json.Unmarshal(resp.Body(), &results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(results[0].Lat), 64)
	if err != nil {
		return nil, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(results[0].Lon), 64)
	if err != nil {
		return nil, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}
	return &models.Coordinates{Lat: lat, Lon: lon}, nil
}
