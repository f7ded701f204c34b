package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
	"github.com/kjstillabower/cropsense-service/internal/observability"
)

// DefaultBaseURL is the Pirate Weather forecast endpoint.
const DefaultBaseURL = "https://api.pirateweather.net/forecast"

// DefaultTimeout bounds one forecast call.
const DefaultTimeout = 10 * time.Second

// ForecastClient fetches the raw forecast for one coordinate pair.
type ForecastClient interface {
	Fetch(ctx context.Context, lat, lon float64, units string) (RawForecast, error)
}

// BreakerConfig enables the optional circuit breaker around forecast calls.
type BreakerConfig struct {
	Enabled bool
	// Consecutive failures that open the circuit.
	FailureThreshold uint32
	// Time the circuit stays open before a probe.
	OpenTimeout time.Duration
	// Probe requests allowed while half-open.
	HalfOpenRequests uint32
}

type PirateWeatherClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

type Option func(*PirateWeatherClient)

func WithHTTPClient(c *http.Client) Option {
	return func(p *PirateWeatherClient) { p.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *PirateWeatherClient) { p.logger = l }
}

// WithBreaker wraps calls in a gobreaker circuit breaker. Disabled configs are ignored.
func WithBreaker(cfg BreakerConfig) Option {
	return func(p *PirateWeatherClient) {
		if !cfg.Enabled {
			return
		}
		if cfg.FailureThreshold == 0 {
			cfg.FailureThreshold = 5
		}
		if cfg.OpenTimeout <= 0 {
			cfg.OpenTimeout = 30 * time.Second
		}
		if cfg.HalfOpenRequests == 0 {
			cfg.HalfOpenRequests = 1
		}
		threshold := cfg.FailureThreshold
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "forecast",
			MaxRequests: cfg.HalfOpenRequests,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.CircuitBreakerState.WithLabelValues(name).Set(observability.CircuitBreakerStateValue(to.String()))
				p.logger.Warn("circuit breaker state change",
					zap.String("component", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
		observability.CircuitBreakerState.WithLabelValues("forecast").Set(0)
	}
}

// NewPirateWeatherClient returns a forecast client. An empty baseURL uses DefaultBaseURL
// and a non-positive timeout uses DefaultTimeout.
func NewPirateWeatherClient(apiKey, baseURL string, timeout time.Duration, opts ...Option) (*PirateWeatherClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("forecast API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &PirateWeatherClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Fetch issues one forecast request. Timeouts wrap apperr.ErrServiceTimeout; every other
// failure, including an open circuit, wraps apperr.ErrServiceError. Nothing is retried.
func (p *PirateWeatherClient) Fetch(ctx context.Context, lat, lon float64, units string) (RawForecast, error) {
	if p.breaker == nil {
		return p.fetch(ctx, lat, lon, units)
	}
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, lat, lon, units)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ForecastAPICallsTotal.WithLabelValues("circuit_open").Inc()
		return RawForecast{}, fmt.Errorf("%w: forecast circuit open: %v", apperr.ErrServiceError, err)
	}
	if err != nil {
		return RawForecast{}, err
	}
	return out.(RawForecast), nil
}

func (p *PirateWeatherClient) fetch(ctx context.Context, lat, lon float64, units string) (RawForecast, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.forecastURL(lat, lon, units), nil)
	if err != nil {
		p.record("error", start)
		return RawForecast{}, fmt.Errorf("%w: build request: %v", apperr.ErrServiceError, err)
	}
	req.Header.Set("Accept", "application/json")
	if id := observability.CorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			p.record("timeout", start)
			return RawForecast{}, fmt.Errorf("%w: forecast request timed out after %s", apperr.ErrServiceTimeout, p.timeout)
		}
		p.record("error", start)
		return RawForecast{}, fmt.Errorf("%w: forecast connection failed: %v", apperr.ErrServiceError, redact(err, p.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		p.record(statusLabel(resp.StatusCode), start)
		return RawForecast{}, fmt.Errorf("%w: forecast API returned HTTP %d", apperr.ErrServiceError, resp.StatusCode)
	}

	var raw RawForecast
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		if isTimeout(err) {
			p.record("timeout", start)
			return RawForecast{}, fmt.Errorf("%w: forecast body read timed out after %s", apperr.ErrServiceTimeout, p.timeout)
		}
		p.record("decode_error", start)
		return RawForecast{}, fmt.Errorf("%w: decode forecast body: %v", apperr.ErrServiceError, err)
	}
	p.record("success", start)
	return raw, nil
}

// forecastURL builds <base>/<key>/<lat>,<lon>?units=<units>&exclude=minutely,alerts.
func (p *PirateWeatherClient) forecastURL(lat, lon float64, units string) string {
	q := url.Values{}
	q.Set("units", units)
	q.Set("exclude", "minutely,alerts")
	return fmt.Sprintf("%s/%s/%s,%s?%s",
		p.baseURL,
		url.PathEscape(p.apiKey),
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64),
		q.Encode(),
	)
}

func (p *PirateWeatherClient) record(status string, start time.Time) {
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// redact keeps the API key, which is part of the URL path, out of error text and logs.
func redact(err error, key string) string {
	return strings.ReplaceAll(err.Error(), key, "***")
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
