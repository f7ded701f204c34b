package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/cropsense-service/internal/observability"
)

// Refresher re-resolves a city and overwrites its cache entries. Implemented by the
// weather service; declared here to keep cache free of a service dependency.
type Refresher interface {
	Refresh(ctx context.Context, city, units string) error
}

// Warmer keeps tracked cities fresh ahead of user requests.
type Warmer struct {
	refresher   Refresher
	units       string
	concurrency int
	perCity     time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// NewWarmer returns a Warmer that refreshes in units with at most concurrency
// cities in flight. perCity bounds each refresh.
func NewWarmer(refresher Refresher, units string, concurrency int, perCity time.Duration, logger *zap.Logger) *Warmer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if perCity <= 0 {
		perCity = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{refresher: refresher, units: units, concurrency: concurrency, perCity: perCity, logger: logger}
}

// Warm refreshes every city concurrently. One failure does not stop the others;
// all failures are joined into the returned error.
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	if len(cities) == 0 {
		return nil
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(cities)))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(w.concurrency)
	for _, city := range cities {
		city := city
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, w.perCity)
			defer cancel()
			if err := w.refresher.Refresh(cctx, city, w.units); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// Start runs Warm immediately and then every interval until Stop. Runs never overlap.
func (w *Warmer) Start(ctx context.Context, cities []string, interval time.Duration) error {
	if len(cities) == 0 {
		w.logger.Info("cache warming: no locations configured")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("cache warming interval must be positive, got %s", interval)
	}

	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).SingletonMode().Do(func() {
		if err := w.Warm(ctx, cities); err != nil {
			w.logger.Warn("cache warming failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}

	w.mu.Lock()
	w.scheduler = s
	w.mu.Unlock()
	s.StartAsync()
	return nil
}

func (w *Warmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		w.scheduler.Stop()
		w.scheduler = nil
	}
}
