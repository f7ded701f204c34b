package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cropsense-service/internal/cache"
	"github.com/kjstillabower/cropsense-service/internal/client"
	"github.com/kjstillabower/cropsense-service/internal/config"
	"github.com/kjstillabower/cropsense-service/internal/detection"
	"github.com/kjstillabower/cropsense-service/internal/format"
	"github.com/kjstillabower/cropsense-service/internal/geocode"
	httphandler "github.com/kjstillabower/cropsense-service/internal/http"
	"github.com/kjstillabower/cropsense-service/internal/lifecycle"
	"github.com/kjstillabower/cropsense-service/internal/observability"
	"github.com/kjstillabower/cropsense-service/internal/service"
	"github.com/kjstillabower/cropsense-service/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var listenPort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default command)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenPort, "port", "", "HTTP listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if listenPort != "" {
		cfg.ServerPort = listenPort
	}
	if err := cfg.RequireWeatherAPIKey(); err != nil {
		return err
	}
	lifecycle.MarkStarted(time.Now())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := store.Open(openCtx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	openCancel()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", cfg.DatabaseDriver))

	weatherCache, cacheCloser, err := buildCache(cfg, db, logger)
	if err != nil {
		return err
	}

	forecast, err := client.NewPirateWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout,
		client.WithLogger(logger),
		client.WithBreaker(client.BreakerConfig{
			Enabled:          cfg.BreakerEnabled,
			FailureThreshold: uint32(cfg.BreakerFailureThreshold),
			OpenTimeout:      cfg.BreakerOpenTimeout,
			HalfOpenRequests: uint32(cfg.BreakerHalfOpenRequests),
		}),
	)
	if err != nil {
		return err
	}
	if cfg.BreakerEnabled {
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.BreakerOpenTimeout))
	}

	locations := store.NewLocations(db)
	weatherSvc := service.NewWeatherService(forecast, buildGeocoder(cfg, logger), weatherCache, format.New(cfg.Location),
		service.WithCoalescing(cfg.CoalesceEnabled),
		service.WithDefaultLocations(locations),
		service.WithLogger(logger),
	)
	locationSvc := service.NewLocationService(locations, logger)

	classifier, err := detection.NewRemoteClassifier(cfg.DetectionModelURL, cfg.DetectionTimeout, logger)
	if err != nil {
		return err
	}
	detectionSvc := detection.NewService(classifier, store.NewDetections(db), cfg.MediaDir, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	healthConfig := &httphandler.HealthConfig{
		Version:              version,
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		RateLimitBurst:       cfg.RateLimitBurst,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		CachePing:            weatherCache.Ping,
	}
	handler := httphandler.NewHandler(weatherSvc, locationSvc, detectionSvc, healthConfig, logger, limiter)

	observability.RegisterTrafficGauges(cfg.OverloadWindow)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	var warmer *cache.Warmer
	if cfg.WarmCache && len(cfg.TrackedLocations) > 0 {
		warmer = cache.NewWarmer(weatherSvc, cfg.Units, cfg.WarmConcurrency, cfg.WeatherAPITimeout+cfg.GeocoderTimeout, logger)
		if cfg.WarmInterval > 0 {
			if err := warmer.Start(ctx, cfg.TrackedLocations, cfg.WarmInterval); err != nil {
				logger.Warn("cache warming not scheduled", zap.Error(err))
			}
		} else if err := warmer.Warm(ctx, cfg.TrackedLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
	}

	if cfg.TestingMode {
		logger.Warn("testing mode enabled; /test endpoints exposed")
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(srv, warmer, cfg, logger)
		return nil
	})
	err = g.Wait()

	var closers []func() error
	if cacheCloser != nil {
		closers = append(closers, cacheCloser.Close)
	}
	if flushErr := observability.Flush(logger, closers...); flushErr != nil {
		logger.Error("shutdown flush", zap.Error(flushErr))
	}
	logger.Info("shutdown complete")
	return err
}

// shutdown flips health to shutting-down, stops warming, drains the server and
// waits for in-flight requests within cfg.ShutdownTimeout.
func shutdown(srv *http.Server, warmer *cache.Warmer, cfg *config.Config, logger *zap.Logger) {
	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
}

// buildCache picks the weather cache backend. The returned closer is nil for
// backends that share the database handle or hold no connections.
func buildCache(cfg *config.Config, db *store.DB, logger *zap.Logger) (*cache.Store, io.Closer, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return cache.NewStore("memcached", mc, cfg.CacheTTL), mc, nil
	case "redis":
		rc := cache.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return cache.NewStore("redis", rc, cfg.CacheTTL), rc, nil
	case "in_memory":
		logger.Info("cache backend: in_memory")
		return cache.NewStore("in_memory", cache.NewMemoryBackend(), cfg.CacheTTL), nil, nil
	case "sql", "":
		logger.Info("cache backend: sql", zap.String("driver", cfg.DatabaseDriver))
		return cache.NewStore("sql", store.NewWeatherCache(db), cfg.CacheTTL), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend: %q", cfg.CacheBackend)
	}
}

func buildGeocoder(cfg *config.Config, logger *zap.Logger) geocode.Geocoder {
	if cfg.GeocoderProvider == "google" {
		logger.Info("geocoder: google")
		return geocode.NewGoogle(cfg.GeocoderAPIKey, cfg.GeocoderTimeout, logger)
	}
	logger.Info("geocoder: nominatim", zap.String("url", cfg.GeocoderURL))
	return geocode.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderTimeout, logger)
}
