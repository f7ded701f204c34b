package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned by RequireWeatherAPIKey when no forecast key is configured.
var ErrMissingAPIKey = errors.New("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	TestingMode bool

	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	Units             string

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenRequests int

	GeocoderProvider  string // "nominatim" or "google"
	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderAPIKey    string
	GeocoderTimeout   time.Duration

	CacheBackend    string // "sql", "memcached", "redis" or "in_memory"
	CacheTTL        time.Duration
	CoalesceEnabled bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	DetectionModelURL string
	DetectionTimeout  time.Duration
	MediaDir          string

	// Timezone names the zone used to render forecast times; Location is its loaded form.
	Timezone string
	Location *time.Location

	RateLimitRPS   int
	RateLimitBurst int

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	TrackedLocations []string
	WarmCache        bool
	WarmInterval     time.Duration
	WarmConcurrency  int
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	WeatherAPI struct {
		URL            string `yaml:"url"`
		Timeout        string `yaml:"timeout"`
		Units          string `yaml:"units"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
			HalfOpenRequests int    `yaml:"half_open_requests"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Geocoder struct {
		Provider  string `yaml:"provider"`
		URL       string `yaml:"url"`
		UserAgent string `yaml:"user_agent"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"geocoder"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Coalesce  bool   `yaml:"coalesce"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		Warm struct {
			Enabled     bool   `yaml:"enabled"`
			Interval    string `yaml:"interval"`
			Concurrency int    `yaml:"concurrency"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Detection struct {
		ModelURL string `yaml:"model_url"`
		Timeout  string `yaml:"timeout"`
		MediaDir string `yaml:"media_dir"`
	} `yaml:"detection"`

	Format struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"format"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey  string `yaml:"weather_api_key"`
	GeocoderAPIKey string `yaml:"geocoder_api_key"`
	DatabaseDSN    string `yaml:"database_dsn"`
	RedisPassword  string `yaml:"redis_password"`
}

// Load reads path, or config/{ENV_NAME}.yaml (default dev) under the working directory
// when path is empty. A .env file in the working directory is loaded first without
// overriding variables already set. Secrets come from the environment or from
// secrets.yaml next to the config file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		env := os.Getenv("ENV_NAME")
		if env == "" {
			env = "dev"
		}
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		path = filepath.Join(cwd, "config", env+".yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	sec, err := readSecrets(filepath.Join(filepath.Dir(path), "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = firstNonEmpty(fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 20*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.pirateweather.net/forecast")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.Units = firstNonEmpty(strings.TrimSpace(fc.WeatherAPI.Units), "si")
	cb := fc.WeatherAPI.CircuitBreaker
	cfg.BreakerEnabled = cb.Enabled
	cfg.BreakerFailureThreshold = positiveOr(cb.FailureThreshold, 5)
	cfg.BreakerOpenTimeout = parseDuration(cb.OpenTimeout, 30*time.Second)
	cfg.BreakerHalfOpenRequests = positiveOr(cb.HalfOpenRequests, 1)

	cfg.GeocoderProvider = firstNonEmpty(strings.ToLower(strings.TrimSpace(fc.Geocoder.Provider)), "nominatim")
	cfg.GeocoderURL = strings.TrimSpace(fc.Geocoder.URL)
	cfg.GeocoderUserAgent = firstNonEmpty(strings.TrimSpace(fc.Geocoder.UserAgent), "CropSense-AI/1.0")
	cfg.GeocoderAPIKey = firstNonEmpty(os.Getenv("GEOCODER_API_KEY"), sec.GeocoderAPIKey)
	cfg.GeocoderTimeout = parseDuration(fc.Geocoder.Timeout, 5*time.Second)

	cfg.CacheBackend = firstNonEmpty(
		strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))),
		strings.TrimSpace(strings.ToLower(fc.Cache.Backend)),
		"sql",
	)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CoalesceEnabled = fc.Cache.Coalesce
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.RedisAddr = firstNonEmpty(
		strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		strings.TrimSpace(fc.Cache.Redis.Addr),
		"localhost:6379",
	)
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.DatabaseDriver = firstNonEmpty(strings.ToLower(strings.TrimSpace(fc.Database.Driver)), "sqlite")
	cfg.DatabaseDSN = firstNonEmpty(os.Getenv("DATABASE_DSN"), sec.DatabaseDSN, fc.Database.DSN)
	if cfg.DatabaseDSN == "" && cfg.DatabaseDriver == "sqlite" {
		cfg.DatabaseDSN = filepath.Join("data", "cropsense.db")
	}

	cfg.DetectionModelURL = firstNonEmpty(strings.TrimSpace(fc.Detection.ModelURL), "http://localhost:8000")
	cfg.DetectionTimeout = parseDuration(fc.Detection.Timeout, 30*time.Second)
	cfg.MediaDir = firstNonEmpty(strings.TrimSpace(fc.Detection.MediaDir), "media")

	cfg.Timezone = strings.TrimSpace(fc.Format.Timezone)

	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 5)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	cfg.WarmCache = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)
	cfg.WarmConcurrency = positiveOr(fc.Cache.Warm.Concurrency, 4)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireWeatherAPIKey reports ErrMissingAPIKey when no forecast key is set.
// Only commands that call the forecast API need it.
func (c *Config) RequireWeatherAPIKey() error {
	if strings.TrimSpace(c.WeatherAPIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func readSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// parseDuration parses s and returns defaultVal when s is empty, malformed or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero is parseDuration without the positivity fallback, so an explicit
// zero or negative value reaches validation.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

// validate checks backend choices and timeouts after load. RequestTimeout is raised
// above WeatherAPITimeout when it would cut forecast calls short.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "sql", "memcached", "redis", "in_memory":
	default:
		return fmt.Errorf("cache.backend must be sql, memcached, redis or in_memory, got %q", cfg.CacheBackend)
	}
	switch cfg.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDSN == "" {
		return fmt.Errorf("database DSN required for %s (set DATABASE_DSN, secrets.yaml database_dsn or database.dsn)", cfg.DatabaseDriver)
	}
	switch cfg.GeocoderProvider {
	case "nominatim":
	case "google":
		if cfg.GeocoderAPIKey == "" {
			return fmt.Errorf("geocoder.provider google requires GEOCODER_API_KEY")
		}
	default:
		return fmt.Errorf("geocoder.provider must be nominatim or google, got %q", cfg.GeocoderProvider)
	}
	if cfg.WarmCache && cfg.WarmInterval < 0 {
		return fmt.Errorf("cache.warm.interval must not be negative")
	}

	switch cfg.Timezone {
	case "", "Local":
		cfg.Location = time.Local
	default:
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("format.timezone: %w", err)
		}
		cfg.Location = loc
	}
	return nil
}
