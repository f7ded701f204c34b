package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/cropsense-service/internal/lifecycle"
	"github.com/kjstillabower/cropsense-service/internal/observability"
	"github.com/kjstillabower/cropsense-service/internal/traffic"
)

const cachePingTimeout = 2 * time.Second

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	Version              string
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	RateLimitBurst       int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, reports whether the cache backend is reachable.
	CachePing func(ctx context.Context) error
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
	cacheOK    bool
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"forecastApi": "healthy", "cache": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["forecastApi"] = "unhealthy"
	}
	if !result.cacheOK {
		checks["cache"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	now := time.Now()
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "cropsense",
		"version":   version,
		"checks":    checks,
		"uptime":    lifecycle.Uptime(now).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, cache reachability,
// overload, upstream error rate. The first match wins.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", true}
	}
	cfg := h.healthConfig
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, "", true}
	}
	if cfg.CachePing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
		err := cfg.CachePing(pingCtx)
		cancel()
		if err != nil {
			observability.LoggerFromContext(ctx, h.logger).Warn("cache ping failed", zap.Error(err))
			return healthResult{"degraded", http.StatusServiceUnavailable, "cache_unreachable", false}
		}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 {
		if float64(traffic.DenialCount(cfg.OverloadWindow)) > overloadThreshold(cfg) {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", true}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", true}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", true}
}

func overloadThreshold(cfg *HealthConfig) float64 {
	return float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
}

func (h *Handler) degradedWindow() time.Duration {
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		return h.healthConfig.DegradedWindow
	}
	return time.Minute
}

// GetTestStatus handles GET /test. Only routed in testing mode.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.degradedWindow()
	errs, total := traffic.ErrorRate(window)

	cfg := map[string]interface{}{}
	if h.healthConfig != nil {
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold"] = int(overloadThreshold(h.healthConfig))
		cfg["overload_window_seconds"] = h.healthConfig.OverloadWindow.Seconds()
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  traffic.RequestCount(window),
		"denied_requests_in_window": traffic.DenialCount(window),
		"errors_in_window":          errs,
		"outcomes_in_window":        total,
		"window_length":             window.String(),
		"state":                     h.computeHealthStatus(r.Context()).status,
		"config":                    cfg,
	})
}

// PostTestAction handles POST /test/{action}: load, error, reset, shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	switch action := mux.Vars(r)["action"]; action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "action": "reset", "message": "All simulated state cleared",
		})
	case "shutdown":
		lifecycle.SetShuttingDown(true)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "action": "shutdown", "message": "Shutting-down flag set",
		})
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown test action: "+action)
	}
}

func testCount(r *http.Request, fallback int) int {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return fallback
	}
	return body.Count
}

// postTestLoad pushes count requests through the rate limiter without serving them.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	count := testCount(r, 10)
	var accepted, denied int
	for i := 0; i < count; i++ {
		if h.rateLimiter == nil || h.rateLimiter.Allow() {
			traffic.Record(traffic.Success)
			accepted++
			continue
		}
		traffic.Record(traffic.Denied)
		observability.RateLimitDeniedTotal.Inc()
		denied++
	}
	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    h.computeHealthStatus(r.Context()).status,
		"accepted": accepted,
		"denied":   denied,
	})
}

func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	count := testCount(r, 1)
	for i := 0; i < count; i++ {
		traffic.Record(traffic.UpstreamError)
	}
	errs, total := traffic.ErrorRate(h.degradedWindow())
	pct := 0
	if total > 0 {
		pct = errs * 100 / total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(count) + " errors",
		"state":          h.computeHealthStatus(r.Context()).status,
		"error_rate_pct": pct,
	})
}
