package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cropsense-service/internal/lifecycle"
	"github.com/kjstillabower/cropsense-service/internal/traffic"
)

type healthBody struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

func getHealth(t *testing.T, router http.Handler) (int, healthBody) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return w.Code, body
}

func baseHealthConfig() *HealthConfig {
	return &HealthConfig{
		Version:              "1.2.3",
		OverloadWindow:       time.Minute,
		OverloadThresholdPct: 80,
		RateLimitRPS:         1,
		DegradedWindow:       time.Minute,
		DegradedErrorPct:     5,
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(cfg *HealthConfig)
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "healthy",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"cache": "healthy", "forecastApi": "healthy"},
		},
		{
			name:       "shutting down",
			setup:      func(*HealthConfig) { lifecycle.SetShuttingDown(true) },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting-down",
		},
		{
			name: "cache unreachable",
			setup: func(cfg *HealthConfig) {
				cfg.CachePing = func(context.Context) error { return errors.New("connection refused") }
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantChecks: map[string]string{"cache": "unhealthy", "forecastApi": "healthy"},
		},
		{
			name: "overloaded",
			setup: func(*HealthConfig) {
				// threshold = 1 rps * 60s * 80% = 48 denials
				for i := 0; i < 49; i++ {
					traffic.Record(traffic.Denied)
				}
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "overloaded",
		},
		{
			name: "denials at threshold are not overload",
			setup: func(*HealthConfig) {
				for i := 0; i < 48; i++ {
					traffic.Record(traffic.Denied)
				}
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "upstream error rate breach",
			setup: func(*HealthConfig) {
				for i := 0; i < 19; i++ {
					traffic.Record(traffic.Success)
				}
				traffic.Record(traffic.UpstreamError)
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantChecks: map[string]string{"cache": "healthy", "forecastApi": "unhealthy"},
		},
		{
			name: "error rate below threshold",
			setup: func(*HealthConfig) {
				for i := 0; i < 20; i++ {
					traffic.Record(traffic.Success)
				}
				traffic.Record(traffic.UpstreamError)
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseHealthConfig()
			ts := newTestServer(t, cfg, false)
			if tt.setup != nil {
				tt.setup(cfg)
			}

			code, body := getHealth(t, ts.router)
			if code != tt.wantCode {
				t.Errorf("status code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Service != "cropsense" || body.Version != "1.2.3" {
				t.Errorf("service/version = %q/%q", body.Service, body.Version)
			}
			for k, want := range tt.wantChecks {
				if body.Checks[k] != want {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], want)
				}
			}
		})
	}
}

func TestHandler_GetHealth_NilConfig(t *testing.T) {
	ts := newTestServer(t, nil, false)
	code, body := getHealth(t, ts.router)
	if code != http.StatusOK || body.Status != "healthy" || body.Version != "dev" {
		t.Errorf("got %d %+v, want 200 healthy dev", code, body)
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	t.Cleanup(func() { lifecycle.SetShuttingDown(false) })

	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(&fakeWeather{}, newFakeLocations(), &fakeDetection{}, baseHealthConfig(), zap.New(core), nil)
	router := NewRouter(h, zap.NewNop(), RouterConfig{})

	getHealth(t, router)
	lifecycle.SetShuttingDown(true)
	getHealth(t, router)
	getHealth(t, router)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" || fields["reason"] != "signal" {
		t.Errorf("fields = %v", fields)
	}
}

func TestHandler_TestEndpointsOnlyInTestingMode(t *testing.T) {
	ts := newTestServer(t, baseHealthConfig(), false)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /test status = %d, want 404 outside testing mode", w.Code)
	}
}

func postTest(t *testing.T, router http.Handler, action, body string) map[string]interface{} {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/test/"+action, strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /test/%s status = %d, want 200", action, w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHandler_PostTestActions(t *testing.T) {
	cfg := baseHealthConfig()
	ts := newTestServer(t, cfg, true)

	out := postTest(t, ts.router, "error", `{"count": 3}`)
	if out["state"] != "degraded" || out["error_rate_pct"] != float64(100) {
		t.Errorf("error action = %v", out)
	}

	out = postTest(t, ts.router, "reset", "")
	if out["action"] != "reset" {
		t.Errorf("reset action = %v", out)
	}
	if errs, total := traffic.ErrorRate(time.Minute); errs != 0 || total != 0 {
		t.Errorf("after reset ErrorRate = (%d, %d), want (0, 0)", errs, total)
	}

	out = postTest(t, ts.router, "load", `{"count": 5}`)
	if out["accepted"] != float64(5) || out["denied"] != float64(0) {
		t.Errorf("load action = %v", out)
	}

	postTest(t, ts.router, "shutdown", "")
	if !lifecycle.IsShuttingDown() {
		t.Error("shutdown action did not set the flag")
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest("POST", "/test/explode", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action status = %d, want 404", w.Code)
	}
}

func TestHandler_PostTestLoad_DeniesOverLimit(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	cfg := baseHealthConfig()
	limiter := rate.NewLimiter(rate.Limit(1), 2)
	h := NewHandler(&fakeWeather{}, newFakeLocations(), &fakeDetection{}, cfg, zap.NewNop(), limiter)
	router := NewRouter(h, zap.NewNop(), RouterConfig{TestingMode: true})

	out := postTest(t, router, "load", `{"count": 5}`)
	if out["accepted"] != float64(2) || out["denied"] != float64(3) {
		t.Errorf("load = %v, want 2 accepted 3 denied", out)
	}
	if got := traffic.DenialCount(time.Minute); got != 3 {
		t.Errorf("DenialCount = %d, want 3", got)
	}
}

func TestHandler_GetTestStatus(t *testing.T) {
	ts := newTestServer(t, baseHealthConfig(), true)
	traffic.Record(traffic.Success)
	traffic.Record(traffic.Denied)

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["total_requests_in_window"] != float64(2) || out["denied_requests_in_window"] != float64(1) {
		t.Errorf("counts = %v", out)
	}
	cfg, _ := out["config"].(map[string]interface{})
	if cfg["overload_threshold"] != float64(48) {
		t.Errorf("overload_threshold = %v, want 48", cfg["overload_threshold"])
	}
}
