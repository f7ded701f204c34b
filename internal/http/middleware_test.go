package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cropsense-service/internal/observability"
	"github.com/kjstillabower/cropsense-service/internal/traffic"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"client provided", "client-provided-id"},
		{"generated", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			var seen string
			router := mux.NewRouter()
			router.Use(CorrelationIDMiddleware(zap.New(core)))
			router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
				seen = observability.CorrelationID(r.Context())
				observability.LoggerFromContext(r.Context(), nil).Info("handled")
			})

			req := httptest.NewRequest("GET", "/ping", nil)
			if tt.header != "" {
				req.Header.Set("X-Correlation-ID", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get("X-Correlation-ID")
			if got == "" || got != seen {
				t.Fatalf("header = %q, context = %q", got, seen)
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.header)
			}
			entries := logs.FilterMessage("handled").All()
			if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != got {
				t.Errorf("request logger missing correlation_id: %v", entries)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	var user string
	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = userFrom(r)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "  farmer1 ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || user != "farmer1" {
		t.Errorf("status = %d, user = %q; want 200 farmer1", w.Code, user)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "   ")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("blank header status = %d, want 401", w.Code)
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	var ctxErr error
	handler := TimeoutMiddleware(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			ctxErr = r.Context().Err()
		case <-time.After(time.Second):
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if ctxErr != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {})

	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, httptest.NewRequest("GET", "/api", nil))
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest("GET", "/api", nil))

	if w1.Code != http.StatusOK {
		t.Errorf("first status = %d, want 200", w1.Code)
	}
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w2.Code)
	}
	if code := decodeError(t, w2).Error.Code; code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", code)
	}
	if got := traffic.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		if w.Code != http.StatusTeapot {
			t.Fatalf("request %d status = %d, want 418", i, w.Code)
		}
	}
}

func TestTrafficMiddleware_ClassifiesOutcomes(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusBadGateway, http.StatusGatewayTimeout} {
		handler := TrafficMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	}

	errs, total := traffic.ErrorRate(time.Minute)
	if errs != 2 || total != 4 {
		t.Errorf("ErrorRate = (%d, %d), want (2, 4)", errs, total)
	}
}

func TestRouteLabel(t *testing.T) {
	var label string
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/weather/locations/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		label = routeLabel(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/weather/locations/42", nil))
	if label != "/api/v1/weather/locations/{id:[0-9]+}" {
		t.Errorf("routeLabel = %q, want the path template", label)
	}

	if got := routeLabel(httptest.NewRequest("GET", "/nowhere", nil)); got != "unmatched" {
		t.Errorf("routeLabel without route = %q, want unmatched", got)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
	}))
	before := InFlightCount()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if during != before+1 {
		t.Errorf("in-flight during request = %d, want %d", during, before+1)
	}
	if after := InFlightCount(); after != before {
		t.Errorf("in-flight after request = %d, want %d", after, before)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil, false)
	ts.do("GET", "/api/v1/detection/diseases", "", nil)

	w := ts.do("GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := w.Body.String(); !containsAll(body, "httpRequestsTotal", "/api/v1/detection/diseases") {
		t.Error("metrics output missing httpRequestsTotal for the diseases route")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
