package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("/mcp", 200, 50*time.Millisecond)
	m.RecordRequest("/mcp", 200, 100*time.Millisecond)
	m.RecordRequest("/mcp", 429, 5*time.Millisecond)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/mcp", "200"))
	if val != 2 {
		t.Errorf("expected 2 requests with status 200, got %f", val)
	}

	val = testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/mcp", "429"))
	if val != 1 {
		t.Errorf("expected 1 request with status 429, got %f", val)
	}
}

func TestRecordToolCall(t *testing.T) {
	m := New()
	m.RecordToolCall("search", "ok")
	m.RecordToolCall("search", "ok")
	m.RecordToolCall("fetch", "invalid_params")

	val := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("search", "ok"))
	if val != 2 {
		t.Errorf("expected 2 search calls, got %f", val)
	}

	val = testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("fetch", "invalid_params"))
	if val != 1 {
		t.Errorf("expected 1 failed fetch call, got %f", val)
	}
}

func TestRateLimitAndThreatCounters(t *testing.T) {
	m := New()
	m.RateLimitDenials.WithLabelValues("minute").Inc()
	m.RateLimitDenials.WithLabelValues("weekly").Inc()
	m.RateLimitDenials.WithLabelValues("weekly").Inc()
	m.ThreatBlocks.WithLabelValues("scanner").Inc()

	if v := testutil.ToFloat64(m.RateLimitDenials.WithLabelValues("weekly")); v != 2 {
		t.Errorf("expected 2 weekly denials, got %f", v)
	}
	if v := testutil.ToFloat64(m.ThreatBlocks.WithLabelValues("scanner")); v != 1 {
		t.Errorf("expected 1 threat block, got %f", v)
	}
}

func TestMiddleware(t *testing.T) {
	m := New()

	handler := m.Middleware("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/mcp", "200"))
	if val != 1 {
		t.Errorf("expected 1 request recorded, got %f", val)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	m := New()

	handler := m.Middleware("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/mcp", "429"))
	if val != 1 {
		t.Errorf("expected 1 request with status 429, got %f", val)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordRequest("/mcp", 200, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "appledex_requests_total") {
		t.Error("metrics output missing appledex_requests_total")
	}
	if !strings.Contains(body, "appledex_request_duration_seconds") {
		t.Error("metrics output missing appledex_request_duration_seconds")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go runtime metrics")
	}
}

func TestActiveRequests(t *testing.T) {
	m := New()

	started := make(chan struct{})
	release := make(chan struct{})

	handler := m.Middleware("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}()

	<-started

	if v := testutil.ToFloat64(m.ActiveRequests); v != 1 {
		t.Errorf("expected 1 active request, got %f", v)
	}

	close(release)
}
