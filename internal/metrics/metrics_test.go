package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}

	// Recording on a nil receiver must be a no-op.
	m.ObserveLayerLoad("provincias", "ok", time.Second)
	m.IncLayerCacheHit("provincias")
	m.IncLayerToggle("provincias", true, "attached")
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.ObserveLayerLoad("violencia", "ok", 300*time.Millisecond)
	m.ObserveLayerLoad("violencia", "error", 10*time.Millisecond)
	m.IncLayerCacheHit("violencia")
	m.IncLayerToggle("violencia", false, "detached")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		`visor_http_requests_total{method="GET",path="/readyz",status="200"} 1`,
		`visor_layer_loads_total{layer="violencia",result="ok"} 1`,
		`visor_layer_loads_total{layer="violencia",result="error"} 1`,
		`visor_layer_load_duration_seconds_count{layer="violencia"} 2`,
		`visor_layer_cache_hits_total{layer="violencia"} 1`,
		`visor_layer_toggles_total{layer="violencia",result="detached",visible="false"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output; body=%s", want, body)
		}
	}
}
