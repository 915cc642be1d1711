package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/capture/internal/telemetry"
	"github.com/eugener/capture/internal/testutil"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Sessions:       testutil.NewFakeStore(),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// Hit a normal endpoint first to generate metrics.
	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	// Now check /metrics.
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	metricsBody := rec.Body.String()
	for _, name := range []string{
		"capture_admin_requests_total",
		"capture_admin_request_duration_seconds",
		"capture_discards_total",
	} {
		if !strings.Contains(metricsBody, name) {
			t.Errorf("metrics should contain %s", name)
		}
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Auth:     testutil.FakeAuth{},
		Sessions: testutil.NewFakeStore(),
		Metrics:  metrics,
	})

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	// Parameterized routes are labelled by pattern, not raw path.
	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodGet, "/admin/live/"+id, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]float64{}
	found := false
	for _, f := range families {
		if f.GetName() != "capture_admin_requests_total" {
			continue
		}
		found = true
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					counts[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	if !found {
		t.Fatal("capture_admin_requests_total metric not found")
	}
	if counts["/healthz"] != 3 {
		t.Errorf("requests_total for /healthz = %v, want 3", counts["/healthz"])
	}
	if counts["/admin/live/{id}"] != 2 {
		t.Errorf("requests_total for /admin/live/{id} = %v, want 2 (counts %v)", counts["/admin/live/{id}"], counts)
	}
}
