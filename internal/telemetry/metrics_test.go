package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.ConnsAccepted == nil || m.ConnsRejected == nil {
		t.Error("connection counters are nil")
	}
	if m.ActiveSessions == nil || m.ShardQueueDepth == nil {
		t.Error("gauges are nil")
	}
	if m.CallbackRounds == nil || m.Requeues == nil || m.Discards == nil {
		t.Error("round counters are nil")
	}
	if m.SessionDuration == nil || m.RequestDuration == nil {
		t.Error("histograms are nil")
	}

	// Verify metrics can be gathered without error.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected pre-created discard series")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.ConnsAccepted.Inc()
	m.ConnsRejected.WithLabelValues("rate_limited").Inc()
	m.ActiveSessions.Set(3)
	m.ShardQueueDepth.WithLabelValues("0").Set(2)
	m.CallbackRounds.WithLabelValues("0").Inc()
	m.Requeues.WithLabelValues("0").Inc()
	m.Discards.WithLabelValues("eof").Inc()
	m.FramesTotal.WithLabelValues("frame").Inc()
	m.SessionDuration.Observe(1.5)
	m.RequestsTotal.WithLabelValues("GET", "/admin/sessions", "200").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"capture_connections_accepted_total",
		"capture_connections_rejected_total",
		"capture_active_sessions",
		"capture_shard_queue_depth",
		"capture_callback_rounds_total",
		"capture_requeues_total",
		"capture_discards_total",
		"capture_frames_total",
		"capture_session_duration_seconds",
		"capture_admin_requests_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

func TestSessionSpan(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(t.Context()) })

	span := StartSessionSpan(tp.Tracer(TracerName), "s-1", "127.0.0.1:5000", 2)
	EndSessionSpan(span, "eof", 4, 100, 20, false)

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if got["session.id"].AsString() != "s-1" {
		t.Errorf("session.id = %v", got["session.id"])
	}
	if got["capture.close_reason"].AsString() != "eof" {
		t.Errorf("close_reason = %v", got["capture.close_reason"])
	}
	if got["capture.frames"].AsInt64() != 4 {
		t.Errorf("frames = %v", got["capture.frames"])
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	if sampler(1).Description() != sdktrace.AlwaysSample().Description() {
		t.Error("rate 1 should always sample")
	}
	if sampler(0).Description() != sdktrace.NeverSample().Description() {
		t.Error("rate 0 should never sample")
	}
}
