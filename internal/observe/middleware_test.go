package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider globally for the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger to a buffer at debug level.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_HealthProbe(t *testing.T) {
	exp := useTracer(t)
	logs := captureLogs(t)
	m, reader := newTestMetrics(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	rec := serve(h, http.MethodGet, "/healthz", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(seen) != 32 || rec.Header().Get(TraceHeader) != seen {
		t.Errorf("trace id in handler %q, header %q", seen, rec.Header().Get(TraceHeader))
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET /healthz" {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].SpanKind.String() != "server" {
		t.Errorf("span kind = %s, want server", spans[0].SpanKind)
	}

	met := findMetric(collect(t, reader), "neurolink.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("histogram points = %+v", hist.DataPoints)
	}
	if v, ok := hist.DataPoints[0].Attributes.Value(attribute.Key("status")); !ok || v.AsInt64() != 200 {
		t.Errorf("status attribute = %v", v)
	}

	if !strings.Contains(logs.String(), "level=DEBUG") || !strings.Contains(logs.String(), `route="GET /healthz"`) {
		t.Errorf("successful probe should log at debug: %s", logs.String())
	}
}

func TestMiddleware_NotReady(t *testing.T) {
	useTracer(t)
	logs := captureLogs(t)
	m, _ := newTestMetrics(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "live: state is CLOSED", http.StatusServiceUnavailable)
	}))
	rec := serve(h, http.MethodGet, "/readyz", nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(logs.String(), "level=INFO") || !strings.Contains(logs.String(), "status=503") {
		t.Errorf("failed probe should log at info with its status: %s", logs.String())
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	exp := useTracer(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := serve(h, http.MethodGet, "/metrics", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if got := rec.Header().Get(TraceHeader); got != traceID {
		t.Errorf("%s = %q, want the caller's trace", TraceHeader, got)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || !spans[0].Parent.IsValid() {
		t.Errorf("span should have a remote parent: %+v", spans)
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	useTracer(t)
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	if rec := serve(h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}
