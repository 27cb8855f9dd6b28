package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func record(t *testing.T, ratio float64) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	shutdown, err := Init(context.Background(), Options{ServiceName: "trading-test", Env: "test", SampleRatio: ratio}, sdktrace.WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	return recorder
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	opts, err := OptionsFromEnv("trading-service", "dev")
	if err != nil {
		t.Fatalf("OptionsFromEnv: %v", err)
	}
	if opts.Endpoint != "collector:4318" || opts.SampleRatio != 0.25 {
		t.Fatalf("unexpected options: %+v", opts)
	}

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "2")
	if _, err := OptionsFromEnv("trading-service", "dev"); err == nil {
		t.Fatalf("expected out of range ratio to fail")
	}
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := record(t, 1)

	r := gin.New()
	r.Use(Middleware("trading-test"))
	r.GET("/instruments/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	for _, path := range []string{"/instruments/abc", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "GET /instruments/:id" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if !hasAttr(spans[0].Attributes(), "http.status_code", attribute.IntValue(404)) {
		t.Fatalf("missing status attribute: %v", spans[0].Attributes())
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("4xx should not mark the span as failed")
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("expected 5xx span to be marked failed")
	}
}

func TestMiddlewareContinuesIncomingTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := record(t, 1)

	r := gin.New()
	r.Use(Middleware("trading-test"))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected trace id from header, got %s", got)
	}
}

func TestZeroRatioDropsRootSpans(t *testing.T) {
	recorder := record(t, 0)

	_, span := Tracer("trading-test").Start(context.Background(), "trade.buy")
	span.End()

	if n := len(recorder.Ended()); n != 0 {
		t.Fatalf("expected unsampled span to be dropped, got %d", n)
	}
}

func hasAttr(attrs []attribute.KeyValue, key string, want attribute.Value) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key && kv.Value == want {
			return true
		}
	}
	return false
}
