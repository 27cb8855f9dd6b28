package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewHTTPMetrics(registry)

	m.Observe(http.MethodPost, "/trades/buy", "200", 12*time.Millisecond)
	m.Observe(http.MethodPost, "/trades/buy", "200", 8*time.Millisecond)
	m.Observe(http.MethodPost, "/trades/buy", "422", time.Millisecond)

	if got := testutil.ToFloat64(m.RequestCount.WithLabelValues(http.MethodPost, "/trades/buy", "200")); got != 2 {
		t.Fatalf("expected 2 ok requests, got %v", got)
	}
	if got := testutil.CollectAndCount(m.RequestDuration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestObserveNilIsNoop(t *testing.T) {
	var m *HTTPMetrics
	m.Observe(http.MethodGet, "/healthz", "200", time.Millisecond)
}

func TestHandlerExposesRegistry(t *testing.T) {
	registry := NewRegistry()
	m := NewHTTPMetrics(registry)
	m.Observe(http.MethodGet, "/instruments", "200", time.Millisecond)

	srv := httptest.NewServer(Handler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{"http_requests_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}
}
