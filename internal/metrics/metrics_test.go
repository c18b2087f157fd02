package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"atelier/internal/metrics"
)

func TestRegistryCountsAndExposes(t *testing.T) {
	reg := metrics.New()
	reg.AddSubmissions(3)
	reg.ObserveItem("completed", "")
	reg.ObserveItem("failed", "safety")
	reg.ObserveRemix("fork")
	reg.SetQueueDepth(4, 1)
	reg.ObserveProvider("http", "completed", 2*time.Second)
	reg.ObserveRequest("GET", "/api/queue", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(reg.Submissions); got != 3 {
		t.Fatalf("submissions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(reg.ItemsProcessed.WithLabelValues("failed", "safety")); got != 1 {
		t.Fatalf("failed items = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.QueueDepth.WithLabelValues("queued")); got != 4 {
		t.Fatalf("queued depth = %v, want 4", got)
	}

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"atelier_generations_submitted_total 3",
		`atelier_http_requests_total{code="200",method="GET",route="/api/queue"} 1`,
		"atelier_provider_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %q in exposition output", name)
		}
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var reg *metrics.Registry
	reg.AddSubmissions(1)
	reg.ObserveItem("completed", "")
	reg.SetQueueDepth(1, 0)
	reg.ObserveReclaim("queued")
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil registry, got %d", rec.Code)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.AddSubmissions(2)
	if got := testutil.ToFloat64(b.Submissions); got != 0 {
		t.Fatalf("registries should not share collectors, got %v", got)
	}
}
