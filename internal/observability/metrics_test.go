package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shipsanity/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestInitMetrics(t *testing.T) {
	handler, shutdown, err := InitMetrics(context.Background(), ServiceController)
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	if handler == nil {
		t.Fatal("expected handler to be non-nil")
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function to be non-nil")
	}

	// Smoke test: verify handler returns 200 and non-empty body
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr.Body.Len() == 0 {
		t.Error("handler returned empty body")
	}
}

func TestInitMetrics_ServiceInstrumentsAppearInOutput(t *testing.T) {
	ctx := context.Background()

	handler, shutdown, err := InitMetrics(ctx, ServiceWorker)
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	// Same meter and instrument names the runner uses
	counter, err := otel.Meter("shipsanity/runner").Int64Counter("shipsanity.runs.completed")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(ctx, 42, metric.WithAttributes(attribute.String("status", "PASS")))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `shipsanity_runs_completed_total{`) || !strings.Contains(body, `status="PASS"`) {
		t.Errorf("expected runs counter in output, got:\n%s", body)
	}
	if !strings.Contains(body, "} 42") {
		t.Errorf("expected value 42 in output, got:\n%s", body)
	}
	if !strings.Contains(body, `service_name="shipsanity-worker"`) {
		t.Errorf("expected service name in target_info, got:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("expected Go runtime collector in output")
	}
}

func TestInitMetrics_RequiresServiceName(t *testing.T) {
	if _, _, err := InitMetrics(context.Background(), ""); err == nil {
		t.Error("expected error for empty service name")
	}
}

func TestInitMetrics_RepeatedInitDoesNotConflict(t *testing.T) {
	for i := 0; i < 2; i++ {
		_, shutdown, err := InitMetrics(context.Background(), ServiceController)
		if err != nil {
			t.Fatalf("InitMetrics #%d failed: %v", i+1, err)
		}
		_ = shutdown(context.Background())
	}
}

type staticCounts struct{ counts store.JobCounts }

func (s staticCounts) Counts(context.Context) (store.JobCounts, error) { return s.counts, nil }

func TestRegisterQueueDepth(t *testing.T) {
	handler, shutdown, err := InitMetrics(context.Background(), ServiceController)
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg, err := RegisterQueueDepth(staticCounts{store.JobCounts{Waiting: 7, Failed: 3}})
	if err != nil {
		t.Fatalf("RegisterQueueDepth failed: %v", err)
	}
	defer reg.Unregister()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	if !strings.Contains(body, `shipsanity_queue_depth{`) {
		t.Fatalf("expected queue depth gauge in output, got:\n%s", body)
	}
	if !strings.Contains(body, `state="waiting"`) || !strings.Contains(body, "} 7") {
		t.Errorf("expected waiting=7 in output, got:\n%s", body)
	}
}
