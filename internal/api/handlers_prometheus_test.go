package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/core"
)

const maxWaitTicks = 50

func TestHandlePrometheusIncludesStoreAndTracker(t *testing.T) {
	e := setupTestEngine(t, nil)
	seed(e)

	body := fetchPrometheusBody(t, e)
	for _, want := range []string{
		"rpcdevtools_store_records 3",
		"rpcdevtools_store_capacity 50",
		`rpcdevtools_store_records_by_status{status="pending"} 1`,
		`rpcdevtools_store_records_by_status{status="success"} 1`,
		`rpcdevtools_store_records_by_status{status="error"} 1`,
		"rpcdevtools_tracker_in_flight 1",
		"rpcdevtools_transport_client_generation 1",
		"rpcdevtools_pool_buffer_gets_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if strings.Contains(body, "rpcdevtools_archive_") {
		t.Error("archive metrics should be absent when archiving is disabled")
	}
}

func TestHandlePrometheusIncludesQueueAndLatency(t *testing.T) {
	worker := setupTestArchive(t, 16)
	e := setupTestEngine(t, worker)
	seed(e)
	waitForProcessed(t, worker, 2, 2*time.Second)

	body := fetchPrometheusBody(t, e)
	for _, want := range []string{
		"rpcdevtools_archive_calls_processed_total 2",
		"rpcdevtools_archive_calls_dropped_total 0",
		"rpcdevtools_archive_queue_depth",
		"rpcdevtools_archive_queue_capacity 16",
		"rpcdevtools_archive_calls_blocked_total",
		"rpcdevtools_archive_backpressure_mode 0",
		`rpcdevtools_archive_write_latency_seconds_bucket{le="+Inf"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestHandlePrometheusLatencyCountAndSum(t *testing.T) {
	worker := setupTestArchive(t, 16)
	e := setupTestEngine(t, worker)
	seed(e)
	waitForProcessed(t, worker, 2, 2*time.Second)

	body := fetchPrometheusBody(t, e)
	if !strings.Contains(body, "rpcdevtools_archive_write_latency_seconds_sum") {
		t.Fatalf("missing latency sum metric")
	}
	if !strings.Contains(body, "rpcdevtools_archive_write_latency_seconds_count 2") {
		t.Fatalf("missing latency count metric")
	}
}

func TestHandlePrometheusBlockMode(t *testing.T) {
	worker := setupTestArchive(t, 4)
	if err := worker.SetBackpressureMode(archive.BackpressureBlock); err == nil {
		t.Fatal("changing mode after Start should fail")
	}

	db, err := archive.Open(filepath.Join(t.TempDir(), "block.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	blocking, err := archive.NewWorker(4, db)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	if err := blocking.SetBackpressureMode(archive.BackpressureBlock); err != nil {
		t.Fatalf("SetBackpressureMode failed: %v", err)
	}
	if err := blocking.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	e := setupTestEngine(t, blocking)

	if body := fetchPrometheusBody(t, e); !strings.Contains(body, "rpcdevtools_archive_backpressure_mode 1") {
		t.Error("block mode should report 1")
	}
}

func setupTestArchive(t *testing.T, bufferSize int) *archive.Worker {
	t.Helper()
	db, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	worker, err := archive.NewWorker(bufferSize, db)
	if err != nil {
		_ = db.Close()
		t.Fatalf("failed to create worker: %v", err)
	}
	if err := worker.Start(); err != nil {
		_ = db.Close()
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() { _ = worker.Shutdown(time.Second) })
	return worker
}

func fetchPrometheusBody(t *testing.T, engine *core.Engine) string {
	t.Helper()
	if err := assert.NotNil(engine, "engine"); err != nil {
		t.Fatalf("engine invalid: %v", err)
	}

	h := NewHandlers(engine)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.HandlePrometheus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain; version=0.0.4") {
		t.Errorf("content type = %q", ct)
	}
	return rec.Body.String()
}

func waitForProcessed(t *testing.T, worker *archive.Worker, min uint64, timeout time.Duration) {
	t.Helper()
	if err := assert.Check(timeout > 0, "timeout must be positive"); err != nil {
		t.Fatalf("timeout invalid: %v", err)
	}

	step := timeout / maxWaitTicks
	if step == 0 {
		step = time.Millisecond
	}
	for i := 0; i < maxWaitTicks; i++ {
		processed, _ := worker.Stats()
		if processed >= min {
			return
		}
		time.Sleep(step)
	}
	processed, _ := worker.Stats()
	t.Fatalf("timeout waiting for processed calls: %d", processed)
}
