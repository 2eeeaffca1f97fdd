package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/core"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/pool"
)

type Handlers struct {
	Core *core.Engine
}

func NewHandlers(engine *core.Engine) *Handlers {
	return &Handlers{Core: engine}
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := assert.NotNil(h, "handlers"); err != nil {
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		logging.Debug("health_write_failed", logging.Fields{Component: "api", Error: err.Error()})
	}
}

// HandleReady fails when the engine is missing or the archive writer has
// started rejecting calls.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := assert.NotNil(h, "handlers"); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := assert.NotNil(h.Core, "core"); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := assert.NotNil(h.Core.Store, "store"); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if h.Core.Archive != nil && !h.Core.Archive.IsHealthy() {
		http.Error(w, "archive unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		logging.Debug("ready_write_failed", logging.Fields{Component: "api", Error: err.Error()})
	}
}

func (h *Handlers) HandlePrometheus(w http.ResponseWriter, r *http.Request) {
	if err := assert.NotNil(h, "handlers"); err != nil {
		return
	}
	if err := assert.NotNil(h.Core, "core"); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	stats := h.Core.Store.Stats()
	counters := h.Core.Interceptor.Counters()
	poolMetrics := pool.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprintf(w, "# HELP rpcdevtools_store_records Records currently held in the history\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_store_records gauge\n")
	fmt.Fprintf(w, "rpcdevtools_store_records %d\n", stats.Total)

	fmt.Fprintf(w, "# HELP rpcdevtools_store_capacity Maximum number of records kept\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_store_capacity gauge\n")
	fmt.Fprintf(w, "rpcdevtools_store_capacity %d\n", h.Core.Store.Cap())

	fmt.Fprintf(w, "# HELP rpcdevtools_store_records_by_status Records in the history by status\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_store_records_by_status gauge\n")
	fmt.Fprintf(w, "rpcdevtools_store_records_by_status{status=\"pending\"} %d\n", stats.Pending)
	fmt.Fprintf(w, "rpcdevtools_store_records_by_status{status=\"success\"} %d\n", stats.Success)
	fmt.Fprintf(w, "rpcdevtools_store_records_by_status{status=\"error\"} %d\n", stats.Errors)

	fmt.Fprintf(w, "# HELP rpcdevtools_store_avg_duration_ms Mean non-zero response duration in the history\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_store_avg_duration_ms gauge\n")
	fmt.Fprintf(w, "rpcdevtools_store_avg_duration_ms %.3f\n", stats.AvgDuration)

	fmt.Fprintf(w, "# HELP rpcdevtools_tracker_in_flight Requests with a recorded start time and no exit yet\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_tracker_in_flight gauge\n")
	fmt.Fprintf(w, "rpcdevtools_tracker_in_flight %d\n", h.Core.Tracker.InFlight())

	fmt.Fprintf(w, "# HELP rpcdevtools_interceptor_frames_total Frames seen by the interceptor\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_interceptor_frames_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_interceptor_frames_total{result=\"observed\"} %d\n", counters.Observed)
	fmt.Fprintf(w, "rpcdevtools_interceptor_frames_total{result=\"malformed\"} %d\n", counters.Malformed)
	fmt.Fprintf(w, "rpcdevtools_interceptor_bodies_skipped_total %d\n", counters.Skipped)

	fmt.Fprintf(w, "# HELP rpcdevtools_pool_buffer_gets_total Body buffers taken from the pool\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_pool_buffer_gets_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_pool_buffer_gets_total %d\n", poolMetrics.BufferGets)

	fmt.Fprintf(w, "# HELP rpcdevtools_pool_buffer_misses_total Body buffers allocated because the pool was empty\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_pool_buffer_misses_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_pool_buffer_misses_total %d\n", poolMetrics.BufferMisses)

	fmt.Fprintf(w, "# HELP rpcdevtools_pool_buffer_drops_total Oversized buffers not returned to the pool\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_pool_buffer_drops_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_pool_buffer_drops_total %d\n", poolMetrics.BufferDrops)

	fmt.Fprintf(w, "# HELP rpcdevtools_transport_client_generation Event clients created so far\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_transport_client_generation gauge\n")
	fmt.Fprintf(w, "rpcdevtools_transport_client_generation %d\n", h.Core.Transport.Generation())

	if h.Core.Archive != nil {
		writeArchiveMetrics(w, h.Core.Archive)
	}
}

func writeArchiveMetrics(w io.Writer, worker *archive.Worker) {
	proc, drop := worker.Stats()
	queueDepth, queueCap := worker.QueueDepth()
	latency := worker.LatencyMetrics()
	if err := assert.Check(queueCap >= 0, "queue capacity must be non-negative"); err != nil {
		logging.Warn("queue_capacity_invalid", logging.Fields{Component: "api", Error: err.Error()})
	}

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_calls_processed_total Calls written to the archive\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_calls_processed_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_archive_calls_processed_total %d\n", proc)

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_calls_dropped_total Calls dropped due to backpressure\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_calls_dropped_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_archive_calls_dropped_total %d\n", drop)

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_calls_failed_total Calls the database rejected\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_calls_failed_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_archive_calls_failed_total %d\n", worker.Failed())

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_calls_blocked_total Submit retries while the queue was full\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_calls_blocked_total counter\n")
	fmt.Fprintf(w, "rpcdevtools_archive_calls_blocked_total %d\n", worker.BlockedSubmits())

	mode := 0
	if worker.BackpressureMode() == archive.BackpressureBlock {
		mode = 1
	}
	fmt.Fprintf(w, "# HELP rpcdevtools_archive_backpressure_mode 0 drops on a full queue, 1 blocks\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_backpressure_mode gauge\n")
	fmt.Fprintf(w, "rpcdevtools_archive_backpressure_mode %d\n", mode)

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_queue_depth Current queue depth\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_queue_depth gauge\n")
	fmt.Fprintf(w, "rpcdevtools_archive_queue_depth %d\n", queueDepth)

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_queue_capacity Queue capacity\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_queue_capacity gauge\n")
	fmt.Fprintf(w, "rpcdevtools_archive_queue_capacity %d\n", queueCap)

	fmt.Fprintf(w, "# HELP rpcdevtools_archive_write_latency_seconds Archive write latency\n")
	fmt.Fprintf(w, "# TYPE rpcdevtools_archive_write_latency_seconds histogram\n")
	var cumulative uint64
	for i := 0; i < len(latency.BoundsNs); i++ {
		upper := latency.BoundsNs[i]
		label := ""
		if upper == ^uint64(0) {
			label = "+Inf"
		} else {
			label = fmt.Sprintf("%.6f", float64(upper)/float64(time.Second))
		}
		cumulative += latency.Counts[i]
		fmt.Fprintf(w, "rpcdevtools_archive_write_latency_seconds_bucket{le=\"%s\"} %d\n", label, cumulative)
	}
	fmt.Fprintf(w, "rpcdevtools_archive_write_latency_seconds_sum %.6f\n", float64(latency.SumNs)/float64(time.Second))
	fmt.Fprintf(w, "rpcdevtools_archive_write_latency_seconds_count %d\n", latency.Count)
}
