package archive

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/ring"
	"github.com/angel122382/rpcdevtools/internal/store"
)

// BackpressureMode defines how Submit handles a full queue.
type BackpressureMode int

const (
	// BackpressureDrop drops calls when the queue is full (default). The
	// observed application is never slowed down.
	BackpressureDrop BackpressureMode = iota
	// BackpressureBlock waits up to a second for space before dropping. Only
	// the caller of Submit waits; Follow never lets it reach the store.
	BackpressureBlock
)

// ParseBackpressureMode maps "drop" and "block" to a mode. Empty is drop.
func ParseBackpressureMode(s string) (BackpressureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return BackpressureDrop, nil
	case "block":
		return BackpressureBlock, nil
	default:
		return BackpressureDrop, fmt.Errorf("unknown backpressure mode %q", s)
	}
}

func (m BackpressureMode) String() string {
	if m == BackpressureBlock {
		return "block"
	}
	return "drop"
}

const (
	maxSignalBatches  = 1 << 30
	maxDrainCalls     = 1 << 20
	maxBlockAttempts  = 1000
	maxLatencyBuckets = 7
)

var latencyBucketUpperNs = [maxLatencyBuckets]uint64{
	1 * uint64(time.Millisecond),
	5 * uint64(time.Millisecond),
	10 * uint64(time.Millisecond),
	25 * uint64(time.Millisecond),
	50 * uint64(time.Millisecond),
	100 * uint64(time.Millisecond),
	^uint64(0),
}

// LatencySnapshot is a histogram of per-call write latency.
type LatencySnapshot struct {
	BoundsNs [maxLatencyBuckets]uint64
	Counts   [maxLatencyBuckets]uint64
	SumNs    uint64
	Count    uint64
}

// Worker writes calls to a Repository from a background goroutine fed by a
// ring buffer. Submit never fails; when the queue is full the call is
// dropped and counted.
type Worker struct {
	queue            *ring.Buffer[*Call]
	signalChan       chan struct{}
	db               Repository
	backpressureMode BackpressureMode
	isUnhealthy      atomic.Bool
	processed        atomic.Uint64
	dropped          atomic.Uint64
	failed           atomic.Uint64
	blockedSubmits   atomic.Uint64
	latencySumNs     atomic.Uint64
	latencyCount     atomic.Uint64
	latencyBuckets   [maxLatencyBuckets]atomic.Uint64
	closing          atomic.Bool
	started          atomic.Bool
	// mu keeps Submit from signalling after Shutdown closed signalChan.
	mu           sync.RWMutex
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewWorker creates a worker with a queue of bufferSize calls.
func NewWorker(bufferSize int, db Repository) (*Worker, error) {
	if err := assert.Check(bufferSize > 0, "buffer size must be positive"); err != nil {
		return nil, err
	}
	if err := assert.NotNil(db, "archive repository"); err != nil {
		return nil, err
	}
	q, err := ring.New[*Call](bufferSize)
	if err != nil {
		return nil, err
	}
	return &Worker{
		queue:      q,
		signalChan: make(chan struct{}, 1),
		db:         db,
	}, nil
}

// SetBackpressureMode must be called before Start.
func (w *Worker) SetBackpressureMode(mode BackpressureMode) error {
	if err := assert.Check(mode == BackpressureDrop || mode == BackpressureBlock, "invalid backpressure mode"); err != nil {
		return err
	}
	if err := assert.Check(!w.started.Load(), "backpressure mode is fixed once the worker starts"); err != nil {
		return err
	}
	w.backpressureMode = mode
	logging.Info("backpressure_mode_set", logging.Fields{Component: "archive", Status: mode.String()})
	return nil
}

func (w *Worker) BackpressureMode() BackpressureMode {
	return w.backpressureMode
}

// Start launches the writer goroutine.
func (w *Worker) Start() error {
	if err := assert.Check(!w.started.Load(), "worker already started"); err != nil {
		return err
	}
	w.started.Store(true)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processCalls()
	}()
	return nil
}

// Submit queues c for writing. Fingerprinting happens here so the writer
// only does I/O.
func (w *Worker) Submit(c *Call) {
	if err := assert.NotNil(c, "call"); err != nil {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closing.Load() {
		w.dropped.Add(1)
		logging.Warn("call_dropped_shutdown", logging.Fields{Component: "archive", CaptureID: c.CaptureID, RequestID: c.RequestID})
		return
	}
	if c.PayloadFingerprint == "" {
		fp, err := Fingerprint(c.Payload)
		if err != nil {
			logging.Debug("payload_fingerprint_failed", logging.Fields{Component: "archive", RequestID: c.RequestID, Error: err.Error()})
		}
		c.PayloadFingerprint = fp
	}

	if w.backpressureMode == BackpressureBlock {
		for i := 0; i < maxBlockAttempts; i++ {
			if !w.queue.IsFull() {
				break
			}
			if w.closing.Load() {
				w.dropped.Add(1)
				return
			}
			w.blockedSubmits.Add(1)
			time.Sleep(time.Millisecond)
		}
	}

	if err := w.queue.Push(c); err != nil {
		w.dropped.Add(1)
		logging.Warn("call_dropped_backpressure", logging.Fields{
			Component: "archive",
			CaptureID: c.CaptureID,
			RequestID: c.RequestID,
			Status:    w.backpressureMode.String(),
		})
		return
	}

	select {
	case w.signalChan <- struct{}{}:
	default:
	}
}

// Follow archives every record the store matches from now on. The store
// listener only hands calls to a follower goroutine, so a full queue in
// block mode delays archiving, never the store or the proxied request.
// When the handoff is full as well the call is dropped and counted. The
// returned function stops following and waits until every handed-off call
// has been submitted.
func (w *Worker) Follow(s *store.Store) func() {
	handoff := make(chan *Call, w.queue.Cap())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range handoff {
			w.Submit(c)
		}
	}()

	cancel := s.Subscribe(func(c store.Change) {
		if c.Kind != store.ChangeResponse || c.Record == nil {
			return
		}
		call := FromRecord(*c.Record)
		if call == nil {
			return
		}
		select {
		case handoff <- call:
		default:
			w.dropped.Add(1)
			logging.Warn("call_dropped_backpressure", logging.Fields{
				Component: "archive",
				CaptureID: call.CaptureID,
				RequestID: call.RequestID,
				Status:    "handoff_full",
			})
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			// cancel waits for an in-progress delivery, so nothing sends after it.
			cancel()
			close(handoff)
			<-done
		})
	}
}

// Stats returns processed and dropped counts.
func (w *Worker) Stats() (processed, dropped uint64) {
	return w.processed.Load(), w.dropped.Load()
}

// Failed returns the number of calls the repository rejected.
func (w *Worker) Failed() uint64 {
	return w.failed.Load()
}

func (w *Worker) BlockedSubmits() uint64 {
	return w.blockedSubmits.Load()
}

func (w *Worker) IsHealthy() bool {
	return !w.isUnhealthy.Load()
}

// QueueDepth returns the current queue depth and capacity.
func (w *Worker) QueueDepth() (int, int) {
	return w.queue.Len(), w.queue.Cap()
}

// LatencyMetrics returns a snapshot of the write latency histogram.
func (w *Worker) LatencyMetrics() LatencySnapshot {
	var snap LatencySnapshot
	for i := 0; i < maxLatencyBuckets; i++ {
		snap.BoundsNs[i] = latencyBucketUpperNs[i]
		snap.Counts[i] = w.latencyBuckets[i].Load()
	}
	snap.SumNs = w.latencySumNs.Load()
	snap.Count = w.latencyCount.Load()
	return snap
}

// Shutdown stops accepting calls, drains the queue and closes the
// repository.
func (w *Worker) Shutdown(timeout time.Duration) error {
	if err := assert.Check(timeout > 0, "timeout must be positive"); err != nil {
		return err
	}

	w.shutdownOnce.Do(func() {
		w.mu.Lock()
		w.closing.Store(true)
		close(w.signalChan)
		w.mu.Unlock()
	})

	if err := w.waitForStop(timeout); err != nil {
		logging.Warn("shutdown_wait_timeout", logging.Fields{Component: "archive", Error: err.Error()})
	}
	w.drain()
	return w.db.Close()
}

func (w *Worker) waitForStop(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("archive worker shutdown exceeded %s", timeout)
	}
}

func (w *Worker) processCalls() {
	for i := 0; i < maxSignalBatches; i++ {
		if _, ok := <-w.signalChan; !ok {
			return
		}
		w.drain()
	}
}

func (w *Worker) drain() {
	for j := 0; j < maxDrainCalls; j++ {
		c, err := w.queue.Pop()
		if err != nil {
			return
		}
		start := time.Now()
		if err := w.db.InsertCall(c); err != nil {
			w.failed.Add(1)
			w.isUnhealthy.Store(true)
			logging.Critical("call_archive_failed", logging.Fields{
				Component: "archive",
				CaptureID: c.CaptureID,
				RequestID: c.RequestID,
				Method:    c.Method,
				Error:     err.Error(),
			})
		}
		w.recordLatency(time.Since(start))
		w.processed.Add(1)
	}
}

func (w *Worker) recordLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	latencyNs := uint64(d.Nanoseconds())
	for i := 0; i < maxLatencyBuckets; i++ {
		if latencyNs <= latencyBucketUpperNs[i] {
			w.latencyBuckets[i].Add(1)
			break
		}
	}
	w.latencySumNs.Add(latencyNs)
	w.latencyCount.Add(1)
}
