// Package tracker observes protocol messages, times each request and emits
// request/response events on the transport. It never alters the messages.
package tracker

import (
	"sync"
	"time"

	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/protocol"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
	"github.com/angel122382/rpcdevtools/internal/transport"
	"github.com/google/uuid"
)

// MaxInFlight bounds the start-time map. Requests beyond it are still
// reported, their responses just carry a zero duration.
const MaxInFlight = 10000

// Tracker correlates start times with outcomes. Messages passed to Observe
// belong to the tracker's own capture; ObserveCapture lets one tracker serve
// many captures, such as one per proxied HTTP exchange.
type Tracker struct {
	captureID  string
	classifier *rpctype.Classifier
	emitter    transport.Emitter
	now        func() time.Time

	mu      sync.Mutex
	started map[inflightKey]time.Time
}

type inflightKey struct {
	captureID string
	id        string
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithCaptureID fixes the capture id instead of generating one.
func WithCaptureID(id string) Option {
	return func(t *Tracker) { t.captureID = id }
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) {}

// New creates a tracker. A nil classifier uses the heuristic and a nil
// emitter discards events.
func New(classifier *rpctype.Classifier, emitter transport.Emitter, opts ...Option) *Tracker {
	if classifier == nil {
		classifier = rpctype.NewClassifier(nil)
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	t := &Tracker{
		classifier: classifier,
		emitter:    emitter,
		now:        time.Now,
		started:    make(map[inflightKey]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.captureID == "" {
		t.captureID = uuid.NewString()
	}
	return t
}

// CaptureID identifies the records this tracker produces.
func (t *Tracker) CaptureID() string {
	return t.captureID
}

// Observe dispatches msg to the matching handler. Control frames are ignored.
func (t *Tracker) Observe(msg protocol.Message) {
	t.ObserveCapture(t.captureID, msg)
}

// ObserveCapture is Observe for messages of captureID. Request ids only
// need to be unique within a capture. An empty captureID means the
// tracker's own.
func (t *Tracker) ObserveCapture(captureID string, msg protocol.Message) {
	if captureID == "" {
		captureID = t.captureID
	}
	switch m := msg.(type) {
	case *protocol.Request:
		t.onRequest(captureID, m)
	case *protocol.Exit:
		t.onExit(captureID, m)
	case *protocol.Control, nil:
	}
}

// OnRequest records the start time and emits a request event.
func (t *Tracker) OnRequest(req *protocol.Request) {
	t.onRequest(t.captureID, req)
}

func (t *Tracker) onRequest(captureID string, req *protocol.Request) {
	if req == nil {
		return
	}
	now := t.now()
	start := &now
	k := inflightKey{captureID, req.ID}

	t.mu.Lock()
	if _, exists := t.started[k]; !exists && len(t.started) >= MaxInFlight {
		start = nil
	} else {
		t.started[k] = now
	}
	t.mu.Unlock()

	if start == nil {
		logging.Warn("in_flight_limit_reached", logging.Fields{
			Component: "tracker",
			CaptureID: captureID,
			RequestID: req.ID,
			Method:    req.Method,
		})
	}

	headers := req.Headers
	if headers == nil {
		headers = []protocol.Header{}
	}
	ev := RequestEvent{
		CaptureID: captureID,
		ID:        req.ID,
		Method:    req.Method,
		Type:      t.classifier.Classify(req.Method),
		Payload:   req.Payload,
		Timestamp: now,
		StartTime: start,
		Headers:   headers,
	}
	logging.Debug("request_observed", logging.Fields{
		Component: "tracker",
		CaptureID: captureID,
		RequestID: ev.ID,
		Method:    ev.Method,
		RPCType:   string(ev.Type),
	})
	t.emitter.Emit(transport.EventRequest, ev)
}

// OnExit computes the duration, emits a response event and forgets the
// request id whatever the outcome.
func (t *Tracker) OnExit(exit *protocol.Exit) {
	t.onExit(t.captureID, exit)
}

func (t *Tracker) onExit(captureID string, exit *protocol.Exit) {
	if exit == nil {
		return
	}
	now := t.now()
	k := inflightKey{captureID, exit.RequestID}

	t.mu.Lock()
	start, found := t.started[k]
	delete(t.started, k)
	t.mu.Unlock()

	var duration float64
	if found {
		duration = float64(now.Sub(start)) / float64(time.Millisecond)
		if duration < 0 {
			duration = 0
		}
	}

	ev := ResponseEvent{
		CaptureID: captureID,
		RequestID: exit.RequestID,
		Duration:  duration,
		Timestamp: now,
	}
	switch o := exit.Outcome.(type) {
	case protocol.Success:
		ev.Status = StatusSuccess
		ev.Data = o.Value
	case protocol.Failure:
		ev.Status = StatusError
		ev.Cause = o.Cause
	default:
		ev.Status = StatusError
	}

	logging.Debug("response_observed", logging.Fields{
		Component: "tracker",
		CaptureID: captureID,
		RequestID: ev.RequestID,
		Status:    string(ev.Status),
	})
	if !found {
		logging.Debug("orphan_response", logging.Fields{Component: "tracker", CaptureID: captureID, RequestID: ev.RequestID})
	}
	t.emitter.Emit(transport.EventResponse, ev)
}

// ClearRequestTracking forgets every in-flight start time.
func (t *Tracker) ClearRequestTracking() {
	t.mu.Lock()
	t.started = make(map[inflightKey]time.Time)
	t.mu.Unlock()
}

// InFlight returns the number of requests awaiting an outcome.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.started)
}
