// Package store keeps the bounded, newest-first request history that the
// panel reads. Responses are matched to pending requests by (capture id,
// request id) at most once; the oldest records are evicted past capacity.
package store

import (
	"sync"

	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/ring"
	"github.com/angel122382/rpcdevtools/internal/tracker"
	"github.com/angel122382/rpcdevtools/internal/transport"
)

// MaxRequests is the default history capacity.
const MaxRequests = 500

const maxCapacity = 100000

type key struct {
	captureID string
	id        string
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	history *ring.Buffer[*RequestRecord]
	index   map[key]*RequestRecord
	seq     uint64

	// notifyMu is taken before mu is released so listeners see changes in
	// commit order.
	notifyMu     sync.Mutex
	listeners    []listener
	nextListener int64
}

type listener struct {
	id int64
	fn func(Change)
}

// New creates a store holding at most capacity records. Zero selects
// MaxRequests.
func New(capacity int) (*Store, error) {
	if capacity == 0 {
		capacity = MaxRequests
	}
	if err := assert.InRange(capacity, 1, maxCapacity, "store capacity"); err != nil {
		return nil, err
	}
	history, err := ring.New[*RequestRecord](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{
		history: history,
		index:   make(map[key]*RequestRecord, capacity),
	}, nil
}

// Cap returns the capacity.
func (s *Store) Cap() int {
	return s.history.Cap()
}

// AddRequest prepends a pending record, evicting the oldest one when full.
func (s *Store) AddRequest(ev tracker.RequestEvent) {
	rec := newRecord(ev)
	k := key{rec.CaptureID, rec.ID}

	s.mu.Lock()
	changes := make([]Change, 0, 2)
	if dropped, evicted := s.history.Overwrite(rec); evicted {
		dk := key{dropped.CaptureID, dropped.ID}
		if s.index[dk] == dropped {
			delete(s.index, dk)
		}
		changes = append(changes, s.change(ChangeEvict, dropped))
	}
	s.index[k] = rec
	changes = append(changes, s.change(ChangeRequest, rec))
	s.commit(changes)
}

// AddResponse sets the response of the matching pending record. It returns
// false and leaves the store untouched when the record was evicted, already
// matched or never existed.
func (s *Store) AddResponse(ev tracker.ResponseEvent) bool {
	k := key{ev.CaptureID, ev.RequestID}

	s.mu.Lock()
	rec, ok := s.index[k]
	if !ok || rec.Response != nil {
		s.mu.Unlock()
		logging.Debug("response_unmatched", logging.Fields{
			Component: "store",
			CaptureID: ev.CaptureID,
			RequestID: ev.RequestID,
			Status:    string(ev.Status),
		})
		return false
	}
	rec.Response = newResponse(ev)
	s.commit([]Change{s.change(ChangeResponse, rec)})
	return true
}

// ClearRequests empties the history and restarts the change sequence.
func (s *Store) ClearRequests() {
	s.mu.Lock()
	s.history.Reset()
	s.index = make(map[key]*RequestRecord, s.history.Cap())
	s.seq = 0
	s.commit([]Change{s.change(ChangeClear, nil)})
}

// Requests returns a copy of the history, newest first.
func (s *Store) Requests() []RequestRecord {
	return s.RequestsWhere(Filter{})
}

// RequestsWhere returns the newest-first records accepted by f.
func (s *Store) RequestsWhere(f Filter) []RequestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RequestRecord, 0, s.history.Len())
	s.history.Newest(func(rec *RequestRecord) bool {
		if f.accepts(rec) {
			out = append(out, rec.clone())
		}
		return f.Limit <= 0 || len(out) < f.Limit
	})
	return out
}

// Request looks up the live record for a capture and request id.
func (s *Store) Request(captureID, id string) (RequestRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[key{captureID, id}]
	if !ok {
		return RequestRecord{}, false
	}
	return rec.clone(), true
}

// Len returns the number of records.
func (s *Store) Len() int {
	return s.history.Len()
}

// Attach feeds the store from request and response events on sub. The
// returned function detaches it.
func (s *Store) Attach(sub transport.Subscriber) func() {
	offReq := sub.On(transport.EventRequest, func(payload any) {
		switch ev := payload.(type) {
		case tracker.RequestEvent:
			s.AddRequest(ev)
		case *tracker.RequestEvent:
			if ev != nil {
				s.AddRequest(*ev)
			}
		default:
			logging.Warn("unexpected_event_payload", logging.Fields{Component: "store", Event: transport.EventRequest})
		}
	})
	offResp := sub.On(transport.EventResponse, func(payload any) {
		switch ev := payload.(type) {
		case tracker.ResponseEvent:
			s.AddResponse(ev)
		case *tracker.ResponseEvent:
			if ev != nil {
				s.AddResponse(*ev)
			}
		default:
			logging.Warn("unexpected_event_payload", logging.Fields{Component: "store", Event: transport.EventResponse})
		}
	})
	return func() {
		offReq()
		offResp()
	}
}

// change must be called with mu held.
func (s *Store) change(kind ChangeKind, rec *RequestRecord) Change {
	s.seq++
	c := Change{Seq: s.seq, Kind: kind}
	if rec != nil {
		cp := rec.clone()
		c.Record = &cp
	}
	return c
}

// commit releases mu and delivers changes to every listener.
func (s *Store) commit(changes []Change) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, c := range changes {
		for _, l := range s.listeners {
			l.fn(c)
		}
	}
}
