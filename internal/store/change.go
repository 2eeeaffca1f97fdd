package store

import (
	"github.com/angel122382/rpcdevtools/internal/rpctype"
)

// ChangeKind names the mutation a Change describes.
type ChangeKind string

const (
	ChangeRequest  ChangeKind = "request"
	ChangeResponse ChangeKind = "response"
	ChangeClear    ChangeKind = "clear"
	ChangeEvict    ChangeKind = "evict"
)

// Change is one committed mutation. Seq increases by one per change and
// restarts after a clear. Record is a copy taken at commit time; it is nil
// for ChangeClear.
type Change struct {
	Seq    uint64         `json:"seq"`
	Kind   ChangeKind     `json:"kind"`
	Record *RequestRecord `json:"record,omitempty"`
}

// Subscribe registers fn for every future change. Changes are delivered
// synchronously and in commit order; fn must not call back into the store.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.notifyMu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.notifyMu.Unlock()

	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				next := make([]listener, 0, len(s.listeners)-1)
				next = append(next, s.listeners[:i]...)
				s.listeners = append(next, s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Filter selects records for RequestsWhere. Zero values match everything.
type Filter struct {
	Limit int
	Type  rpctype.Type
	// Status is "pending", "success" or "error".
	Status string
	Method string
}

func (f Filter) accepts(rec *RequestRecord) bool {
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.Method != "" && rec.Method != f.Method {
		return false
	}
	switch f.Status {
	case "":
	case "pending":
		return rec.Response == nil
	default:
		return rec.Response != nil && string(rec.Response.Status) == f.Status
	}
	return true
}
