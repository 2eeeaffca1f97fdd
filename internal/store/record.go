package store

import (
	"encoding/json"
	"time"

	"github.com/angel122382/rpcdevtools/internal/protocol"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
	"github.com/angel122382/rpcdevtools/internal/tracker"
)

// RequestRecord is one observed call. Response is nil while the call is
// pending and is set at most once.
type RequestRecord struct {
	CaptureID string            `json:"captureId"`
	ID        string            `json:"id"`
	Method    string            `json:"method"`
	Type      rpctype.Type      `json:"type,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Headers   []protocol.Header `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
	StartTime *time.Time        `json:"startTime,omitempty"`
	Response  *ResponseRecord   `json:"response,omitempty"`
}

// ResponseRecord is the matched outcome of a request.
type ResponseRecord struct {
	Status    tracker.Status  `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Cause     json.RawMessage `json:"cause,omitempty"`
	Duration  float64         `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}

// Pending reports whether no response has been matched yet.
func (r RequestRecord) Pending() bool {
	return r.Response == nil
}

// Status returns "pending" or the response status.
func (r RequestRecord) Status() string {
	if r.Response == nil {
		return "pending"
	}
	return string(r.Response.Status)
}

func newRecord(ev tracker.RequestEvent) *RequestRecord {
	rec := &RequestRecord{
		CaptureID: ev.CaptureID,
		ID:        ev.ID,
		Method:    ev.Method,
		Type:      ev.Type,
		Payload:   ev.Payload,
		Headers:   ev.Headers,
		Timestamp: ev.Timestamp,
	}
	if rec.Headers == nil {
		rec.Headers = []protocol.Header{}
	}
	if ev.HasStartTime() {
		start := *ev.StartTime
		rec.StartTime = &start
	}
	return rec
}

func newResponse(ev tracker.ResponseEvent) *ResponseRecord {
	resp := &ResponseRecord{
		Status:    ev.Status,
		Duration:  ev.Duration,
		Timestamp: ev.Timestamp,
	}
	if ev.Status == tracker.StatusSuccess {
		resp.Data = ev.Data
	} else {
		resp.Cause = ev.Cause
	}
	return resp
}

// clone returns a copy whose Response can be read without the store lock.
func (r *RequestRecord) clone() RequestRecord {
	out := *r
	if r.Response != nil {
		resp := *r.Response
		out.Response = &resp
	}
	return out
}
