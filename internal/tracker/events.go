package tracker

import (
	"encoding/json"
	"time"

	"github.com/angel122382/rpcdevtools/internal/protocol"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
)

// Status is the outcome of a completed request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// RequestEvent is emitted when a request is observed. Type is resolved once
// here and never recomputed.
type RequestEvent struct {
	CaptureID string          `json:"captureId"`
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Type      rpctype.Type    `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// StartTime is nil when the in-flight limit was reached.
	StartTime *time.Time        `json:"startTime,omitempty"`
	Headers   []protocol.Header `json:"headers"`
}

// HasStartTime reports whether the start of the call was recorded.
func (e RequestEvent) HasStartTime() bool {
	return e.StartTime != nil
}

// ResponseEvent is emitted when a request's outcome is observed. Exactly one
// of Data and Cause is meaningful, selected by Status.
type ResponseEvent struct {
	CaptureID string          `json:"captureId"`
	RequestID string          `json:"requestId"`
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Cause     json.RawMessage `json:"cause,omitempty"`
	Duration  float64         `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}
