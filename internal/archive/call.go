// Package archive writes completed calls to SQLite in the background so
// they can be inspected offline. The live store never reads them back.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/google/uuid"
	"github.com/ucarion/jcs"
)

// Call is one archived request/response pair.
type Call struct {
	ID                 string
	CaptureID          string
	RequestID          string
	Method             string
	RPCType            string
	Status             string
	DurationMs         float64
	RequestedAt        time.Time
	RespondedAt        time.Time
	Headers            json.RawMessage
	Payload            json.RawMessage
	PayloadFingerprint string
	Data               json.RawMessage
	Cause              json.RawMessage
	ArchivedAt         time.Time
}

// FromRecord converts a matched record. It returns nil for pending records.
func FromRecord(rec store.RequestRecord) *Call {
	if rec.Response == nil {
		return nil
	}
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		headers = []byte("[]")
	}
	return &Call{
		ID:          uuid.NewString(),
		CaptureID:   rec.CaptureID,
		RequestID:   rec.ID,
		Method:      rec.Method,
		RPCType:     string(rec.Type),
		Status:      string(rec.Response.Status),
		DurationMs:  rec.Response.Duration,
		RequestedAt: rec.Timestamp,
		RespondedAt: rec.Response.Timestamp,
		Headers:     headers,
		Payload:     rec.Payload,
		Data:        rec.Response.Data,
		Cause:       rec.Response.Cause,
	}
}

// Fingerprint hashes the RFC 8785 canonical form of payload, so payloads
// that differ only in key order or whitespace share a fingerprint. An empty
// payload has an empty fingerprint.
func Fingerprint(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", nil
	}
	var normalized interface{}
	if err := json.Unmarshal(payload, &normalized); err != nil {
		return "", err
	}
	canonical, err := jcs.Format(normalized)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}
