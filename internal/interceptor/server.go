package interceptor

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/pool"
	"github.com/angel122382/rpcdevtools/internal/protocol"
	"github.com/google/uuid"
)

// MaxBodySize is the largest body that is decoded. Larger bodies are
// forwarded untouched and not observed.
const MaxBodySize = 1024 * 1024

// Observer receives every decoded protocol message together with the
// capture it belongs to. An empty capture id means the observer's default.
type Observer interface {
	ObserveCapture(captureID string, msg protocol.Message)
}

type captureKey struct{}

// WithCapture returns a context that tags an HTTP exchange with captureID.
func WithCapture(ctx context.Context, captureID string) context.Context {
	return context.WithValue(ctx, captureKey{}, captureID)
}

// CaptureFrom returns the capture id stored by WithCapture, or "".
func CaptureFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(captureKey{}).(string)
	return id
}

// Counters reports what the interceptor has seen.
type Counters struct {
	Observed  uint64
	Malformed uint64
	Skipped   uint64
}

// Interceptor captures RPC bodies flowing through an HTTP proxy or client
// and hands decoded messages to the observer. It never blocks or rewrites
// traffic: a body that cannot be decoded is forwarded as-is (fail-open).
type Interceptor struct {
	observer Observer

	observed  atomic.Uint64
	malformed atomic.Uint64
	skipped   atomic.Uint64
}

func NewInterceptor(observer Observer) (*Interceptor, error) {
	if err := assert.NotNil(observer, "observer"); err != nil {
		return nil, err
	}
	return &Interceptor{observer: observer}, nil
}

// Handler gives every request passing through next its own capture, so the
// request frames and the response frames of one exchange are correlated
// with each other and never with another client's ids.
func (i *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithCapture(r.Context(), uuid.NewString())))
	})
}

// InterceptRequest observes the frames of a POST body under the capture
// carried by req's context. req.Body is restored so the request can be
// forwarded byte-for-byte.
func (i *Interceptor) InterceptRequest(req *http.Request) {
	if req.Method != http.MethodPost || req.Body == nil || req.Body == http.NoBody {
		return
	}
	body, complete, err := captureBody(&req.Body)
	if err != nil {
		logging.Error("request_body_read_failed", logging.Fields{Component: "interceptor", CaptureID: CaptureFrom(req.Context()), Error: err.Error()})
		return
	}
	if !complete {
		i.skipped.Add(1)
		logging.Debug("request_body_too_large", logging.Fields{Component: "interceptor"})
		return
	}
	i.observe(CaptureFrom(req.Context()), "request", body)
}

// InterceptResponse observes the frames of a response body and restores it.
// The capture is taken from resp.Request. Read and decoding failures are
// logged, never returned, so the proxy forwards the response as it came.
func (i *Interceptor) InterceptResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	var captureID string
	if resp.Request != nil {
		captureID = CaptureFrom(resp.Request.Context())
	}
	body, complete, err := captureBody(&resp.Body)
	if err != nil {
		// The client still receives the partial body and the same read error.
		logging.Error("response_body_read_failed", logging.Fields{Component: "interceptor", CaptureID: captureID, Error: err.Error()})
		return nil
	}
	if !complete {
		i.skipped.Add(1)
		logging.Debug("response_body_too_large", logging.Fields{Component: "interceptor"})
		return nil
	}
	i.observe(captureID, "response", body)
	return nil
}

// Counters returns a snapshot of the interceptor counters.
func (i *Interceptor) Counters() Counters {
	return Counters{
		Observed:  i.observed.Load(),
		Malformed: i.malformed.Load(),
		Skipped:   i.skipped.Load(),
	}
}

func (i *Interceptor) observe(captureID, direction string, body []byte) {
	msgs, err := protocol.DecodeAll(body)
	for _, msg := range msgs {
		i.observer.ObserveCapture(captureID, msg)
		i.observed.Add(1)
	}
	if err != nil {
		i.malformed.Add(1)
		logging.Warn(direction+"_decode_failed", logging.Fields{Component: "interceptor", CaptureID: captureID, Error: err.Error()})
	}
}

// captureBody reads up to MaxBodySize bytes of *rc and replaces *rc with a
// reader yielding the original bytes. complete is false when the body was
// larger than the limit; the replacement then streams the remainder. On a
// read error the replacement replays what was read and continues with the
// original reader, so the consumer sees the same bytes and the same failure.
func captureBody(rc *io.ReadCloser) (body []byte, complete bool, err error) {
	orig := *rc
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	n, err := buf.ReadFrom(io.LimitReader(orig, MaxBodySize+1))
	body = make([]byte, n)
	copy(body, buf.Bytes())

	if err != nil || n > MaxBodySize {
		*rc = &splicedBody{Reader: io.MultiReader(bytes.NewReader(body), orig), closer: orig}
		return nil, false, err
	}
	_ = orig.Close()
	*rc = io.NopCloser(bytes.NewReader(body))
	return body, true, nil
}

type splicedBody struct {
	io.Reader
	closer io.Closer
}

func (s *splicedBody) Close() error { return s.closer.Close() }

// Transport wraps next so requests and responses made by a Go client are
// observed. Each round trip is its own capture. A nil next uses
// http.DefaultTransport.
func (i *Interceptor) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{i: i, next: next}
}

type roundTripper struct {
	i    *Interceptor
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	out := req.Clone(WithCapture(req.Context(), uuid.NewString()))
	rt.i.InterceptRequest(out)
	resp, err := rt.next.RoundTrip(out)
	if err != nil {
		return resp, err
	}
	_ = rt.i.InterceptResponse(resp)
	return resp, nil
}
