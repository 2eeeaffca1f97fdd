package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/core"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/protocol"
	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/angel122382/rpcdevtools/internal/transport"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func setupTestEngine(t *testing.T, worker *archive.Worker) *core.Engine {
	t.Helper()
	logging.SetOutput(io.Discard)
	e, err := core.NewEngine(core.Options{
		Transport:   transport.Options{Enabled: true},
		MaxRequests: 50,
		CaptureID:   "cap",
	}, worker)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown(time.Second) })
	return e
}

func seed(e *core.Engine) {
	e.Tracker.Observe(&protocol.Request{ID: "1", Method: "users.create", Payload: json.RawMessage(`{"name":"a"}`)})
	e.Tracker.Observe(&protocol.Request{ID: "2", Method: "users.list"})
	e.Tracker.Observe(&protocol.Request{ID: "3", Method: "users.get"})
	e.Tracker.Observe(&protocol.Exit{RequestID: "1", Outcome: protocol.Success{Value: json.RawMessage(`{"id":1}`)}})
	e.Tracker.Observe(&protocol.Exit{RequestID: "2", Outcome: protocol.Failure{Cause: json.RawMessage(`"denied"`)}})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	h := NewServer(setupTestEngine(t, nil))

	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK || w.Body.String() != "ready" {
		t.Errorf("readyz = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, NewServer(nil), http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz without engine = %d", w.Code)
	}
}

func TestListRequests(t *testing.T) {
	e := setupTestEngine(t, nil)
	seed(e)
	h := NewServer(e)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"3", "2", "1"}},
		{"?limit=2", []string{"3", "2"}},
		{"?type=mutation", []string{"1"}},
		{"?status=pending", []string{"3"}},
		{"?status=error", []string{"2"}},
		{"?method=users.get", []string{"3"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, h, http.MethodGet, "/api/v1/requests"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			var body struct {
				Requests []store.RequestRecord `json:"requests"`
				Count    int                   `json:"count"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != len(tt.want) || len(body.Requests) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(body.Requests), len(tt.want))
			}
			for i, id := range tt.want {
				if body.Requests[i].ID != id {
					t.Errorf("record %d = %s, want %s", i, body.Requests[i].ID, id)
				}
			}
		})
	}

	if w := do(t, h, http.MethodGet, "/api/v1/requests?status=done", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid status filter = %d", w.Code)
	}
}

func TestGetRequest(t *testing.T) {
	e := setupTestEngine(t, nil)
	seed(e)
	h := NewServer(e)

	w := do(t, h, http.MethodGet, "/api/v1/requests/cap/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rec store.RequestRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Method != "users.create" || rec.Response == nil || string(rec.Response.Data) != `{"id":1}` {
		t.Errorf("unexpected record: %+v", rec)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/requests/other/1", ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign capture id = %d", w.Code)
	}
}

func TestStatsClearAndReset(t *testing.T) {
	e := setupTestEngine(t, nil)
	seed(e)
	h := NewServer(e)

	w := do(t, h, http.MethodGet, "/api/v1/stats", "")
	var stats struct {
		CaptureID string      `json:"captureId"`
		Stats     store.Stats `json:"stats"`
		InFlight  int         `json:"inFlight"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.CaptureID != "cap" || stats.Stats.Total != 3 || stats.Stats.Pending != 1 || stats.InFlight != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/tracking/reset", ""); w.Code != http.StatusOK {
		t.Fatalf("reset = %d", w.Code)
	}
	if e.Tracker.InFlight() != 0 {
		t.Error("tracking reset should forget start times")
	}
	if e.Store.Len() != 3 {
		t.Error("tracking reset must not touch the store")
	}

	if w := do(t, h, http.MethodDelete, "/api/v1/requests", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cleared":3`) {
		t.Fatalf("clear = %d %s", w.Code, w.Body.String())
	}
	if e.Store.Len() != 0 {
		t.Error("store not cleared")
	}
}

func TestSetDebugAndEnabled(t *testing.T) {
	e := setupTestEngine(t, nil)
	h := NewServer(e)

	w := do(t, h, http.MethodPut, "/api/v1/debug", `{"debug":true}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"recreated":true`) {
		t.Fatalf("debug on = %d %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodPut, "/api/v1/debug", `{"debug":true}`)
	if !strings.Contains(w.Body.String(), `"recreated":false`) {
		t.Errorf("same value should not recreate: %s", w.Body.String())
	}
	if !e.Transport.Client().Debug() {
		t.Error("debug not applied")
	}

	do(t, h, http.MethodPut, "/api/v1/enabled", `{"enabled":false}`)
	e.Tracker.Observe(&protocol.Request{ID: "x", Method: "a.get"})
	if e.Store.Len() != 0 {
		t.Error("disabled transport should not record")
	}
}

func dialStream(t *testing.T, srv *httptest.Server) (io.ReadWriter, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/stream")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	var rd io.Reader = conn
	if br != nil {
		rd = io.MultiReader(br, conn)
	}
	return struct {
		io.Reader
		io.Writer
	}{rd, conn}, func() { conn.Close() }
}

func readFrame(t *testing.T, rw io.ReadWriter) streamFrame {
	t.Helper()
	data, err := wsutil.ReadServerText(rw)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f streamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestStream(t *testing.T) {
	e := setupTestEngine(t, nil)
	e.Tracker.Observe(&protocol.Request{ID: "0", Method: "users.get"})
	srv := httptest.NewServer(NewServer(e))
	defer srv.Close()

	rw, closeConn := dialStream(t, srv)
	defer closeConn()

	snap := readFrame(t, rw)
	if snap.Kind != "snapshot" || len(snap.Requests) != 1 || snap.Stats.Total != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	e.Tracker.Observe(&protocol.Request{ID: "1", Method: "users.create"})
	e.Tracker.Observe(&protocol.Exit{RequestID: "1", Outcome: protocol.Success{Value: json.RawMessage(`true`)}})

	first := readFrame(t, rw)
	if first.Kind != string(store.ChangeRequest) || first.Record == nil || first.Record.ID != "1" {
		t.Fatalf("unexpected first change: %+v", first)
	}
	second := readFrame(t, rw)
	if second.Kind != string(store.ChangeResponse) || second.Seq != first.Seq+1 || second.Record.Pending() {
		t.Fatalf("unexpected second change: %+v", second)
	}
	if second.Stats.Success != 1 {
		t.Errorf("stats should reflect the response: %+v", second.Stats)
	}
}
