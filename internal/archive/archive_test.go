package archive

import (
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/protocol"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/angel122382/rpcdevtools/internal/tracker"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "archive.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return db
}

func sampleCall(id, method, status string, duration float64, at time.Time) *Call {
	return &Call{
		ID:          id,
		CaptureID:   "cap",
		RequestID:   id,
		Method:      method,
		RPCType:     "query",
		Status:      status,
		DurationMs:  duration,
		RequestedAt: at,
		RespondedAt: at.Add(time.Duration(duration) * time.Millisecond),
		Payload:     json.RawMessage(`{"b":1,"a":2}`),
		Data:        json.RawMessage(`true`),
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(json.RawMessage(`{"b":1,"a":[1,2]}`))
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	b, _ := Fingerprint(json.RawMessage("{ \"a\" : [1,2],\n \"b\": 1.0 }"))
	if a != b || len(a) != 64 {
		t.Errorf("equivalent payloads should share a fingerprint: %s vs %s", a, b)
	}
	c, _ := Fingerprint(json.RawMessage(`{"a":[2,1],"b":1}`))
	if c == a {
		t.Error("different payloads should differ")
	}
	if fp, err := Fingerprint(nil); err != nil || fp != "" {
		t.Errorf("empty payload: %q, %v", fp, err)
	}
	if _, err := Fingerprint(json.RawMessage(`{`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFromRecord(t *testing.T) {
	now := time.Now()
	rec := store.RequestRecord{
		CaptureID: "cap",
		ID:        "1",
		Method:    "user.create",
		Type:      rpctype.Mutation,
		Headers:   []protocol.Header{{Name: "a", Value: "b"}},
		Timestamp: now,
	}
	if FromRecord(rec) != nil {
		t.Fatal("pending record must not be archived")
	}
	rec.Response = &store.ResponseRecord{Status: tracker.StatusError, Cause: json.RawMessage(`"x"`), Duration: 12, Timestamp: now}
	c := FromRecord(rec)
	if c == nil || c.ID == "" || c.Status != "error" || c.RPCType != "mutation" || c.DurationMs != 12 {
		t.Fatalf("unexpected call: %+v", c)
	}
	if string(c.Headers) != `[["a","b"]]` {
		t.Errorf("headers = %s", c.Headers)
	}
}

func TestDB_InsertAndQuery(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	calls := []*Call{
		sampleCall("1", "user.get", "success", 100, base),
		sampleCall("2", "user.get", "error", 300, base.Add(time.Second)),
		sampleCall("3", "user.create", "success", 0, base.Add(2*time.Second)),
	}
	for _, c := range calls {
		if err := db.InsertCall(c); err != nil {
			t.Fatalf("InsertCall(%s) failed: %v", c.ID, err)
		}
	}

	recent, err := db.RecentCalls(2)
	if err != nil {
		t.Fatalf("RecentCalls failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "3" || recent[1].ID != "2" {
		t.Fatalf("unexpected recent calls: %+v", recent)
	}
	if string(recent[1].Payload) != `{"b":1,"a":2}` || string(recent[1].Headers) != "[]" {
		t.Errorf("payload or headers not round-tripped: %+v", recent[1])
	}
	if !recent[0].RequestedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("requested_at = %v", recent[0].RequestedAt)
	}

	stats, err := db.MethodStats()
	if err != nil {
		t.Fatalf("MethodStats failed: %v", err)
	}
	if len(stats) != 2 || stats[0].Method != "user.get" || stats[0].Calls != 2 || stats[0].Errors != 1 {
		t.Fatalf("unexpected method stats: %+v", stats)
	}
	if stats[0].AvgDurationMs != 200 || stats[0].MaxDurationMs != 300 {
		t.Errorf("durations: %+v", stats[0])
	}
	if stats[1].AvgDurationMs != 0 {
		t.Errorf("zero durations should not count toward the average: %+v", stats[1])
	}

	sum, err := db.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.TotalCalls != 3 || sum.Errors != 1 || sum.Captures != 1 || sum.Methods != 2 || sum.AvgDurationMs != 200 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestDB_RejectsInvalid(t *testing.T) {
	oldSuppress := assert.SuppressLogs
	assert.SuppressLogs = true
	defer func() { assert.SuppressLogs = oldSuppress }()

	db := openTestDB(t)
	defer db.Close()

	if err := db.InsertCall(&Call{Method: "a.b"}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := db.RecentCalls(0); err == nil {
		t.Error("expected error for zero limit")
	}
	if _, err := Open(""); err == nil {
		t.Error("expected error for empty path")
	}
}

type memRepo struct {
	mu     sync.Mutex
	calls  []*Call
	fail   bool
	closed bool
}

func (m *memRepo) InsertCall(c *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.calls = append(m.calls, c)
	return nil
}

func (m *memRepo) Close() error {
	m.closed = true
	return nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func quiet(t *testing.T) {
	t.Helper()
	logging.SetOutput(io.Discard)
	oldStrict, oldSuppress := assert.StrictMode, assert.SuppressLogs
	assert.StrictMode, assert.SuppressLogs = false, true
	t.Cleanup(func() { assert.StrictMode, assert.SuppressLogs = oldStrict, oldSuppress })
}

func TestWorker_DropOnFullQueue(t *testing.T) {
	quiet(t)
	repo := &memRepo{}
	w, err := NewWorker(2, repo)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	// Not started: the queue fills up.
	for i := 0; i < 5; i++ {
		w.Submit(sampleCall("x", "a.get", "success", 1, time.Now()))
	}
	if _, dropped := w.Stats(); dropped != 3 {
		t.Errorf("expected 3 drops, got %d", dropped)
	}
	if depth, capacity := w.QueueDepth(); depth != 2 || capacity != 2 {
		t.Errorf("queue depth %d/%d", depth, capacity)
	}

	if err := w.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if repo.count() != 2 || !repo.closed {
		t.Errorf("shutdown should drain queued calls and close: %d written, closed=%v", repo.count(), repo.closed)
	}
	w.Submit(sampleCall("late", "a.get", "success", 1, time.Now()))
	if _, dropped := w.Stats(); dropped != 4 {
		t.Errorf("submit after shutdown should drop, got %d drops", dropped)
	}
}

func TestWorker_ProcessesAndFingerprints(t *testing.T) {
	quiet(t)
	repo := &memRepo{}
	w, _ := NewWorker(16, repo)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start should fail")
	}
	for i := 0; i < 10; i++ {
		w.Submit(sampleCall("c", "a.get", "success", 1, time.Now()))
	}
	if err := w.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	processed, dropped := w.Stats()
	if processed != 10 || dropped != 0 || repo.count() != 10 {
		t.Errorf("processed=%d dropped=%d written=%d", processed, dropped, repo.count())
	}
	if repo.calls[0].PayloadFingerprint == "" {
		t.Error("payload fingerprint should be set on submit")
	}
	if snap := w.LatencyMetrics(); snap.Count != 10 {
		t.Errorf("latency count = %d", snap.Count)
	}
}

func TestWorker_RepositoryFailureMarksUnhealthy(t *testing.T) {
	quiet(t)
	repo := &memRepo{fail: true}
	w, _ := NewWorker(4, repo)
	w.Submit(sampleCall("c", "a.get", "success", 1, time.Now()))
	_ = w.Shutdown(time.Second)
	if w.IsHealthy() || w.Failed() != 1 {
		t.Errorf("expected unhealthy worker with 1 failure, healthy=%v failed=%d", w.IsHealthy(), w.Failed())
	}
}

func TestWorker_BlockModeWaitsForSpace(t *testing.T) {
	quiet(t)
	repo := &memRepo{}
	w, _ := NewWorker(1, repo)
	if err := w.SetBackpressureMode(BackpressureBlock); err != nil {
		t.Fatalf("SetBackpressureMode failed: %v", err)
	}
	w.Submit(sampleCall("1", "a.get", "success", 1, time.Now()))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = w.Start()
	}()
	w.Submit(sampleCall("2", "a.get", "success", 1, time.Now()))
	_ = w.Shutdown(time.Second)

	if _, dropped := w.Stats(); dropped != 0 {
		t.Errorf("block mode should not drop while the writer catches up, dropped=%d", dropped)
	}
	if w.BlockedSubmits() == 0 {
		t.Error("expected blocked submits to be counted")
	}
	if repo.count() != 2 {
		t.Errorf("expected 2 calls written, got %d", repo.count())
	}
}

func TestParseBackpressureMode(t *testing.T) {
	tests := []struct {
		in      string
		want    BackpressureMode
		wantErr bool
	}{
		{"", BackpressureDrop, false},
		{"drop", BackpressureDrop, false},
		{"BLOCK", BackpressureBlock, false},
		{"retry", BackpressureDrop, true},
	}
	for _, tt := range tests {
		got, err := ParseBackpressureMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseBackpressureMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestWorker_FollowsStore(t *testing.T) {
	quiet(t)
	repo := &memRepo{}
	w, _ := NewWorker(8, repo)
	s, _ := store.New(0)
	stop := w.Follow(s)

	now := time.Now()
	s.AddRequest(tracker.RequestEvent{CaptureID: "cap", ID: "1", Method: "a.get", Timestamp: now})
	s.AddRequest(tracker.RequestEvent{CaptureID: "cap", ID: "2", Method: "a.get", Timestamp: now})
	s.AddResponse(tracker.ResponseEvent{CaptureID: "cap", RequestID: "1", Status: tracker.StatusSuccess, Duration: 3, Timestamp: now})
	stop()
	s.AddResponse(tracker.ResponseEvent{CaptureID: "cap", RequestID: "2", Status: tracker.StatusSuccess, Timestamp: now})

	_ = w.Shutdown(time.Second)
	if repo.count() != 1 || repo.calls[0].RequestID != "1" {
		t.Errorf("expected only the matched record while following, got %d", repo.count())
	}
}

func TestWorker_FollowNeverBlocksStore(t *testing.T) {
	quiet(t)
	repo := &memRepo{}
	w, err := NewWorker(1, repo)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	if err := w.SetBackpressureMode(BackpressureBlock); err != nil {
		t.Fatalf("SetBackpressureMode failed: %v", err)
	}
	s, _ := store.New(0)
	stop := w.Follow(s)

	// The writer is not running yet, so the queue stays full and Submit
	// would wait in block mode.
	now := time.Now()
	const calls = 4
	start := time.Now()
	for n := 0; n < calls; n++ {
		id := strconv.Itoa(n)
		s.AddRequest(tracker.RequestEvent{CaptureID: "cap", ID: id, Method: "a.get", Timestamp: now})
		s.AddResponse(tracker.ResponseEvent{CaptureID: "cap", RequestID: id, Status: tracker.StatusSuccess, Timestamp: now})
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("store commits waited on the archive for %v", elapsed)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stop()
	stop()
	if err := w.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	processed, dropped := w.Stats()
	if processed+dropped != calls {
		t.Errorf("every call must be archived or counted as dropped: processed=%d dropped=%d", processed, dropped)
	}
	if repo.count() != int(processed) || processed == 0 {
		t.Errorf("repository has %d calls, processed=%d", repo.count(), processed)
	}
}
