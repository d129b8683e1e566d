package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeOutbox is an in-memory Outbox recording engine interactions.
type fakeOutbox struct {
	entries []OutboxEntry

	failedIDs  []int64
	failedMsg  string
	applied    *PushResponse
	appliedLen int
}

func (f *fakeOutbox) DueBatch(ctx context.Context, limit int, now time.Time) ([]OutboxEntry, error) {
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeOutbox) MarkFailed(ctx context.Context, ids []int64, errMsg string, now time.Time) error {
	f.failedIDs = append(f.failedIDs, ids...)
	f.failedMsg = errMsg
	return nil
}

func (f *fakeOutbox) ApplyPushResult(ctx context.Context, batch []OutboxEntry, resp PushResponse, now time.Time) error {
	f.applied = &resp
	f.appliedLen = len(batch)
	return nil
}

func employeeEntry(id int64) OutboxEntry {
	return OutboxEntry{
		ID:         id,
		EntityType: EntityEmployees,
		EntityID:   "emp-1",
		Operation:  OperationUpsert,
		Payload:    json.RawMessage(`{"id":"emp-1","fullName":"Ana Reyes","email":"ana@example.com"}`),
		CreatedAt:  time.Now().UTC(),
	}
}

func pushServer(t *testing.T, resp PushResponse, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if r.URL.Path != "/sync/push" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncNow_EmptyOutboxStaysOffline(t *testing.T) {
	var requests atomic.Int64
	srv := pushServer(t, PushResponse{}, &requests)

	outbox := &fakeOutbox{}
	engine := NewEngine(outbox, srv.URL, nil)

	result := engine.SyncNow(context.Background())
	if result.Status != StatusIdle {
		t.Errorf("expected idle, got %s", result.Status)
	}
	if requests.Load() != 0 {
		t.Errorf("empty outbox must not hit the network, got %d requests", requests.Load())
	}
}

func TestSyncNow_Success(t *testing.T) {
	resp := PushResponse{AckedIDs: []int64{1}}
	srv := pushServer(t, resp, nil)

	outbox := &fakeOutbox{entries: []OutboxEntry{employeeEntry(1)}}
	engine := NewEngine(outbox, srv.URL, nil)

	result := engine.SyncNow(context.Background())
	if result.Status != StatusSynced {
		t.Fatalf("expected synced, got %s (%s)", result.Status, result.Error)
	}
	if result.Pushed != 1 || result.Acked != 1 {
		t.Errorf("unexpected counts %+v", result)
	}
	if outbox.applied == nil || len(outbox.applied.AckedIDs) != 1 {
		t.Error("push result was not applied")
	}
	if outbox.failedIDs != nil {
		t.Error("success must not mark the batch failed")
	}
}

func TestSyncNow_ServerErrorFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	outbox := &fakeOutbox{entries: []OutboxEntry{employeeEntry(1), employeeEntry(2)}}
	engine := NewEngine(outbox, srv.URL, nil)

	result := engine.SyncNow(context.Background())
	if result.Status != StatusError {
		t.Fatalf("expected error, got %s", result.Status)
	}
	if len(outbox.failedIDs) != 2 {
		t.Errorf("expected whole batch marked failed, got %v", outbox.failedIDs)
	}
	if !strings.Contains(outbox.failedMsg, "500") {
		t.Errorf("expected status in failure message, got %q", outbox.failedMsg)
	}
	if outbox.applied != nil {
		t.Error("failed push must not apply results")
	}
}

func TestSyncNow_TransportErrorFailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	outbox := &fakeOutbox{entries: []OutboxEntry{employeeEntry(1)}}
	engine := NewEngine(outbox, srv.URL, nil)

	result := engine.SyncNow(context.Background())
	if result.Status != StatusError {
		t.Fatalf("expected error, got %s", result.Status)
	}
	if len(outbox.failedIDs) != 1 {
		t.Errorf("expected batch marked failed, got %v", outbox.failedIDs)
	}
}

func TestSyncNow_MalformedPayloadNeverLeaves(t *testing.T) {
	var requests atomic.Int64
	srv := pushServer(t, PushResponse{}, &requests)

	bad := employeeEntry(1)
	bad.Payload = json.RawMessage(`{"id":`)
	outbox := &fakeOutbox{entries: []OutboxEntry{bad}}
	engine := NewEngine(outbox, srv.URL, nil)

	result := engine.SyncNow(context.Background())
	if result.Status != StatusError {
		t.Fatalf("expected error, got %s", result.Status)
	}
	if requests.Load() != 0 {
		t.Errorf("malformed payload must fail before the network, got %d requests", requests.Load())
	}
	if len(outbox.failedIDs) != 1 {
		t.Errorf("expected entry marked failed, got %v", outbox.failedIDs)
	}
}

func TestSyncNow_UndecodableEntryDoesNotStallBatch(t *testing.T) {
	resp := PushResponse{AckedIDs: []int64{2}}
	srv := pushServer(t, resp, nil)

	bad := employeeEntry(1)
	bad.Payload = json.RawMessage(`{"id":`)
	outbox := &fakeOutbox{entries: []OutboxEntry{bad, employeeEntry(2)}}
	engine := NewEngine(outbox, srv.URL, nil)

	result := engine.SyncNow(context.Background())
	if result.Status != StatusSynced {
		t.Fatalf("expected synced, got %s (%s)", result.Status, result.Error)
	}
	if result.Pushed != 1 || result.Acked != 1 {
		t.Errorf("unexpected counts %+v", result)
	}

	// The poisoned entry is rescheduled on its own; the healthy one ships.
	if len(outbox.failedIDs) != 1 || outbox.failedIDs[0] != 1 {
		t.Errorf("expected only entry 1 marked failed, got %v", outbox.failedIDs)
	}
	if outbox.appliedLen != 1 {
		t.Errorf("expected push result applied to 1 entry, got %d", outbox.appliedLen)
	}
	if outbox.applied == nil || len(outbox.applied.AckedIDs) != 1 || outbox.applied.AckedIDs[0] != 2 {
		t.Error("expected the healthy entry to be acknowledged")
	}
}

func TestSyncNow_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		json.NewEncoder(w).Encode(PushResponse{AckedIDs: []int64{1}})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	outbox := &fakeOutbox{entries: []OutboxEntry{employeeEntry(1)}}
	engine := NewEngine(outbox, srv.URL, nil)

	done := make(chan Result, 1)
	go func() {
		done <- engine.SyncNow(context.Background())
	}()
	<-started

	// While the first cycle is in flight, a second trigger backs off.
	second := engine.SyncNow(context.Background())
	if second.Status != StatusIdle {
		t.Errorf("expected overlapping cycle to report idle, got %s", second.Status)
	}

	close(release)
	first := <-done
	if first.Status != StatusSynced {
		t.Errorf("expected first cycle to finish synced, got %s (%s)", first.Status, first.Error)
	}
}

func TestSyncNow_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(PushResponse{AckedIDs: []int64{1}})
	}))
	t.Cleanup(srv.Close)

	outbox := &fakeOutbox{entries: []OutboxEntry{employeeEntry(1)}}
	engine := NewEngine(outbox, srv.URL, nil, WithAPIKey("secret-key"))

	if result := engine.SyncNow(context.Background()); result.Status != StatusSynced {
		t.Fatalf("expected synced, got %s", result.Status)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
}

func TestWithBatchSize(t *testing.T) {
	outbox := &fakeOutbox{}
	e := NewEngine(outbox, "http://localhost", nil, WithBatchSize(10))
	if e.batchSize != 10 {
		t.Errorf("expected batch size 10, got %d", e.batchSize)
	}

	// Values beyond the protocol cap are ignored.
	e = NewEngine(outbox, "http://localhost", nil, WithBatchSize(1000))
	if e.batchSize != BatchSize {
		t.Errorf("expected cap at %d, got %d", BatchSize, e.batchSize)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	outbox := &fakeOutbox{}
	engine := NewEngine(outbox, "http://localhost", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
