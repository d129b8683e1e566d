// Package sync implements the push synchronization engine: it drains the
// outbox against the remote endpoint and applies acknowledgements, conflicts,
// and server-originated changes.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"
)

// BatchSize is the maximum number of outbox entries per push.
const BatchSize = 100

// Status is the terse outcome of one sync cycle.
type Status string

const (
	// StatusIdle means there was nothing to push (or another cycle held the
	// guard); no network call was made.
	StatusIdle Status = "idle"
	// StatusSynced means the batch round trip succeeded and its results were
	// applied locally.
	StatusSynced Status = "synced"
	// StatusError means the round trip failed; the batch was rescheduled.
	StatusError Status = "error"
)

// Result is what a sync cycle reports back to its trigger.
type Result struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Pushed  int    `json:"pushed,omitempty"`
	Acked   int    `json:"acked,omitempty"`
	Applied int    `json:"applied,omitempty"`
}

// Outbox is the store surface the engine drains and reschedules.
type Outbox interface {
	DueBatch(ctx context.Context, limit int, now time.Time) ([]OutboxEntry, error)
	MarkFailed(ctx context.Context, ids []int64, errMsg string, now time.Time) error
	ApplyPushResult(ctx context.Context, batch []OutboxEntry, resp PushResponse, now time.Time) error
}

// Engine pushes pending changes to the remote authority. A cycle is triggered
// externally (user action, connectivity restored, timer); the single network
// round trip is its only suspension point.
type Engine struct {
	outbox    Outbox
	endpoint  string
	client    *http.Client
	apiKey    string
	batchSize int

	// Single-flight guard: overlapping triggers must not read the same due
	// batch and double-apply its results.
	mu gosync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithAPIKey sends a Bearer token on every push.
func WithAPIKey(key string) Option {
	return func(e *Engine) { e.apiKey = key }
}

// WithBatchSize overrides the default batch size. Values above BatchSize are
// capped; the server contract never sees a larger batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= BatchSize {
			e.batchSize = n
		}
	}
}

// NewEngine creates an engine pushing to endpoint (the base URL; "/sync/push"
// is appended). A nil client gets a 30s-timeout default.
func NewEngine(outbox Outbox, endpoint string, client *http.Client, opts ...Option) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	e := &Engine{outbox: outbox, endpoint: endpoint, client: client, batchSize: BatchSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncNow runs one synchronization cycle. Local reads and writes are never
// blocked on the outcome; failures are absorbed into the Result.
func (e *Engine) SyncNow(ctx context.Context) Result {
	if !e.mu.TryLock() {
		slog.Debug("sync cycle already in flight", "component", "sync")
		return Result{Status: StatusIdle}
	}
	defer e.mu.Unlock()

	now := time.Now().UTC()
	batch, err := e.outbox.DueBatch(ctx, e.batchSize, now)
	if err != nil {
		return Result{Status: StatusError, Error: fmt.Sprintf("read outbox: %s", err)}
	}
	if len(batch) == 0 {
		return Result{Status: StatusIdle}
	}

	// Decode at the boundary so malformed payloads never reach the server.
	// An undecodable entry is rescheduled on its own; the rest of the batch
	// still ships.
	healthy := make([]OutboxEntry, 0, len(batch))
	ids := make([]int64, 0, len(batch))
	changes := make([]Change, 0, len(batch))
	var lastBad string
	for _, entry := range batch {
		if _, err := DecodePayload(entry.EntityType, entry.Operation, entry.Payload); err != nil {
			lastBad = fmt.Sprintf("invalid payload in entry %d: %s", entry.ID, err)
			if mfErr := e.outbox.MarkFailed(ctx, []int64{entry.ID}, lastBad, time.Now().UTC()); mfErr != nil {
				slog.Error("failed to reschedule entry", "component", "sync", "entry", entry.ID, "error", mfErr)
			}
			slog.Warn("skipped undecodable outbox entry", "component", "sync", "entry", entry.ID, "error", err)
			continue
		}
		healthy = append(healthy, entry)
		ids = append(ids, entry.ID)
		changes = append(changes, Change{
			ID:         entry.ID,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Operation:  entry.Operation,
			Data:       entry.Payload,
		})
	}
	if len(healthy) == 0 {
		return Result{Status: StatusError, Error: lastBad}
	}

	resp, err := e.push(ctx, PushRequest{Changes: changes})
	if err != nil {
		return e.failBatch(ctx, ids, err.Error())
	}

	if err := e.outbox.ApplyPushResult(ctx, healthy, *resp, time.Now().UTC()); err != nil {
		return Result{Status: StatusError, Error: fmt.Sprintf("apply push result: %s", err)}
	}

	slog.Info("sync cycle completed",
		"component", "sync",
		"pushed", len(healthy),
		"acked", len(resp.AckedIDs),
		"conflicts", len(resp.Conflicts),
		"server_changes", len(resp.ServerChanges),
	)
	return Result{
		Status:  StatusSynced,
		Pushed:  len(healthy),
		Acked:   len(resp.AckedIDs),
		Applied: len(resp.ServerChanges),
	}
}

// failBatch records a transport-level failure for the whole batch. The round
// trip is atomic at the network layer, so every entry fails together.
func (e *Engine) failBatch(ctx context.Context, ids []int64, msg string) Result {
	if err := e.outbox.MarkFailed(ctx, ids, msg, time.Now().UTC()); err != nil {
		slog.Error("failed to reschedule batch", "component", "sync", "error", err)
	}
	slog.Warn("sync cycle failed", "component", "sync", "entries", len(ids), "error", msg)
	return Result{Status: StatusError, Error: msg}
}

func (e *Engine) push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/sync/push", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push changes: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("sync failed with status %d", httpResp.StatusCode)
	}

	var resp PushResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}
	return &resp, nil
}

// Run triggers a cycle at every interval tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	slog.Info("sync worker started", "component", "sync", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync worker stopped", "component", "sync")
			return
		case <-ticker.C:
			e.SyncNow(ctx)
		}
	}
}
