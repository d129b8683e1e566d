package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// Operation constants for outbox entries and the wire protocol.
const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

// Entity type tags. These are the only values accepted on the wire and in
// outbox rows; anything else fails payload decoding at the boundary.
const (
	EntityEmployees    = "employees"
	EntityProducts     = "products"
	EntityReturns      = "returns"
	EntityActivityLogs = "activity_logs"
	EntitySettings     = "settings"
)

// OutboxEntry is one pending change in the durable outbox log. ID ordering is
// the only ordering guarantee; entries for the same entity are delivered in
// creation order.
type OutboxEntry struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError,omitempty"`
	NextRetryAt *time.Time      `json:"nextRetryAt,omitempty"`
}

// Change is one entry of a push request.
type Change struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Operation  string          `json:"operation"`
	Data       json.RawMessage `json:"data"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	Changes []Change `json:"changes"`
}

// Conflict identifies a record the server rejected because its own version
// is newer.
type Conflict struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// ServerChange is a server-originated upsert pushed down to the client.
type ServerChange struct {
	EntityType string          `json:"entityType"`
	Data       json.RawMessage `json:"data"`
}

// PushResponse is the body returned by the sync endpoint.
type PushResponse struct {
	AckedIDs      []int64        `json:"ackedIds"`
	Conflicts     []Conflict     `json:"conflicts"`
	ServerChanges []ServerChange `json:"serverChanges"`
}

// DecodePayload decodes an outbox payload into its typed form, keyed by
// entity type and operation. Malformed or unknown payloads are rejected here
// so they never travel further.
func DecodePayload(entityType, operation string, raw json.RawMessage) (any, error) {
	if operation == OperationDelete {
		var m types.DeleteMarker
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode delete payload: %w", err)
		}
		return m, nil
	}

	switch entityType {
	case EntityEmployees:
		var v types.Employee
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode employee payload: %w", err)
		}
		return v, nil
	case EntityProducts:
		var v types.Product
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode product payload: %w", err)
		}
		return v, nil
	case EntityReturns:
		var v types.ReturnRecord
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode return payload: %w", err)
		}
		return v, nil
	case EntityActivityLogs:
		var v types.ActivityLog
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode activity log payload: %w", err)
		}
		return v, nil
	case EntitySettings:
		var v types.SystemSettings
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode settings payload: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
}

// strictUnmarshal rejects empty payloads, unknown fields, and trailing data.
// Payload schemas are closed: a snapshot for one variant must not decode as
// another.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after payload")
	}
	return nil
}
