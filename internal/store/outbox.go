package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
)

// Retry backoff: delay grows 30s per attempt, capped at 5 minutes.
const (
	retryStepSeconds = 30
	retryCapSeconds  = 300
)

const insertOutboxSQL = `
	INSERT INTO sync_outbox (entity_type, entity_id, operation, payload, created_at, attempts, last_error, next_retry_at)
	VALUES (?, ?, ?, ?, ?, 0, NULL, NULL)`

// enqueueOutboxTx appends one pending change inside the caller's transaction.
// Every record mutation goes through here exactly once.
func enqueueOutboxTx(tx *sql.Tx, entityType, entityID, operation string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = tx.Exec(insertOutboxSQL,
		entityType, entityID, operation, string(data),
		fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// Enqueue appends a pending change outside of a record write. Record Store
// mutations enqueue internally; this exists for collaborators that manage
// their own row writes.
func (s *Store) Enqueue(ctx context.Context, entityType, entityID, operation string, payload any) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return enqueueOutboxTx(tx, entityType, entityID, operation, payload)
	})
	if err != nil {
		return err
	}
	s.fireNotify("sync_outbox")
	return nil
}

// DueBatch returns up to limit entries whose retry time has arrived, ordered
// by ascending id. An entry is held back while an earlier entry for the same
// entity is still backing off, so per-entity creation order survives uneven
// retry schedules.
func (s *Store) DueBatch(ctx context.Context, limit int, now time.Time) ([]pimssync.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, payload, created_at, attempts, last_error, next_retry_at
		FROM sync_outbox o
		WHERE (o.next_retry_at IS NULL OR o.next_retry_at <= ?)
		  AND NOT EXISTS (
			SELECT 1 FROM sync_outbox p
			WHERE p.entity_type = o.entity_type
			  AND p.entity_id = o.entity_id
			  AND p.id < o.id
			  AND p.next_retry_at IS NOT NULL
			  AND p.next_retry_at > ?
		  )
		ORDER BY o.id ASC
		LIMIT ?
	`, fmtTime(now), fmtTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []pimssync.OutboxEntry
	for rows.Next() {
		var e pimssync.OutboxEntry
		var payload, createdAt string
		var lastErr, nextRetry sql.NullString
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Operation,
			&payload, &createdAt, &e.Attempts, &lastErr, &nextRetry); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = parseTime(createdAt)
		if lastErr.Valid {
			e.LastError = lastErr.String
		}
		e.NextRetryAt = parseNullableTime(nextRetry)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Acknowledge deletes the given entries; they were durably accepted remotely.
func (s *Store) Acknowledge(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return acknowledgeTx(tx, ids)
	})
	if err != nil {
		return err
	}
	s.fireNotify("sync_outbox")
	return nil
}

func acknowledgeTx(tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.Exec(`DELETE FROM sync_outbox WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("acknowledge outbox entries: %w", err)
	}
	return nil
}

// MarkConflict flags the owning record as conflicted. The outbox entry stays
// queued and remains eligible for future batches; a later local write
// supersedes it with a fresh snapshot.
func (s *Store) MarkConflict(ctx context.Context, entityType, entityID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return markConflictTx(tx, entityType, entityID)
	})
	if err != nil {
		return err
	}
	s.fireNotify(entityType)
	return nil
}

func markConflictTx(tx *sql.Tx, entityType, entityID string) error {
	table, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("mark conflict: unknown entity type %q", entityType)
	}
	if _, err := tx.Exec(`UPDATE `+table+` SET sync_status = 'conflict' WHERE id = ?`, entityID); err != nil {
		return fmt.Errorf("mark conflict on %s: %w", table, err)
	}
	return nil
}

// MarkFailed records a failed delivery for the whole batch: the round trip is
// atomic at the network layer, so every entry shares the attempt count bump,
// the error message, and a capped linear-growth retry time.
func (s *Store) MarkFailed(ctx context.Context, ids []int64, errMsg string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			UPDATE sync_outbox
			SET attempts = attempts + 1,
			    last_error = ?,
			    next_retry_at = ?
			WHERE id = ?
		`)
		if err != nil {
			return fmt.Errorf("prepare mark failed: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			var attempts int
			if err := tx.QueryRow(`SELECT attempts FROM sync_outbox WHERE id = ?`, id).Scan(&attempts); err != nil {
				if err == sql.ErrNoRows {
					continue
				}
				return fmt.Errorf("read attempts for entry %d: %w", id, err)
			}
			retryAt := now.Add(retryDelay(attempts + 1))
			if _, err := stmt.Exec(errMsg, fmtTime(retryAt), id); err != nil {
				return fmt.Errorf("mark entry %d failed: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.fireNotify("sync_outbox")
	return nil
}

// retryDelay returns min(300, 30*attempts) seconds for the given attempt
// count (after increment).
func retryDelay(attempts int) time.Duration {
	secs := retryStepSeconds * attempts
	if secs > retryCapSeconds {
		secs = retryCapSeconds
	}
	return time.Duration(secs) * time.Second
}

// OutboxCount returns the number of live outbox entries, optionally filtered
// by entity id. Used by status reporting and tests.
func (s *Store) OutboxCount(ctx context.Context, entityID string) (int, error) {
	var count int
	var err error
	if entityID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox WHERE entity_id = ?`, entityID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", err)
	}
	return count, nil
}

// entityTables maps wire entity types to their SQLite tables.
var entityTables = map[string]string{
	pimssync.EntityEmployees:    "employees",
	pimssync.EntityProducts:     "products",
	pimssync.EntityReturns:      "returns",
	pimssync.EntityActivityLogs: "activity_logs",
	pimssync.EntitySettings:     "settings",
}
