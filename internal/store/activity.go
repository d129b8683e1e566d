package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// ActivityField enumerates the queryable activity log columns.
type ActivityField string

const (
	ActivityFieldID       ActivityField = "id"
	ActivityFieldEntityID ActivityField = "entity_id"
)

const activityColumns = `id, action, entity_type, entity_id, performed_by_employee_id, timestamp,
	details, status, ip_address,
	sync_status, is_dirty, last_modified, last_synced_at, deleted_at`

func scanActivity(scanner interface{ Scan(...any) error }) (*types.ActivityLog, error) {
	var a types.ActivityLog
	var dirty int
	var lastModified string
	var lastSynced, deleted sql.NullString

	err := scanner.Scan(
		&a.ID, &a.Action, &a.EntityType, &a.EntityID, &a.PerformedByEmployeeID, &a.Timestamp,
		&a.Details, &a.Status, &a.IPAddress,
		&a.SyncStatus, &dirty, &lastModified, &lastSynced, &deleted,
	)
	if err != nil {
		return nil, err
	}

	a.IsDirty = dirty != 0
	a.LastModified = parseTime(lastModified)
	a.LastSyncedAt = parseNullableTime(lastSynced)
	a.DeletedAt = parseNullableTime(deleted)
	return &a, nil
}

// ListActivityLogs returns all non-deleted activity entries, newest first.
func (s *Store) ListActivityLogs(ctx context.Context) ([]types.ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_logs
		WHERE deleted_at IS NULL
		ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var out []types.ActivityLog
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetActivityLog returns the entry with the given id, or ErrNotFound.
func (s *Store) GetActivityLog(ctx context.Context, id string) (*types.ActivityLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_logs
		WHERE id = ? AND deleted_at IS NULL
	`, id)

	a, err := scanActivity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan activity log: %w", err)
	}
	return a, nil
}

// FindActivityLogsBy returns all non-deleted entries matching one of the
// queryable fields, newest first. Audit lookups are naturally multi-row.
func (s *Store) FindActivityLogsBy(ctx context.Context, field ActivityField, value string) ([]types.ActivityLog, error) {
	switch field {
	case ActivityFieldID, ActivityFieldEntityID:
	default:
		return nil, fmt.Errorf("activity lookup: unsupported field %q", field)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_logs
		WHERE `+string(field)+` = ? AND deleted_at IS NULL
		ORDER BY timestamp DESC
	`, value)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var out []types.ActivityLog
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AddActivityLog inserts a new audit entry and its upsert outbox entry
// atomically.
func (s *Store) AddActivityLog(ctx context.Context, a types.ActivityLog) (*types.ActivityLog, error) {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = types.NewID()
	}
	if a.Timestamp == "" {
		a.Timestamp = fmtTime(now)
	}
	stampPending(&a.SyncMeta, now)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO activity_logs (`+activityColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID, a.Action, a.EntityType, a.EntityID, a.PerformedByEmployeeID, a.Timestamp,
			a.Details, a.Status, a.IPAddress,
			a.SyncStatus, boolToInt(a.IsDirty), fmtTime(a.LastModified), nil, nil,
		)
		if err != nil {
			return fmt.Errorf("insert activity log: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntityActivityLogs, a.ID, pimssync.OperationUpsert, a)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("activity_logs")
	return &a, nil
}

// UpdateActivityLog applies mutate to the current entry and enqueues the full
// post-merge snapshot. Missing or soft-deleted ids are a silent no-op.
func (s *Store) UpdateActivityLog(ctx context.Context, id string, mutate func(*types.ActivityLog)) (*types.ActivityLog, error) {
	existing, err := s.GetActivityLog(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	updated := *existing
	mutate(&updated)
	updated.ID = id
	now := time.Now().UTC()
	stampPending(&updated.SyncMeta, now)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE activity_logs SET
				action = ?, entity_type = ?, entity_id = ?, performed_by_employee_id = ?, timestamp = ?,
				details = ?, status = ?, ip_address = ?,
				sync_status = ?, is_dirty = ?, last_modified = ?
			WHERE id = ?
		`,
			updated.Action, updated.EntityType, updated.EntityID, updated.PerformedByEmployeeID, updated.Timestamp,
			updated.Details, updated.Status, updated.IPAddress,
			updated.SyncStatus, boolToInt(updated.IsDirty), fmtTime(updated.LastModified),
			id,
		)
		if err != nil {
			return fmt.Errorf("update activity log: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntityActivityLogs, id, pimssync.OperationUpsert, updated)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("activity_logs")
	return &updated, nil
}

// RemoveActivityLog soft-deletes the entry and enqueues a delete entry.
func (s *Store) RemoveActivityLog(ctx context.Context, id string) error {
	return s.softDelete(ctx, pimssync.EntityActivityLogs, id)
}
