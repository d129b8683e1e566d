package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// ReturnField enumerates the queryable return columns.
type ReturnField string

const (
	ReturnFieldID         ReturnField = "id"
	ReturnFieldRRSPNumber ReturnField = "rrsp_number"
	ReturnFieldProductID  ReturnField = "product_id"
)

const returnColumns = `id, rrsp_number, product_id, return_date, quantity, condition, remarks,
	returned_by_employee_id, returned_by_position, received_date, location,
	created_at, status, processed_by_employee_id, processed_date, processing_notes,
	sync_status, is_dirty, last_modified, last_synced_at, deleted_at`

func scanReturn(scanner interface{ Scan(...any) error }) (*types.ReturnRecord, error) {
	var r types.ReturnRecord
	var processedBy, processedDate, processingNotes sql.NullString
	var dirty int
	var lastModified string
	var lastSynced, deleted sql.NullString

	err := scanner.Scan(
		&r.ID, &r.RRSPNumber, &r.ProductID, &r.ReturnDate, &r.Quantity, &r.Condition, &r.Remarks,
		&r.ReturnedByEmployeeID, &r.ReturnedByPosition, &r.ReceivedDate, &r.Location,
		&r.CreatedAt, &r.Status, &processedBy, &processedDate, &processingNotes,
		&r.SyncStatus, &dirty, &lastModified, &lastSynced, &deleted,
	)
	if err != nil {
		return nil, err
	}

	if processedBy.Valid {
		r.ProcessedByEmployeeID = processedBy.String
	}
	if processedDate.Valid {
		r.ProcessedDate = processedDate.String
	}
	if processingNotes.Valid {
		r.ProcessingNotes = processingNotes.String
	}
	r.IsDirty = dirty != 0
	r.LastModified = parseTime(lastModified)
	r.LastSyncedAt = parseNullableTime(lastSynced)
	r.DeletedAt = parseNullableTime(deleted)
	return &r, nil
}

func (s *Store) fetchReturnReceivers(ctx context.Context, returnID string) ([]types.ReturnReceiverEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, position, received_date, location
		FROM return_receivers
		WHERE return_id = ?
	`, returnID)
	if err != nil {
		return nil, fmt.Errorf("query return receivers: %w", err)
	}
	defer rows.Close()

	var out []types.ReturnReceiverEntry
	for rows.Next() {
		var e types.ReturnReceiverEntry
		if err := rows.Scan(&e.EmployeeID, &e.Position, &e.ReceivedDate, &e.Location); err != nil {
			return nil, fmt.Errorf("scan receiver: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// replaceReceiversTx replaces the full receiver set for a return inside the
// caller's transaction. The aggregate is atomic: delete-all, insert-all.
func replaceReceiversTx(tx *sql.Tx, returnID string, receivers []types.ReturnReceiverEntry) error {
	if _, err := tx.Exec(`DELETE FROM return_receivers WHERE return_id = ?`, returnID); err != nil {
		return fmt.Errorf("clear return receivers: %w", err)
	}
	if len(receivers) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO return_receivers (return_id, employee_id, position, received_date, location)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare receiver insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range receivers {
		if _, err := stmt.Exec(returnID, e.EmployeeID, e.Position, e.ReceivedDate, e.Location); err != nil {
			return fmt.Errorf("insert receiver %s: %w", e.EmployeeID, err)
		}
	}
	return nil
}

// ListReturns returns all non-deleted returns with their receivers, newest
// first.
func (s *Store) ListReturns(ctx context.Context) ([]types.ReturnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query returns: %w", err)
	}
	defer rows.Close()

	var out []types.ReturnRecord
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		receivers, err := s.fetchReturnReceivers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].ReceivedByEntries = receivers
	}
	return out, nil
}

// GetReturn returns the return record with its receivers, or ErrNotFound.
func (s *Store) GetReturn(ctx context.Context, id string) (*types.ReturnRecord, error) {
	return s.FindReturnBy(ctx, ReturnFieldID, id)
}

// FindReturnBy looks up a single return by one of the queryable fields.
func (s *Store) FindReturnBy(ctx context.Context, field ReturnField, value string) (*types.ReturnRecord, error) {
	switch field {
	case ReturnFieldID, ReturnFieldRRSPNumber, ReturnFieldProductID:
	default:
		return nil, fmt.Errorf("return lookup: unsupported field %q", field)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE `+string(field)+` = ? AND deleted_at IS NULL
	`, value)

	r, err := scanReturn(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan return: %w", err)
	}

	receivers, err := s.fetchReturnReceivers(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.ReceivedByEntries = receivers
	return r, nil
}

// AddReturn inserts a new return, its receiver set, and the upsert outbox
// entry in one transaction.
func (s *Store) AddReturn(ctx context.Context, r types.ReturnRecord) (*types.ReturnRecord, error) {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = types.NewID()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = fmtTime(now)
	}
	stampPending(&r.SyncMeta, now)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO returns (`+returnColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.ID, r.RRSPNumber, r.ProductID, r.ReturnDate, r.Quantity, r.Condition, r.Remarks,
			r.ReturnedByEmployeeID, r.ReturnedByPosition, r.ReceivedDate, r.Location,
			r.CreatedAt, r.Status,
			nullableString(r.ProcessedByEmployeeID), nullableString(r.ProcessedDate), nullableString(r.ProcessingNotes),
			r.SyncStatus, boolToInt(r.IsDirty), fmtTime(r.LastModified), nil, nil,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("return %s: %w", r.RRSPNumber, ErrDuplicate)
			}
			return fmt.Errorf("insert return: %w", err)
		}
		if err := replaceReceiversTx(tx, r.ID, r.ReceivedByEntries); err != nil {
			return err
		}
		return enqueueOutboxTx(tx, pimssync.EntityReturns, r.ID, pimssync.OperationUpsert, r)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("returns")
	return &r, nil
}

// UpdateReturn applies mutate to the current aggregate, replaces the receiver
// set wholesale, and enqueues the full post-merge snapshot. Missing or
// soft-deleted ids are a silent no-op.
func (s *Store) UpdateReturn(ctx context.Context, id string, mutate func(*types.ReturnRecord)) (*types.ReturnRecord, error) {
	existing, err := s.GetReturn(ctx, id)
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
			UPDATE returns SET
				rrsp_number = ?, product_id = ?, return_date = ?, quantity = ?, condition = ?, remarks = ?,
				returned_by_employee_id = ?, returned_by_position = ?, received_date = ?, location = ?,
				created_at = ?, status = ?, processed_by_employee_id = ?, processed_date = ?, processing_notes = ?,
				sync_status = ?, is_dirty = ?, last_modified = ?
			WHERE id = ?
		`,
			updated.RRSPNumber, updated.ProductID, updated.ReturnDate, updated.Quantity, updated.Condition, updated.Remarks,
			updated.ReturnedByEmployeeID, updated.ReturnedByPosition, updated.ReceivedDate, updated.Location,
			updated.CreatedAt, updated.Status,
			nullableString(updated.ProcessedByEmployeeID), nullableString(updated.ProcessedDate), nullableString(updated.ProcessingNotes),
			updated.SyncStatus, boolToInt(updated.IsDirty), fmtTime(updated.LastModified),
			id,
		)
		if err != nil {
			return fmt.Errorf("update return: %w", err)
		}
		if err := replaceReceiversTx(tx, id, updated.ReceivedByEntries); err != nil {
			return err
		}
		return enqueueOutboxTx(tx, pimssync.EntityReturns, id, pimssync.OperationUpsert, updated)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("returns")
	return &updated, nil
}

// RemoveReturn soft-deletes the return and enqueues a delete entry. Receiver
// rows stay with the retained parent row.
func (s *Store) RemoveReturn(ctx context.Context, id string) error {
	return s.softDelete(ctx, pimssync.EntityReturns, id)
}
