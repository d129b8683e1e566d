package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// EmployeeField enumerates the queryable employee columns. FindBy rejects
// anything outside this set at compile time.
type EmployeeField string

const (
	EmployeeFieldID    EmployeeField = "id"
	EmployeeFieldEmail EmployeeField = "email"
)

const employeeColumns = `id, full_name, email, phone, department, role, status, password_hash, password_salt,
	created_at, location, two_factor_enabled, email_notifications, low_stock_alerts, language,
	sync_status, is_dirty, last_modified, last_synced_at, deleted_at`

func scanEmployee(scanner interface{ Scan(...any) error }) (*types.Employee, error) {
	var e types.Employee
	var twoFactor, emailNotif, lowStock, dirty int
	var lastModified string
	var lastSynced, deleted sql.NullString

	err := scanner.Scan(
		&e.ID, &e.FullName, &e.Email, &e.Phone, &e.Department, &e.Role, &e.Status,
		&e.PasswordHash, &e.PasswordSalt, &e.CreatedAt, &e.Location,
		&twoFactor, &emailNotif, &lowStock, &e.Language,
		&e.SyncStatus, &dirty, &lastModified, &lastSynced, &deleted,
	)
	if err != nil {
		return nil, err
	}

	e.TwoFactorEnabled = twoFactor != 0
	e.EmailNotifications = emailNotif != 0
	e.LowStockAlerts = lowStock != 0
	e.IsDirty = dirty != 0
	e.LastModified = parseTime(lastModified)
	e.LastSyncedAt = parseNullableTime(lastSynced)
	e.DeletedAt = parseNullableTime(deleted)
	return &e, nil
}

// ListEmployees returns all non-deleted employees, newest first.
func (s *Store) ListEmployees(ctx context.Context) ([]types.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []types.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetEmployee returns the employee with the given id, or ErrNotFound for
// missing and soft-deleted rows.
func (s *Store) GetEmployee(ctx context.Context, id string) (*types.Employee, error) {
	return s.FindEmployeeBy(ctx, EmployeeFieldID, id)
}

// FindEmployeeBy looks up a single employee by one of the queryable fields.
func (s *Store) FindEmployeeBy(ctx context.Context, field EmployeeField, value string) (*types.Employee, error) {
	switch field {
	case EmployeeFieldID, EmployeeFieldEmail:
	default:
		return nil, fmt.Errorf("employee lookup: unsupported field %q", field)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+employeeColumns+`
		FROM employees
		WHERE `+string(field)+` = ? AND deleted_at IS NULL
	`, value)

	e, err := scanEmployee(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan employee: %w", err)
	}
	return e, nil
}

// AddEmployee inserts a new employee and appends its upsert outbox entry in
// the same transaction. An empty id is assigned; metadata is stamped pending
// and dirty.
func (s *Store) AddEmployee(ctx context.Context, e types.Employee) (*types.Employee, error) {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = types.NewID()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = fmtTime(now)
	}
	stampPending(&e.SyncMeta, now)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO employees (`+employeeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, e.FullName, e.Email, e.Phone, e.Department, e.Role, e.Status,
			e.PasswordHash, e.PasswordSalt, e.CreatedAt, e.Location,
			boolToInt(e.TwoFactorEnabled), boolToInt(e.EmailNotifications), boolToInt(e.LowStockAlerts), e.Language,
			e.SyncStatus, boolToInt(e.IsDirty), fmtTime(e.LastModified), nil, nil,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("employee %s: %w", e.Email, ErrDuplicate)
			}
			return fmt.Errorf("insert employee: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntityEmployees, e.ID, pimssync.OperationUpsert, e)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("employees")
	return &e, nil
}

// UpdateEmployee applies mutate to the current record, restamps pending
// metadata, and enqueues the full post-merge snapshot. Missing or soft-deleted
// ids are a silent no-op.
func (s *Store) UpdateEmployee(ctx context.Context, id string, mutate func(*types.Employee)) (*types.Employee, error) {
	existing, err := s.GetEmployee(ctx, id)
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
			UPDATE employees SET
				full_name = ?, email = ?, phone = ?, department = ?, role = ?, status = ?,
				password_hash = ?, password_salt = ?, created_at = ?, location = ?,
				two_factor_enabled = ?, email_notifications = ?, low_stock_alerts = ?, language = ?,
				sync_status = ?, is_dirty = ?, last_modified = ?
			WHERE id = ?
		`,
			updated.FullName, updated.Email, updated.Phone, updated.Department, updated.Role, updated.Status,
			updated.PasswordHash, updated.PasswordSalt, updated.CreatedAt, updated.Location,
			boolToInt(updated.TwoFactorEnabled), boolToInt(updated.EmailNotifications), boolToInt(updated.LowStockAlerts), updated.Language,
			updated.SyncStatus, boolToInt(updated.IsDirty), fmtTime(updated.LastModified),
			id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("employee %s: %w", updated.Email, ErrDuplicate)
			}
			return fmt.Errorf("update employee: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntityEmployees, id, pimssync.OperationUpsert, updated)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("employees")
	return &updated, nil
}

// RemoveEmployee soft-deletes the employee and enqueues a delete entry. The
// physical row is retained.
func (s *Store) RemoveEmployee(ctx context.Context, id string) error {
	return s.softDelete(ctx, pimssync.EntityEmployees, id)
}

// stampPending marks a record as locally modified and awaiting sync.
func stampPending(m *types.SyncMeta, now time.Time) {
	m.SyncStatus = types.SyncPending
	m.IsDirty = true
	m.LastModified = now
}

// softDelete sets deleted_at, stamps pending metadata, and enqueues the
// delete marker, all in one transaction. Missing rows are a no-op.
func (s *Store) softDelete(ctx context.Context, entityType, id string) error {
	table, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("soft delete: unknown entity type %q", entityType)
	}
	now := time.Now().UTC()
	deleted := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE `+table+`
			SET deleted_at = ?, sync_status = 'pending', is_dirty = 1, last_modified = ?
			WHERE id = ? AND deleted_at IS NULL
		`, fmtTime(now), fmtTime(now), id)
		if err != nil {
			return fmt.Errorf("soft delete %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		deleted = true
		return enqueueOutboxTx(tx, entityType, id, pimssync.OperationDelete,
			types.DeleteMarker{ID: id, DeletedAt: now})
	})
	if err != nil {
		return err
	}
	if deleted {
		s.fireNotify(table)
	}
	return nil
}
