package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// ProductField enumerates the queryable product columns.
type ProductField string

const (
	ProductFieldID               ProductField = "id"
	ProductFieldPropertyNumber   ProductField = "property_number"
	ProductFieldPARControlNumber ProductField = "par_control_number"
)

const productColumns = `id, value_category, article, date, description, par_control_number, property_number,
	unit, unit_value, balance_per_card, on_hand_per_count, total, remarks, location,
	assigned_to_employee_id, status,
	sync_status, is_dirty, last_modified, last_synced_at, deleted_at`

func scanProduct(scanner interface{ Scan(...any) error }) (*types.Product, error) {
	var p types.Product
	var assigned sql.NullString
	var dirty int
	var lastModified string
	var lastSynced, deleted sql.NullString

	err := scanner.Scan(
		&p.ID, &p.ValueCategory, &p.Article, &p.Date, &p.Description,
		&p.PARControlNumber, &p.PropertyNumber, &p.Unit, &p.UnitValue,
		&p.BalancePerCard, &p.OnHandPerCount, &p.Total, &p.Remarks, &p.Location,
		&assigned, &p.Status,
		&p.SyncStatus, &dirty, &lastModified, &lastSynced, &deleted,
	)
	if err != nil {
		return nil, err
	}

	if assigned.Valid {
		p.AssignedToEmployeeID = assigned.String
	}
	p.IsDirty = dirty != 0
	p.LastModified = parseTime(lastModified)
	p.LastSyncedAt = parseNullableTime(lastSynced)
	p.DeletedAt = parseNullableTime(deleted)
	return &p, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListProducts returns all non-deleted products, newest acquisition first.
func (s *Store) ListProducts(ctx context.Context) ([]types.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE deleted_at IS NULL
		ORDER BY date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetProduct returns the product with the given id, or ErrNotFound.
func (s *Store) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	return s.FindProductBy(ctx, ProductFieldID, id)
}

// FindProductBy looks up a single product by one of the queryable fields.
func (s *Store) FindProductBy(ctx context.Context, field ProductField, value string) (*types.Product, error) {
	switch field {
	case ProductFieldID, ProductFieldPropertyNumber, ProductFieldPARControlNumber:
	default:
		return nil, fmt.Errorf("product lookup: unsupported field %q", field)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE `+string(field)+` = ? AND deleted_at IS NULL
	`, value)

	p, err := scanProduct(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

// AddProduct inserts a new product and its upsert outbox entry atomically.
func (s *Store) AddProduct(ctx context.Context, p types.Product) (*types.Product, error) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = types.NewID()
	}
	if p.Date == "" {
		p.Date = fmtTime(now)
	}
	stampPending(&p.SyncMeta, now)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO products (`+productColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID, p.ValueCategory, p.Article, p.Date, p.Description,
			p.PARControlNumber, p.PropertyNumber, p.Unit, p.UnitValue,
			p.BalancePerCard, p.OnHandPerCount, p.Total, p.Remarks, p.Location,
			nullableString(p.AssignedToEmployeeID), p.Status,
			p.SyncStatus, boolToInt(p.IsDirty), fmtTime(p.LastModified), nil, nil,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("product %s: %w", p.PropertyNumber, ErrDuplicate)
			}
			return fmt.Errorf("insert product: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntityProducts, p.ID, pimssync.OperationUpsert, p)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("products")
	return &p, nil
}

// UpdateProduct applies mutate to the current record and enqueues the full
// post-merge snapshot. Missing or soft-deleted ids are a silent no-op.
func (s *Store) UpdateProduct(ctx context.Context, id string, mutate func(*types.Product)) (*types.Product, error) {
	existing, err := s.GetProduct(ctx, id)
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
			UPDATE products SET
				value_category = ?, article = ?, date = ?, description = ?,
				par_control_number = ?, property_number = ?, unit = ?, unit_value = ?,
				balance_per_card = ?, on_hand_per_count = ?, total = ?, remarks = ?, location = ?,
				assigned_to_employee_id = ?, status = ?,
				sync_status = ?, is_dirty = ?, last_modified = ?
			WHERE id = ?
		`,
			updated.ValueCategory, updated.Article, updated.Date, updated.Description,
			updated.PARControlNumber, updated.PropertyNumber, updated.Unit, updated.UnitValue,
			updated.BalancePerCard, updated.OnHandPerCount, updated.Total, updated.Remarks, updated.Location,
			nullableString(updated.AssignedToEmployeeID), updated.Status,
			updated.SyncStatus, boolToInt(updated.IsDirty), fmtTime(updated.LastModified),
			id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("product %s: %w", updated.PropertyNumber, ErrDuplicate)
			}
			return fmt.Errorf("update product: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntityProducts, id, pimssync.OperationUpsert, updated)
	})
	if err != nil {
		return nil, err
	}
	s.fireNotify("products")
	return &updated, nil
}

// RemoveProduct soft-deletes the product and enqueues a delete entry.
func (s *Store) RemoveProduct(ctx context.Context, id string) error {
	return s.softDelete(ctx, pimssync.EntityProducts, id)
}
