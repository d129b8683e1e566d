package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// ApplyPushResult applies the three result sets of a successful push in one
// transaction: acknowledged entries mark their records synced and leave the
// queue, conflicts flag their records, and server-originated changes are
// upserted as already-synced state. Either all of it commits or none does.
func (s *Store) ApplyPushResult(ctx context.Context, batch []pimssync.OutboxEntry, resp pimssync.PushResponse, now time.Time) error {
	byID := make(map[int64]pimssync.OutboxEntry, len(batch))
	for _, e := range batch {
		byID[e.ID] = e
	}

	touched := make(map[string]bool)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range resp.AckedIDs {
			entry, ok := byID[id]
			if !ok {
				continue
			}
			table, ok := entityTables[entry.EntityType]
			if !ok {
				continue
			}
			if _, err := tx.Exec(`
				UPDATE `+table+`
				SET sync_status = 'synced', is_dirty = 0, last_synced_at = ?
				WHERE id = ?
			`, fmtTime(now), entry.EntityID); err != nil {
				return fmt.Errorf("mark %s synced: %w", table, err)
			}
			touched[table] = true
		}
		if err := acknowledgeTx(tx, resp.AckedIDs); err != nil {
			return err
		}
		if len(resp.AckedIDs) > 0 {
			touched["sync_outbox"] = true
		}

		for _, c := range resp.Conflicts {
			if _, ok := entityTables[c.EntityType]; !ok {
				continue
			}
			if err := markConflictTx(tx, c.EntityType, c.EntityID); err != nil {
				return err
			}
			touched[entityTables[c.EntityType]] = true
		}

		for _, change := range resp.ServerChanges {
			table, err := applyServerChangeTx(tx, change, now)
			if err != nil {
				return err
			}
			if table != "" {
				touched[table] = true
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for table := range touched {
		s.fireNotify(table)
	}
	return nil
}

// ApplyServerChange applies a single server-originated change in its own
// transaction. Applying the same change twice yields identical record state.
func (s *Store) ApplyServerChange(ctx context.Context, change pimssync.ServerChange, now time.Time) error {
	var table string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		table, err = applyServerChangeTx(tx, change, now)
		return err
	})
	if err != nil {
		return err
	}
	if table != "" {
		s.fireNotify(table)
	}
	return nil
}

// applyServerChangeTx upserts the full record from the server payload,
// forcing synced/clean metadata and preserving the payload's deletedAt so
// remote soft-deletes propagate. Unknown entity types are skipped.
func applyServerChangeTx(tx *sql.Tx, change pimssync.ServerChange, now time.Time) (string, error) {
	decoded, err := pimssync.DecodePayload(change.EntityType, pimssync.OperationUpsert, change.Data)
	if err != nil {
		return "", fmt.Errorf("server change for %s: %w", change.EntityType, err)
	}

	switch v := decoded.(type) {
	case types.Employee:
		return "employees", applyServerEmployee(tx, v, now)
	case types.Product:
		return "products", applyServerProduct(tx, v, now)
	case types.ReturnRecord:
		return "returns", applyServerReturn(tx, v, change.Data, now)
	case types.ActivityLog:
		return "activity_logs", applyServerActivity(tx, v, now)
	case types.SystemSettings:
		return "settings", applyServerSettings(tx, v, now)
	default:
		return "", nil
	}
}

// serverMeta returns the forced metadata values for a server-applied record.
func serverMeta(m types.SyncMeta, now time.Time) (lastModified string, lastSynced string, deletedAt any) {
	lm := m.LastModified
	if lm.IsZero() {
		lm = now
	}
	return fmtTime(lm), fmtTime(now), fmtNullableTime(m.DeletedAt)
}

func applyServerEmployee(tx *sql.Tx, e types.Employee, now time.Time) error {
	lastModified, lastSynced, deletedAt := serverMeta(e.SyncMeta, now)
	_, err := tx.Exec(`
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			phone = excluded.phone,
			department = excluded.department,
			role = excluded.role,
			status = excluded.status,
			password_hash = excluded.password_hash,
			password_salt = excluded.password_salt,
			created_at = excluded.created_at,
			location = excluded.location,
			two_factor_enabled = excluded.two_factor_enabled,
			email_notifications = excluded.email_notifications,
			low_stock_alerts = excluded.low_stock_alerts,
			language = excluded.language,
			sync_status = excluded.sync_status,
			is_dirty = excluded.is_dirty,
			last_modified = excluded.last_modified,
			last_synced_at = excluded.last_synced_at,
			deleted_at = excluded.deleted_at
	`,
		e.ID, e.FullName, e.Email, e.Phone, e.Department, e.Role, e.Status,
		e.PasswordHash, e.PasswordSalt, e.CreatedAt, e.Location,
		boolToInt(e.TwoFactorEnabled), boolToInt(e.EmailNotifications), boolToInt(e.LowStockAlerts), e.Language,
		lastModified, lastSynced, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("apply server employee: %w", err)
	}
	return nil
}

func applyServerProduct(tx *sql.Tx, p types.Product, now time.Time) error {
	lastModified, lastSynced, deletedAt := serverMeta(p.SyncMeta, now)
	_, err := tx.Exec(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value_category = excluded.value_category,
			article = excluded.article,
			date = excluded.date,
			description = excluded.description,
			par_control_number = excluded.par_control_number,
			property_number = excluded.property_number,
			unit = excluded.unit,
			unit_value = excluded.unit_value,
			balance_per_card = excluded.balance_per_card,
			on_hand_per_count = excluded.on_hand_per_count,
			total = excluded.total,
			remarks = excluded.remarks,
			location = excluded.location,
			assigned_to_employee_id = excluded.assigned_to_employee_id,
			status = excluded.status,
			sync_status = excluded.sync_status,
			is_dirty = excluded.is_dirty,
			last_modified = excluded.last_modified,
			last_synced_at = excluded.last_synced_at,
			deleted_at = excluded.deleted_at
	`,
		p.ID, p.ValueCategory, p.Article, p.Date, p.Description,
		p.PARControlNumber, p.PropertyNumber, p.Unit, p.UnitValue,
		p.BalancePerCard, p.OnHandPerCount, p.Total, p.Remarks, p.Location,
		nullableString(p.AssignedToEmployeeID), p.Status,
		lastModified, lastSynced, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("apply server product: %w", err)
	}
	return nil
}

func applyServerReturn(tx *sql.Tx, r types.ReturnRecord, raw json.RawMessage, now time.Time) error {
	lastModified, lastSynced, deletedAt := serverMeta(r.SyncMeta, now)
	_, err := tx.Exec(`
		INSERT INTO returns (`+returnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rrsp_number = excluded.rrsp_number,
			product_id = excluded.product_id,
			return_date = excluded.return_date,
			quantity = excluded.quantity,
			condition = excluded.condition,
			remarks = excluded.remarks,
			returned_by_employee_id = excluded.returned_by_employee_id,
			returned_by_position = excluded.returned_by_position,
			received_date = excluded.received_date,
			location = excluded.location,
			created_at = excluded.created_at,
			status = excluded.status,
			processed_by_employee_id = excluded.processed_by_employee_id,
			processed_date = excluded.processed_date,
			processing_notes = excluded.processing_notes,
			sync_status = excluded.sync_status,
			is_dirty = excluded.is_dirty,
			last_modified = excluded.last_modified,
			last_synced_at = excluded.last_synced_at,
			deleted_at = excluded.deleted_at
	`,
		r.ID, r.RRSPNumber, r.ProductID, r.ReturnDate, r.Quantity, r.Condition, r.Remarks,
		r.ReturnedByEmployeeID, r.ReturnedByPosition, r.ReceivedDate, r.Location,
		r.CreatedAt, r.Status,
		nullableString(r.ProcessedByEmployeeID), nullableString(r.ProcessedDate), nullableString(r.ProcessingNotes),
		lastModified, lastSynced, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("apply server return: %w", err)
	}

	// Replace receivers only when the payload carries the set; a payload
	// without the field leaves local receivers untouched.
	var probe struct {
		ReceivedByEntries *[]types.ReturnReceiverEntry `json:"receivedByEntries"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ReceivedByEntries != nil {
		if err := replaceReceiversTx(tx, r.ID, *probe.ReceivedByEntries); err != nil {
			return err
		}
	}
	return nil
}

func applyServerActivity(tx *sql.Tx, a types.ActivityLog, now time.Time) error {
	lastModified, lastSynced, deletedAt := serverMeta(a.SyncMeta, now)
	_, err := tx.Exec(`
		INSERT INTO activity_logs (`+activityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action = excluded.action,
			entity_type = excluded.entity_type,
			entity_id = excluded.entity_id,
			performed_by_employee_id = excluded.performed_by_employee_id,
			timestamp = excluded.timestamp,
			details = excluded.details,
			status = excluded.status,
			ip_address = excluded.ip_address,
			sync_status = excluded.sync_status,
			is_dirty = excluded.is_dirty,
			last_modified = excluded.last_modified,
			last_synced_at = excluded.last_synced_at,
			deleted_at = excluded.deleted_at
	`,
		a.ID, a.Action, a.EntityType, a.EntityID, a.PerformedByEmployeeID, a.Timestamp,
		a.Details, a.Status, a.IPAddress,
		lastModified, lastSynced, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("apply server activity log: %w", err)
	}
	return nil
}

func applyServerSettings(tx *sql.Tx, c types.SystemSettings, now time.Time) error {
	lastModified, lastSynced, deletedAt := serverMeta(c.SyncMeta, now)
	_, err := tx.Exec(`
		INSERT INTO settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced', 0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			system_name = excluded.system_name,
			company_name = excluded.company_name,
			time_zone = excluded.time_zone,
			date_format = excluded.date_format,
			maintenance_mode = excluded.maintenance_mode,
			notifications_low_stock = excluded.notifications_low_stock,
			notifications_new_return = excluded.notifications_new_return,
			notifications_return_approved = excluded.notifications_return_approved,
			notifications_employee_added = excluded.notifications_employee_added,
			notifications_system_updates = excluded.notifications_system_updates,
			password_policy = excluded.password_policy,
			session_timeout_minutes = excluded.session_timeout_minutes,
			max_login_attempts = excluded.max_login_attempts,
			require_two_factor = excluded.require_two_factor,
			ip_whitelist_enabled = excluded.ip_whitelist_enabled,
			backup_frequency = excluded.backup_frequency,
			last_backup_at = excluded.last_backup_at,
			smtp_server = excluded.smtp_server,
			smtp_port = excluded.smtp_port,
			smtp_encryption = excluded.smtp_encryption,
			smtp_from_email = excluded.smtp_from_email,
			api_key = excluded.api_key,
			api_rate_limit = excluded.api_rate_limit,
			api_enabled = excluded.api_enabled,
			sync_status = excluded.sync_status,
			is_dirty = excluded.is_dirty,
			last_modified = excluded.last_modified,
			last_synced_at = excluded.last_synced_at,
			deleted_at = excluded.deleted_at
	`,
		c.ID, c.SystemName, c.CompanyName, c.TimeZone, c.DateFormat, boolToInt(c.MaintenanceMode),
		boolToInt(c.NotificationsLowStock), boolToInt(c.NotificationsNewReturn),
		boolToInt(c.NotificationsReturnApproved), boolToInt(c.NotificationsEmployeeAdded),
		boolToInt(c.NotificationsSystemUpdates), c.PasswordPolicy, c.SessionTimeoutMinutes, c.MaxLoginAttempts,
		boolToInt(c.RequireTwoFactor), boolToInt(c.IPWhitelistEnabled), c.BackupFrequency, c.LastBackupAt,
		c.SMTPServer, c.SMTPPort, c.SMTPEncryption, c.SMTPFromEmail, c.APIKey, c.APIRateLimit, boolToInt(c.APIEnabled),
		lastModified, lastSynced, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("apply server settings: %w", err)
	}
	return nil
}
