package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
	"github.com/Evasc0/BTS-PIMS/internal/types"
)

const settingsColumns = `id, system_name, company_name, time_zone, date_format, maintenance_mode,
	notifications_low_stock, notifications_new_return, notifications_return_approved, notifications_employee_added,
	notifications_system_updates, password_policy, session_timeout_minutes, max_login_attempts,
	require_two_factor, ip_whitelist_enabled, backup_frequency, last_backup_at,
	smtp_server, smtp_port, smtp_encryption, smtp_from_email, api_key, api_rate_limit, api_enabled,
	sync_status, is_dirty, last_modified, last_synced_at, deleted_at`

func scanSettings(scanner interface{ Scan(...any) error }) (*types.SystemSettings, error) {
	var c types.SystemSettings
	var maintenance, lowStock, newReturn, returnApproved, employeeAdded, systemUpdates int
	var twoFactor, ipWhitelist, apiEnabled, dirty int
	var lastModified string
	var lastSynced, deleted sql.NullString

	err := scanner.Scan(
		&c.ID, &c.SystemName, &c.CompanyName, &c.TimeZone, &c.DateFormat, &maintenance,
		&lowStock, &newReturn, &returnApproved, &employeeAdded,
		&systemUpdates, &c.PasswordPolicy, &c.SessionTimeoutMinutes, &c.MaxLoginAttempts,
		&twoFactor, &ipWhitelist, &c.BackupFrequency, &c.LastBackupAt,
		&c.SMTPServer, &c.SMTPPort, &c.SMTPEncryption, &c.SMTPFromEmail, &c.APIKey, &c.APIRateLimit, &apiEnabled,
		&c.SyncStatus, &dirty, &lastModified, &lastSynced, &deleted,
	)
	if err != nil {
		return nil, err
	}

	c.MaintenanceMode = maintenance != 0
	c.NotificationsLowStock = lowStock != 0
	c.NotificationsNewReturn = newReturn != 0
	c.NotificationsReturnApproved = returnApproved != 0
	c.NotificationsEmployeeAdded = employeeAdded != 0
	c.NotificationsSystemUpdates = systemUpdates != 0
	c.RequireTwoFactor = twoFactor != 0
	c.IPWhitelistEnabled = ipWhitelist != 0
	c.APIEnabled = apiEnabled != 0
	c.IsDirty = dirty != 0
	c.LastModified = parseTime(lastModified)
	c.LastSyncedAt = parseNullableTime(lastSynced)
	c.DeletedAt = parseNullableTime(deleted)
	return &c, nil
}

// ListSettings returns all non-deleted settings rows.
func (s *Store) ListSettings(ctx context.Context) ([]types.SystemSettings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+settingsColumns+`
		FROM settings
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var out []types.SystemSettings
	for rows.Next() {
		c, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetSettings returns the settings row with the given id, or ErrNotFound.
func (s *Store) GetSettings(ctx context.Context, id string) (*types.SystemSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+settingsColumns+`
		FROM settings
		WHERE id = ? AND deleted_at IS NULL
	`, id)

	c, err := scanSettings(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	return c, nil
}

// PutSettings upserts the settings row, stamping pending metadata and
// appending an upsert outbox entry, all in one transaction. Settings are
// tracked records like every other entity: a soft-deleted id is a silent
// no-op, same as the other update paths.
func (s *Store) PutSettings(ctx context.Context, c types.SystemSettings) (*types.SystemSettings, error) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = types.NewID()
	}
	stampPending(&c.SyncMeta, now)

	hidden := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var deleted sql.NullString
		err := tx.QueryRow(`SELECT deleted_at FROM settings WHERE id = ?`, c.ID).Scan(&deleted)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check settings: %w", err)
		}
		if deleted.Valid {
			hidden = true
			return nil
		}

		_, err = tx.Exec(`
			INSERT INTO settings (`+settingsColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
				last_modified = excluded.last_modified
		`,
			c.ID, c.SystemName, c.CompanyName, c.TimeZone, c.DateFormat, boolToInt(c.MaintenanceMode),
			boolToInt(c.NotificationsLowStock), boolToInt(c.NotificationsNewReturn),
			boolToInt(c.NotificationsReturnApproved), boolToInt(c.NotificationsEmployeeAdded),
			boolToInt(c.NotificationsSystemUpdates), c.PasswordPolicy, c.SessionTimeoutMinutes, c.MaxLoginAttempts,
			boolToInt(c.RequireTwoFactor), boolToInt(c.IPWhitelistEnabled), c.BackupFrequency, c.LastBackupAt,
			c.SMTPServer, c.SMTPPort, c.SMTPEncryption, c.SMTPFromEmail, c.APIKey, c.APIRateLimit, boolToInt(c.APIEnabled),
			c.SyncStatus, boolToInt(c.IsDirty), fmtTime(c.LastModified), nil, nil,
		)
		if err != nil {
			return fmt.Errorf("upsert settings: %w", err)
		}
		return enqueueOutboxTx(tx, pimssync.EntitySettings, c.ID, pimssync.OperationUpsert, c)
	})
	if err != nil {
		return nil, err
	}
	if hidden {
		return nil, nil
	}
	s.fireNotify("settings")
	return &c, nil
}

// RemoveSettings soft-deletes the settings row and enqueues a delete entry.
func (s *Store) RemoveSettings(ctx context.Context, id string) error {
	return s.softDelete(ctx, pimssync.EntitySettings, id)
}
