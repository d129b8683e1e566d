package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Evasc0/BTS-PIMS/internal/types"
)

// normalizeMeta fills in sync metadata for an imported record from whatever
// the legacy dump carried. Imports sit outside sync accounting: no outbox
// entries are produced, and records default to pending only when dirty.
func normalizeMeta(m types.SyncMeta, now time.Time) types.SyncMeta {
	if m.LastModified.IsZero() {
		m.LastModified = now
	}
	if m.SyncStatus == "" {
		if m.IsDirty {
			m.SyncStatus = types.SyncPending
		} else {
			m.SyncStatus = types.SyncSynced
		}
	}
	return m
}

// ImportLegacyDump bulk-replaces every table with the dump's contents in one
// transaction. The outbox is cleared: imported rows re-enter sync accounting
// only through subsequent Record Store writes.
func (s *Store) ImportLegacyDump(ctx context.Context, dump *types.LegacyDump) error {
	if dump == nil {
		return nil
	}
	now := time.Now().UTC()

	// Receivers reference returns; suspend enforcement for the bulk swap.
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON")

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"return_receivers", "returns", "products", "employees",
			"activity_logs", "settings", "sync_outbox",
		} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, e := range dump.Employees {
			e.SyncMeta = normalizeMeta(e.SyncMeta, now)
			if _, err := tx.Exec(`
				INSERT INTO employees (`+employeeColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				e.ID, e.FullName, e.Email, e.Phone, e.Department, e.Role, e.Status,
				e.PasswordHash, e.PasswordSalt, e.CreatedAt, e.Location,
				boolToInt(e.TwoFactorEnabled), boolToInt(e.EmailNotifications), boolToInt(e.LowStockAlerts), e.Language,
				e.SyncStatus, boolToInt(e.IsDirty), fmtTime(e.LastModified),
				fmtNullableTime(e.LastSyncedAt), fmtNullableTime(e.DeletedAt),
			); err != nil {
				return fmt.Errorf("import employee %s: %w", e.ID, err)
			}
		}

		for _, p := range dump.Products {
			p.SyncMeta = normalizeMeta(p.SyncMeta, now)
			if _, err := tx.Exec(`
				INSERT INTO products (`+productColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				p.ID, p.ValueCategory, p.Article, p.Date, p.Description,
				p.PARControlNumber, p.PropertyNumber, p.Unit, p.UnitValue,
				p.BalancePerCard, p.OnHandPerCount, p.Total, p.Remarks, p.Location,
				nullableString(p.AssignedToEmployeeID), p.Status,
				p.SyncStatus, boolToInt(p.IsDirty), fmtTime(p.LastModified),
				fmtNullableTime(p.LastSyncedAt), fmtNullableTime(p.DeletedAt),
			); err != nil {
				return fmt.Errorf("import product %s: %w", p.ID, err)
			}
		}

		for _, r := range dump.Returns {
			r.SyncMeta = normalizeMeta(r.SyncMeta, now)
			if _, err := tx.Exec(`
				INSERT INTO returns (`+returnColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				r.ID, r.RRSPNumber, r.ProductID, r.ReturnDate, r.Quantity, r.Condition, r.Remarks,
				r.ReturnedByEmployeeID, r.ReturnedByPosition, r.ReceivedDate, r.Location,
				r.CreatedAt, r.Status,
				nullableString(r.ProcessedByEmployeeID), nullableString(r.ProcessedDate), nullableString(r.ProcessingNotes),
				r.SyncStatus, boolToInt(r.IsDirty), fmtTime(r.LastModified),
				fmtNullableTime(r.LastSyncedAt), fmtNullableTime(r.DeletedAt),
			); err != nil {
				return fmt.Errorf("import return %s: %w", r.ID, err)
			}
			if err := replaceReceiversTx(tx, r.ID, r.ReceivedByEntries); err != nil {
				return err
			}
		}

		for _, a := range dump.ActivityLogs {
			a.SyncMeta = normalizeMeta(a.SyncMeta, now)
			if _, err := tx.Exec(`
				INSERT INTO activity_logs (`+activityColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				a.ID, a.Action, a.EntityType, a.EntityID, a.PerformedByEmployeeID, a.Timestamp,
				a.Details, a.Status, a.IPAddress,
				a.SyncStatus, boolToInt(a.IsDirty), fmtTime(a.LastModified),
				fmtNullableTime(a.LastSyncedAt), fmtNullableTime(a.DeletedAt),
			); err != nil {
				return fmt.Errorf("import activity log %s: %w", a.ID, err)
			}
		}

		for _, c := range dump.Settings {
			c.SyncMeta = normalizeMeta(c.SyncMeta, now)
			if _, err := tx.Exec(`
				INSERT INTO settings (`+settingsColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				c.ID, c.SystemName, c.CompanyName, c.TimeZone, c.DateFormat, boolToInt(c.MaintenanceMode),
				boolToInt(c.NotificationsLowStock), boolToInt(c.NotificationsNewReturn),
				boolToInt(c.NotificationsReturnApproved), boolToInt(c.NotificationsEmployeeAdded),
				boolToInt(c.NotificationsSystemUpdates), c.PasswordPolicy, c.SessionTimeoutMinutes, c.MaxLoginAttempts,
				boolToInt(c.RequireTwoFactor), boolToInt(c.IPWhitelistEnabled), c.BackupFrequency, c.LastBackupAt,
				c.SMTPServer, c.SMTPPort, c.SMTPEncryption, c.SMTPFromEmail, c.APIKey, c.APIRateLimit, boolToInt(c.APIEnabled),
				c.SyncStatus, boolToInt(c.IsDirty), fmtTime(c.LastModified),
				fmtNullableTime(c.LastSyncedAt), fmtNullableTime(c.DeletedAt),
			); err != nil {
				return fmt.Errorf("import settings %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, table := range []string{"employees", "products", "returns", "activity_logs", "settings", "sync_outbox"} {
		s.fireNotify(table)
	}
	return nil
}
