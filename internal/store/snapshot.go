package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Snapshot writes a consistent copy of the database to dest using VACUUM INTO.
// The destination file must not already exist; SQLite refuses to overwrite it.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}

	slog.Info("snapshot written", "component", "store", "action", "snapshot", "dest", dest)
	return nil
}
