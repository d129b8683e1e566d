package backup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// SnapshotSource produces a consistent database copy at the given path.
type SnapshotSource interface {
	Snapshot(ctx context.Context, dest string) error
}

// Worker writes periodic snapshots and hands them to the uploader.
type Worker struct {
	source   SnapshotSource
	uploader Uploader
	dir      string
	interval time.Duration
	now      func() time.Time
}

// NewWorker creates a worker writing snapshots into dir on the given interval.
// A nil uploader keeps snapshots local-only.
func NewWorker(source SnapshotSource, uploader Uploader, dir string, interval time.Duration) *Worker {
	if uploader == nil {
		uploader = &NoopUploader{}
	}
	return &Worker{
		source:   source,
		uploader: uploader,
		dir:      dir,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the worker loop. Takes a snapshot immediately on start, then on
// each interval. Respects context cancellation for graceful shutdown.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.snapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

// RunOnce takes a single snapshot and uploads it.
func (w *Worker) RunOnce(ctx context.Context) (string, error) {
	dest := filepath.Join(w.dir, fmt.Sprintf("pims-%s.db", w.now().UTC().Format("20060102-150405")))
	if err := w.source.Snapshot(ctx, dest); err != nil {
		return "", err
	}
	if err := w.uploader.Upload(ctx, dest); err != nil {
		return dest, fmt.Errorf("upload %s: %w", dest, err)
	}
	return dest, nil
}

// snapshot runs one cycle and logs any errors.
func (w *Worker) snapshot(ctx context.Context) {
	dest, err := w.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup failed",
			"component", "worker",
			"action", "backup_failed",
			"error", err,
		)
		return
	}
	slog.Info("backup completed",
		"component", "worker",
		"action", "backup_completed",
		"dest", dest,
	)
}
