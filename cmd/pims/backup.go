package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Evasc0/BTS-PIMS/internal/backup"
)

var backupWatch bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the local database",
	Long: "Writes a consistent snapshot of the local database into the backup " +
		"directory and, when S3 storage is configured, uploads it. With " +
		"--watch, keeps snapshotting on the configured interval.",
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupWatch, "watch", false,
		"Keep snapshotting on the configured interval")
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	uploader, err := backup.NewUploader(cfg.Backup.Storage)
	if err != nil {
		return err
	}

	worker := backup.NewWorker(st, uploader, cfg.Backup.Dir, time.Duration(cfg.Backup.Interval))

	if backupWatch {
		worker.Run(ctx)
		return nil
	}

	dest, err := worker.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", dest)
	return nil
}
