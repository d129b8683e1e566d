package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pimssync "github.com/Evasc0/BTS-PIMS/internal/sync"
)

var syncWatch bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending changes to the remote endpoint",
	Long: "Runs one sync cycle against the configured endpoint and prints the " +
		"result. With --watch, keeps running a cycle on every interval until " +
		"interrupted.",
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false,
		"Keep syncing on the configured interval")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := &http.Client{Timeout: time.Duration(cfg.Sync.Timeout)}
	engine := pimssync.NewEngine(st, cfg.Sync.Endpoint, client,
		pimssync.WithAPIKey(cfg.Sync.APIKey),
		pimssync.WithBatchSize(cfg.Sync.BatchSize),
	)

	if syncWatch {
		engine.SyncNow(ctx)
		engine.Run(ctx, time.Duration(cfg.Sync.Interval))
		return nil
	}

	result := engine.SyncNow(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
