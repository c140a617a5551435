package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/gaswatch/internal/control"
	"github.com/vietddude/gaswatch/internal/core/worker"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete records past the retention horizon once and reclaim space",
	Run:   runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	store, _, err := control.OpenStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	sweeper := worker.NewSweeper(worker.SweeperConfig{
		Retention:      cfg.Retention.Period(),
		ReclaimMinRows: cfg.Retention.ReclaimMinRows,
	}, store)

	deleted, err := sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d records older than %s\n", deleted, cfg.Retention.Period())
}
