package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/gaswatch/internal/control"
	"github.com/vietddude/gaswatch/internal/indexing/query"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the record store holds",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	count, err := store.Count(ctx)
	if err != nil {
		slog.Error("Failed to count records", "error", err)
		os.Exit(1)
	}
	latest, ok, err := store.LatestHeight(ctx)
	if err != nil {
		slog.Error("Failed to read latest height", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "DRIVER\t%s\n", cfg.Storage.Driver)
	_, _ = fmt.Fprintf(w, "RECORDS\t%d\n", count)
	if ok {
		_, _ = fmt.Fprintf(w, "LATEST\t%d\n", latest)
	} else {
		_, _ = fmt.Fprintln(w, "LATEST\t-")
	}
	_, _ = fmt.Fprintf(w, "RETENTION\t%s\n", cfg.Retention.Period())
	_ = w.Flush()

	now := time.Now()
	_, _ = fmt.Fprintln(os.Stdout)
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RANGE\tROWS\tFIRST\tLAST")
	for _, tf := range query.Timeframes {
		rows, err := store.Range(ctx, now.Add(-tf.Duration()), now)
		if err != nil {
			slog.Error("Failed to read range", "range", tf, "error", err)
			os.Exit(1)
		}
		if len(rows) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t0\t-\t-\n", tf)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", tf, len(rows), rows[0].Height, rows[len(rows)-1].Height)
	}
	_ = w.Flush()
}
