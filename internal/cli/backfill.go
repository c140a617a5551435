package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/gaswatch/internal/control"
	"github.com/vietddude/gaswatch/internal/indexing/backfill"
	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/infra/feed"
	"github.com/vietddude/gaswatch/internal/infra/rpc/routing"
)

// maxBackfillSpan bounds one invocation; larger ranges are split by the caller.
const maxBackfillSpan = 1_000_000

var (
	backfillFrom uint64
	backfillTo   uint64
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Insert placeholder rows for heights in [from, to] that have none",
	Run:   runBackfill,
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from", 0, "first height")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to", 0, "last height")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if backfillTo < backfillFrom {
		slog.Error("Invalid range", "from", backfillFrom, "to", backfillTo)
		os.Exit(1)
	}
	if backfillTo-backfillFrom >= maxBackfillSpan {
		slog.Error("Range too large, split it into smaller runs",
			"from", backfillFrom, "to", backfillTo, "max_heights", maxBackfillSpan)
		os.Exit(1)
	}
	if cfg.Feeds.Chain.URL == "" {
		slog.Error("feeds.chain.url is required to look up block timestamps")
		os.Exit(1)
	}

	ctx := context.Background()
	store, _, err := control.OpenStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	chain := feed.NewChainFeed(cfg.Feeds.Chain.URL, cfg.Feeds.Chain.Timeout, routing.DefaultRetryConfig)
	proc := backfill.NewProcessor(backfill.Config{
		Concurrency:   cfg.Backfill.Concurrency,
		LookupTimeout: cfg.Backfill.LookupTimeout,
	}, store, chain.BlockTime, metrics.NewTracker(), nil, nil)

	var filled, skipped, failed int
	err = eachChunk(backfillFrom, backfillTo, cfg.Backfill.MaxGap, func(heights []uint64) error {
		res, err := proc.Reconcile(ctx, heights)
		if err != nil {
			return fmt.Errorf("heights %d-%d: %w", heights[0], heights[len(heights)-1], err)
		}
		filled += len(res.Filled)
		skipped += res.Skipped
		failed += len(res.Failed)
		slog.Info("Backfilled chunk", "pass", res.PassID, "from", heights[0], "to", heights[len(heights)-1],
			"filled", len(res.Filled), "skipped", res.Skipped, "failed", len(res.Failed))
		return nil
	})
	if err != nil {
		slog.Error("Backfill failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Filled %d, skipped %d, failed %d\n", filled, skipped, failed)
}

// eachChunk calls fn with consecutive runs of at most size heights
// covering [from, to]. It stops at to even when to is the largest height.
func eachChunk(from, to, size uint64, fn func([]uint64) error) error {
	if size == 0 {
		size = backfill.DefaultConfig().MaxGap
	}
	for lo := from; ; {
		hi := to
		if to-lo >= size {
			hi = lo + size - 1
		}
		heights := make([]uint64, 0, hi-lo+1)
		for h := lo; ; h++ {
			heights = append(heights, h)
			if h == hi {
				break
			}
		}
		if err := fn(heights); err != nil {
			return err
		}
		if hi == to {
			return nil
		}
		lo = hi + 1
	}
}
