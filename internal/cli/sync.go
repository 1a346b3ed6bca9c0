package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorgan/histalog/internal/config"
	"github.com/jmorgan/histalog/internal/store"
	hsync "github.com/jmorgan/histalog/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending queue once",
	Long:  "Run a single reconciliation pass: push queued meals, context and symptom logs to the remote store and promote confirmed entries to the local cache.",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("no remote configured (set HISTALOG_REMOTE_URL)")
	}

	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := hsync.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token)
	rec := hsync.New(db, client, log, hsync.Options{
		MaxAttempts: cfg.Sync.MaxAttempts,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stats, err := rec.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	fmt.Printf("confirmed %d, failed %d, skipped %d\n", stats.Confirmed, stats.Failed, stats.Skipped)

	stalled, err := rec.Stalled()
	if err != nil {
		return fmt.Errorf("stalled: %w", err)
	}
	for _, op := range stalled {
		fmt.Printf("stalled: %s %s (%d attempts)\n", op.Kind, op.TempID, op.SyncAttempts)
	}
	return nil
}

// describePending renders one queue entry for the pending listing.
func describePending(op store.PendingOp) string {
	created := op.CreatedAt.Format(time.RFC3339)
	return fmt.Sprintf("  %s  created %s  attempts %d", op.TempID, created, op.SyncAttempts)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued entries awaiting sync",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	counts, err := db.PendingCounts()
	if err != nil {
		return fmt.Errorf("pending counts: %w", err)
	}

	total := 0
	for _, kind := range store.Kinds {
		total += counts[kind]
	}
	if total == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	for _, kind := range store.Kinds {
		if counts[kind] == 0 {
			continue
		}
		fmt.Printf("## %s (%d)\n", kind, counts[kind])
		ops, err := db.ListPending(kind)
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		for _, op := range ops {
			fmt.Println(describePending(op))
		}
	}
	return nil
}
