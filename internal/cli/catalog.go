package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorgan/histalog/internal/config"
	hsync "github.com/jmorgan/histalog/internal/sync"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the cached food catalog",
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the latest catalog snapshot into the local cache",
	RunE:  runCatalogRefresh,
}

var catalogStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show when the catalog was last refreshed",
	RunE:  runCatalogStatus,
}

func init() {
	catalogCmd.AddCommand(catalogRefreshCmd)
	catalogCmd.AddCommand(catalogStatusCmd)
}

func runCatalogRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Remote.CatalogURL == "" {
		return fmt.Errorf("no catalog URL configured (set HISTALOG_CATALOG_URL)")
	}

	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cat, err := hsync.FetchCatalog(ctx, cfg.Remote.CatalogURL)
	if err != nil {
		return fmt.Errorf("fetch catalog: %w", err)
	}
	if err := db.UpsertFoods(cat.Foods); err != nil {
		return fmt.Errorf("upsert foods: %w", err)
	}
	if err := db.UpsertModifiers(cat.Modifiers); err != nil {
		return fmt.Errorf("upsert modifiers: %w", err)
	}
	if err := db.MarkCatalogRefreshed(time.Now()); err != nil {
		return fmt.Errorf("mark refreshed: %w", err)
	}

	fmt.Printf("cached %d foods and %d handling modifiers\n", len(cat.Foods), len(cat.Modifiers))
	return nil
}

func runCatalogStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	at, err := db.CatalogRefreshedAt()
	if err != nil {
		return fmt.Errorf("catalog state: %w", err)
	}
	if at.IsZero() {
		fmt.Println("Catalog has never been refreshed.")
		return nil
	}
	fmt.Printf("last refreshed %s\n", at.Format(time.RFC3339))
	return nil
}
