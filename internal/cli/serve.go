package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorgan/histalog/internal/config"
	"github.com/jmorgan/histalog/internal/server"
	hsync "github.com/jmorgan/histalog/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Background reconciliation only runs when a remote store is
	// configured; everything else works fully offline.
	var rec *hsync.Reconciler
	if cfg.Remote.BaseURL != "" {
		client := hsync.NewClient(cfg.Remote.BaseURL, cfg.Remote.Token)
		rec = hsync.New(db, client, log, hsync.Options{
			Interval:    cfg.Sync.Interval,
			MaxAttempts: cfg.Sync.MaxAttempts,
		})
		rec.Start(context.Background())
		defer rec.Stop()
		log.WithField("remote", cfg.Remote.BaseURL).Info("background sync enabled")
	} else {
		log.Info("no remote configured, running offline")
	}

	srv := server.New(db, rec, log, cfg.Tolerance.DefaultHU, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.WithFields(map[string]any{"addr": addr, "db": db.Path}).Info("histalog serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
