package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jmorgan/histalog/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "histalog",
	Short: "Offline-first histamine exposure tracker",
	Long:  "Histalog scores meals in histamine units against an adaptive daily tolerance, queues every log locally and reconciles with the remote store when connectivity allows.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(catalogCmd)
}

// newLogger builds the logger shared by all commands. HISTALOG_DEBUG
// turns on debug output.
func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if os.Getenv("HISTALOG_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// openDB opens the local cache for CLI commands, honoring the configured
// database path.
func openDB(path string) (*store.DB, error) {
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(path)
}
