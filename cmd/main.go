package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"garminsync/internal/app"
	"garminsync/internal/config"
	"garminsync/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "garminsync",
	Short: "Sync fitness activities between two platform accounts",
	Long:  `A resumable activity sync tool that lists recent activities on an origin account, downloads the raw files, and uploads them to a destination account. A durable ledger makes repeated runs idempotent.`,
	RunE:  runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Sync flags
	rootCmd.Flags().String("mode", "full", "Sync mode (full/download_only/upload_only)")
	rootCmd.Flags().Int("limit", 10, "Maximum number of activities to consider")
	rootCmd.Flags().Bool("dry-run", false, "List and dedup only, upload nothing")
	rootCmd.Flags().Bool("verbose", false, "Enable debug logging")
	rootCmd.Flags().Bool("ignore-state", false, "Re-upload even if the ledger already has the activity")
	rootCmd.Flags().String("state", "state/uploaded.json", "Ledger file (.json, or .db for SQLite)")
	rootCmd.Flags().String("download-dir", "", "Directory to keep downloaded activity files")
	rootCmd.Flags().String("upload-dir", "", "Directory of activity files for upload_only mode")
	rootCmd.Flags().String("upload-glob", "*.fit", "Filename pattern for upload_only mode")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus listen address (empty disables)")
}

func runSync(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Create application
	syncer, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	// Run sync
	summary, err := syncer.Run(ctx)

	// Print the summary even after an aborted run so partial progress is visible
	fmt.Print(summary.Format())

	if closeErr := syncer.Close(); closeErr != nil {
		log.Error("Error closing syncer", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
