package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lectern/internal/config"
	"lectern/internal/home"
	"lectern/internal/reconcile"
	"lectern/internal/store"
)

var checkStuckThreshold int

var checkStuckCmd = &cobra.Command{
	Use:   "check-stuck",
	Short: "Fail items stuck in processing past the threshold",
	Long: `Scan the database for items stuck in processing and transition them to
error. This is the same sweep the server runs periodically, exposed for
operators who want to run it against a stopped server's database.

Examples:
  lectern check-stuck                     # Use the configured threshold
  lectern check-stuck --threshold 90      # Custom threshold in minutes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		dbPath := cfg.Database.Path
		if dbPath == "" || dbPath == "lectern.db" {
			dbPath = h.DatabasePath()
		}

		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		threshold := cfg.Reconcile.SweepThreshold()
		if checkStuckThreshold > 0 {
			threshold = time.Duration(checkStuckThreshold) * time.Minute
		}

		reconciler, err := reconcile.New(reconcile.Config{
			Store:          db,
			SweepThreshold: threshold,
			Logger:         logger,
		})
		if err != nil {
			return err
		}

		count, err := reconciler.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("failed %d stuck item(s)\n", count)
		return nil
	},
}

func init() {
	checkStuckCmd.Flags().IntVar(
		&checkStuckThreshold, "threshold", 0, "Stuck threshold in minutes (overrides config)",
	)

	rootCmd.AddCommand(checkStuckCmd)
}
