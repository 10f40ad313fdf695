package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lectern/internal/audiobook"
	"lectern/internal/config"
	"lectern/internal/dispatch"
	"lectern/internal/events"
	"lectern/internal/home"
	"lectern/internal/pipeline"
	"lectern/internal/reconcile"
	"lectern/internal/server"
	"lectern/internal/services"
	"lectern/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Lectern server",
	Long: `Start the Lectern HTTP server.

This starts the HTTP API, the job dispatcher workers, and the background
stuck-item reconciler. Queued jobs left over from a previous run are
resumed on startup.

Examples:
  lectern serve                  # Start on default address :8080
  lectern serve --addr :3000     # Start on a custom port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		dbPath := cfg.Database.Path
		if dbPath == "" || dbPath == "lectern.db" {
			dbPath = h.DatabasePath()
		}
		uploadsDir := cfg.Uploads.Dir
		if uploadsDir == "" {
			uploadsDir = h.UploadsPath()
		}

		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		var publisher events.Publisher
		if cfg.Events.Enabled {
			producer := events.NewProducer(cfg.Events.Brokers, cfg.Events.Topic, logger)
			defer producer.Close()
			publisher = producer
		}

		dispatcher, err := dispatch.New(dispatch.Config{
			Persistence:         db,
			Logger:              logger,
			Workers:             cfg.Queue.Workers,
			DispatchesPerWindow: cfg.Queue.DispatchesPerMinute,
			MaxAttempts:         cfg.Queue.MaxAttempts,
			RetryBaseDelay:      cfg.Queue.RetryBaseDelay(),
			CompletedRetention:  cfg.Queue.CompletedRetention(),
			FailedRetention:     cfg.Queue.FailedRetention(),
		})
		if err != nil {
			return err
		}

		apiKey := config.ResolveEnvVars(cfg.OpenAI.APIKey)

		processor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
			Store: db,
			Transcriber: services.NewOpenAITranscriber(services.OpenAITranscriberConfig{
				APIKey: apiKey,
				Model:  cfg.OpenAI.TranscribeModel,
			}),
			Summarizer: services.NewOpenAISummarizer(services.OpenAISummarizerConfig{
				APIKey: apiKey,
				Model:  cfg.OpenAI.SummaryModel,
			}),
			Publisher: publisher,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		dispatcher.RegisterProcessor(pipeline.JobKindMedia, processor.MediaProcessor())

		assembler, err := audiobook.New(audiobook.Config{
			Store: db,
			Synthesizer: services.NewOpenAISpeechClient(services.OpenAISpeechConfig{
				APIKey: apiKey,
				Model:  cfg.OpenAI.SpeechModel,
				Voice:  cfg.OpenAI.Voice,
			}),
			BlobStore: services.NewSupabaseStorage(services.SupabaseStorageConfig{
				URL:    config.ResolveEnvVars(cfg.Storage.SupabaseURL),
				APIKey: config.ResolveEnvVars(cfg.Storage.SupabaseKey),
				Bucket: cfg.Storage.Bucket,
			}),
			Logger: logger,
		})
		if err != nil {
			return err
		}
		dispatcher.RegisterProcessor(audiobook.JobKind, assembler.Processor())

		if err := dispatcher.Start(ctx); err != nil {
			return err
		}

		reconciler, err := reconcile.New(reconcile.Config{
			Store:          db,
			Publisher:      publisher,
			ItemThreshold:  cfg.Reconcile.ItemThreshold(),
			SweepThreshold: cfg.Reconcile.SweepThreshold(),
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		go reconciler.Run(ctx, cfg.Reconcile.SweepInterval())

		service, err := pipeline.NewService(pipeline.ServiceConfig{
			Store:      db,
			Dispatcher: dispatcher,
			Processor:  processor,
			Checker:    reconciler,
			UploadsDir: uploadsDir,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Addr:       cfg.Server.Addr,
			Service:    service,
			Assembler:  assembler,
			Dispatcher: dispatcher,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}

		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to bind to (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
