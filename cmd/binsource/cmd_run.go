package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SteelMorgan/binary-file-source/internal/clickhouse"
	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/observability"
	"github.com/SteelMorgan/binary-file-source/internal/service"
	"github.com/SteelMorgan/binary-file-source/internal/sink"
	"github.com/SteelMorgan/binary-file-source/internal/telemetry"
	"github.com/SteelMorgan/binary-file-source/internal/watcher"
	"github.com/SteelMorgan/binary-file-source/internal/writer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// getRunCmd returns the definition of the run command.
func getRunCmd(root *rootEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion loop until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	closeLog := observability.InitLogger(cfg.Log.Level, cfg.Log.File)
	defer closeLog()

	log.Info().
		Str("version", version).
		Msg("Starting binary file source")

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	taskID := uuid.NewString()
	shutdownTracer, err := observability.InitTracer(parent, observability.TracerConfig{
		ServiceName:    observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Protocol:       cfg.Tracing.Protocol,
		Enabled:        cfg.Tracing.Enabled,
		SampleRatio:    cfg.Tracing.SampleRatio,
		TaskID:         taskID,
		WatchMode:      settings.Mode.String(),
		WatchPath:      settings.Path,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	metrics := telemetry.NewMetrics()
	if cfg.Metrics.Port > 0 {
		metrics.Expose(ctx, cfg.Metrics.Port)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := sink.NewAdapter(cfg.Sink.Kind, sink.Options{
		Topic:      settings.Topic,
		SchemaName: settings.SchemaName,
		TaskID:     taskID,
		Kafka:      cfg.Sink.Kafka,
	})
	if err != nil {
		return err
	}

	var progress writer.ProgressWriter
	if cfg.ClickHouse.Enabled {
		client, err := clickhouse.NewClientWithRetry(cfg.ClickHouse, cfg.Retry.Backoff())
		if err != nil {
			_ = out.Close()
			return err
		}
		defer client.Close()

		if err := writer.EnsureSchema(ctx, client, client.Database()); err != nil {
			_ = out.Close()
			return err
		}
		progress = writer.NewClickHouseProgressWriter(client.Conn(), client.Database())
	}

	var wake <-chan struct{}
	if cfg.FSEvents {
		n, err := watcher.NewNotifier(settings.Mode, settings.Path)
		if err != nil {
			log.Warn().Err(err).Msg("Filesystem events unavailable, polling only")
		} else {
			defer n.Close()
			wake = n.C()
		}
	}

	svc, err := service.NewIngestService(service.Options{
		Settings: settings,
		TaskID:   taskID,
		Store:    store,
		Sink:     out,
		Progress: progress,
		Metrics:  metrics,
		Retry:    cfg.Retry.Backoff(),
		Wake:     wake,
	})
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to create ingest service: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Start(ctx)
	}()

	log.Info().Str("task_id", taskID).Msg("Ingest service started successfully")

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		if runErr != nil {
			log.Error().Err(runErr).Msg("Ingest service error")
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if err := svc.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Ingest service stopped")
	return runErr
}
