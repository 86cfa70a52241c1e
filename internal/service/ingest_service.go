package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/SteelMorgan/binary-file-source/internal/config"
	"github.com/SteelMorgan/binary-file-source/internal/domain"
	"github.com/SteelMorgan/binary-file-source/internal/observability"
	"github.com/SteelMorgan/binary-file-source/internal/offset"
	"github.com/SteelMorgan/binary-file-source/internal/retry"
	"github.com/SteelMorgan/binary-file-source/internal/sink"
	"github.com/SteelMorgan/binary-file-source/internal/task"
	"github.com/SteelMorgan/binary-file-source/internal/telemetry"
	"github.com/SteelMorgan/binary-file-source/internal/writer"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// drainTimeout bounds the hand-off of the last batch after shutdown was requested
const drainTimeout = 10 * time.Second

// Options wires the service collaborators
type Options struct {
	Settings config.Settings
	TaskID   string // generated when empty
	Store    offset.Store
	Sink     sink.Adapter
	Progress writer.ProgressWriter // optional
	Metrics  *telemetry.Metrics    // optional
	Retry    retry.Config
	Wake     <-chan struct{} // optional early wake-ups between ticks
}

// IngestService drives the ingestion task: it polls on every tick, hands the
// batch to the sink and commits cursors only after the sink acknowledged it.
type IngestService struct {
	settings config.Settings
	taskID   string
	task     *task.Task
	store    offset.Store
	sink     sink.Adapter
	progress writer.ProgressWriter
	metrics  *telemetry.Metrics
	retryCfg retry.Config
	wake     <-chan struct{}

	// acknowledged cursors the store has not accepted yet
	pending map[string]commitState
}

type commitState struct {
	cursor  domain.Cursor
	path    string
	records uint64
}

// NewIngestService creates the service and its ingestion task
func NewIngestService(opts Options) (*IngestService, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("offset store is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	t, err := task.New(opts.Settings, opts.Store, opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion task: %w", err)
	}

	taskID := opts.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	return &IngestService{
		settings: opts.Settings,
		taskID:   taskID,
		task:     t,
		store:    opts.Store,
		sink:     opts.Sink,
		progress: opts.Progress,
		metrics:  opts.Metrics,
		retryCfg: opts.Retry,
		wake:     opts.Wake,
		pending:  make(map[string]commitState),
	}, nil
}

// TaskID identifies this service instance in logs, headers and progress rows
func (s *IngestService) TaskID() string {
	return s.taskID
}

// Start runs poll cycles until ctx is cancelled or the watched directory
// becomes unreadable. A full batch is followed by another cycle right away.
func (s *IngestService) Start(ctx context.Context) error {
	log.Info().
		Str("task_id", s.taskID).
		Str("mode", s.settings.Mode.String()).
		Str("path", s.settings.Path).
		Dur("interval", s.settings.PollInterval).
		Msg("Ingest service starting")

	ticker := time.NewTicker(s.settings.PollInterval)
	defer ticker.Stop()

	for {
		n, err := s.RunOnce(ctx)
		if errors.Is(err, domain.ErrDirectoryUnreadable) {
			return err
		}
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("task_id", s.taskID).Msg("Ingest cycle failed")
		}

		if ctx.Err() != nil {
			log.Info().Str("task_id", s.taskID).Msg("Ingest service context cancelled")
			return nil
		}
		if err == nil && n >= s.settings.MaxRecordsPerCycle {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info().Str("task_id", s.taskID).Msg("Ingest service context cancelled")
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// RunOnce runs one poll-publish-commit cycle and returns the number of
// records published
func (s *IngestService) RunOnce(ctx context.Context) (int, error) {
	ctx, span := observability.StartSpan(ctx, "ingest.cycle",
		attribute.String("task.id", s.taskID),
		attribute.String("watch.mode", s.settings.Mode.String()),
	)

	records, err := s.task.Poll(ctx)
	if err != nil {
		observability.EndSpan(span, err, "poll failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int("records", len(records)))

	// After cancellation the partial batch is still handed off
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
	}

	if len(records) > 0 {
		if err := s.publish(ctx, records); err != nil {
			observability.EndSpan(span, err, "publish failed")
			return 0, err
		}
		s.stage(records)
	}

	err = s.commit(ctx)
	observability.EndSpan(span, err, "cycle complete")
	return len(records), err
}

// Stop releases the sink and the progress writer. Call it after Start returned.
func (s *IngestService) Stop() error {
	log.Info().Str("task_id", s.taskID).Msg("Ingest service stopping")

	var result *multierror.Error
	if err := s.sink.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close sink: %w", err))
	}
	if s.progress != nil {
		if err := s.progress.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close progress writer: %w", err))
		}
	}
	if len(s.pending) > 0 {
		log.Warn().
			Int("resources", len(s.pending)).
			Msg("Stopping with uncommitted acknowledged cursors, their records will be re-sent")
	}
	return result.ErrorOrNil()
}

func (s *IngestService) publish(ctx context.Context, records []domain.Record) error {
	ctx, span := observability.StartSpan(ctx, "ingest.publish", attribute.Int("records", len(records)))

	err := retry.Do(ctx, s.retryCfg, func() error {
		return s.sink.Publish(ctx, records)
	})
	observability.EndSpan(span, err, "publish")
	if err == nil {
		return nil
	}

	s.metrics.IncPublishFailure()
	s.task.Rewind()
	log.Error().
		Err(err).
		Str("task_id", s.taskID).
		Int("records", len(records)).
		Msg("Sink did not acknowledge batch, rewinding to committed cursors")
	return fmt.Errorf("publish %d records: %w", len(records), err)
}

// stage keeps the furthest acknowledged cursor per resource
func (s *IngestService) stage(records []domain.Record) {
	for _, r := range records {
		next := r.Cursor()
		st, ok := s.pending[r.Resource]
		switch {
		case !ok, next.Generation > st.cursor.Generation:
			st = commitState{cursor: next, path: r.Path}
		case next.Generation == st.cursor.Generation && next.Offset > st.cursor.Offset:
			st.cursor = next
		}
		st.records++
		s.pending[r.Resource] = st
	}
}

// commit persists acknowledged cursors. Failed ones stay pending and are
// retried on the next cycle.
func (s *IngestService) commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	ctx, span := observability.StartSpan(ctx, "ingest.commit", attribute.Int("resources", len(s.pending)))

	now := time.Now()
	rows := make([]domain.IngestionProgress, 0, len(s.pending))
	var result *multierror.Error

	for id, st := range s.pending {
		if err := s.store.Commit(ctx, st.cursor); err != nil {
			result = multierror.Append(result, fmt.Errorf("commit %s: %w", id, err))
			continue
		}
		delete(s.pending, id)

		log.Debug().
			Str("resource", id).
			Uint64("generation", st.cursor.Generation).
			Int64("offset", st.cursor.Offset).
			Msg("Cursor committed")

		rows = append(rows, s.progressRow(now, st))
	}

	s.metrics.AddCommitted(len(rows))
	s.mirror(ctx, rows)

	err := result.ErrorOrNil()
	if err != nil {
		log.Error().Err(err).Int("pending", len(s.pending)).Msg("Failed to commit cursors, will retry")
	}
	observability.EndSpan(span, err, "commit")
	return err
}

func (s *IngestService) progressRow(now time.Time, st commitState) domain.IngestionProgress {
	var size int64
	if fi, err := os.Stat(st.path); err == nil {
		size = fi.Size()
	}
	return domain.IngestionProgress{
		Timestamp:     now,
		TaskID:        s.taskID,
		Mode:          s.settings.Mode.String(),
		Topic:         s.settings.Topic,
		ResourceID:    st.cursor.Resource,
		FileName:      filepath.Base(st.path),
		Generation:    st.cursor.Generation,
		FileSizeBytes: size,
		OffsetBytes:   st.cursor.Offset,
		RecordsSent:   st.records,
	}
}

// mirror writes progress rows; failures are logged and never block ingestion
func (s *IngestService) mirror(ctx context.Context, rows []domain.IngestionProgress) {
	if s.progress == nil || len(rows) == 0 {
		return
	}
	if err := s.progress.WriteProgress(ctx, rows); err != nil {
		log.Warn().Err(err).Int("rows", len(rows)).Msg("Failed to mirror ingestion progress")
	}
}
