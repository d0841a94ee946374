package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
	"import_tables/internal/domain/repository"
	"import_tables/internal/platform/events"
	"import_tables/internal/platform/telemetry"
)

// ImportService serves durable-side queries and the stale-import sweep.
type ImportService struct {
	imports      repository.ImportRepository
	publisher    events.Publisher
	metrics      *telemetry.ImportMetrics
	logger       *slog.Logger
	defaultLimit int
	now          func() time.Time
}

func NewImportService(imports repository.ImportRepository, publisher events.Publisher,
	metrics *telemetry.ImportMetrics, logger *slog.Logger, defaultLimit int) *ImportService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = model.DefaultListLimit
	}
	return &ImportService{
		imports:      imports,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

func (s *ImportService) List(ctx context.Context, filter model.ListFilter) ([]model.ImportJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.defaultLimit
	}
	jobs, err := s.imports.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	if jobs == nil {
		jobs = []model.ImportJob{}
	}
	return jobs, nil
}

func (s *ImportService) Get(ctx context.Context, id int64) (*model.ImportJob, error) {
	return s.imports.FindByID(ctx, id)
}

// ReapStaleProcessingJobs marks every processing import not updated since
// olderThan as stuck and records the diagnostic message on it. Records that
// are no longer processing when rebound, or that finish before the write
// lands, are left alone, so overlapping sweeps never stack messages. It keeps going past per-record failures and returns
// how many records it moved together with the joined errors.
func (s *ImportService) ReapStaleProcessingJobs(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ImportService.ReapStaleProcessingJobs")
	defer span.End()

	stale, err := s.imports.ListStaleProcessing(ctx, olderThan)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("list stale imports: %w", err)
	}

	var (
		reaped int
		errs   []error
	)
	for _, candidate := range stale {
		state := NewImportJobState(s.imports)
		if err := state.BindByID(ctx, candidate.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		if res := state.Transition(model.ImportStatusStuck); !res.Applied {
			continue
		}
		state.MarkFail(model.StaleImportMessage)
		if err := state.Save(ctx); err != nil {
			if errors.Is(err, common.ErrConflict) {
				s.logger.DebugContext(ctx, "import moved on before it could be marked stuck",
					"import_id", candidate.ID, "error", err)
				continue
			}
			errs = append(errs, err)
			continue
		}

		reaped++
		job := state.Job()
		s.metrics.Transition(ctx, string(model.ImportStatusStuck))
		s.logger.WarnContext(ctx, "import marked stuck", "import_id", job.ID, "key", job.Key,
			"module", job.Module, "last_update", candidate.UpdatedAt)
		publishTerminal(ctx, s.publisher, s.logger, job, s.now())
	}

	s.metrics.Reaped(ctx, reaped)
	span.SetAttributes(attribute.Int("imports.stale", len(stale)), attribute.Int("imports.reaped", reaped))
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return reaped, err
}
