package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
	"import_tables/internal/domain/repository"
	"import_tables/internal/platform/events"
	"import_tables/internal/platform/telemetry"
)

// ProgressService builds ImportProgress handles that share the stores,
// publisher and instruments.
type ProgressService struct {
	imports   repository.ImportRepository
	counters  repository.CounterRepository
	publisher events.Publisher
	metrics   *telemetry.ImportMetrics
	logger    *slog.Logger
	keepLast  int
	now       func() time.Time
}

func NewProgressService(imports repository.ImportRepository, counters repository.CounterRepository,
	publisher events.Publisher, metrics *telemetry.ImportMetrics, logger *slog.Logger, keepLast int) *ProgressService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if keepLast <= 0 {
		keepLast = model.DefaultKeepLast
	}
	return &ProgressService{
		imports:   imports,
		counters:  counters,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		keepLast:  keepLast,
		now:       time.Now,
	}
}

// Track returns the progress handle for the import identified by key.
//
// Row updates only touch the counter store and may be called from many
// goroutines. Pending, Processing, Done and Failed drive the durable record
// and must come from a single owner per key; callers running the same key in
// several processes have to coordinate that themselves.
func (s *ProgressService) Track(key string) *ImportProgress {
	return &ImportProgress{svc: s, key: key}
}

// ProgressView combines live counters with the active durable record, if any.
type ProgressView struct {
	Key    string           `json:"key"`
	Import *model.ImportJob `json:"import,omitempty"`
	model.Progress
}

// Progress reads the live counters for key together with its active record.
func (s *ProgressService) Progress(ctx context.Context, key string) (*ProgressView, error) {
	p, err := s.counters.Snapshot(ctx, key, s.keepLast)
	if err != nil {
		return nil, err
	}
	job, err := s.imports.FindActiveByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ProgressView{Key: key, Import: job, Progress: p}, nil
}

type ImportProgress struct {
	svc *ProgressService
	key string
}

func (p *ImportProgress) Key() string { return p.key }

func (p *ImportProgress) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, "ImportProgress."+op,
		trace.WithAttributes(attribute.String("import.key", p.key)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Pending clears the counters for the key and creates a pending record. An
// import that is still active for the key is reused instead.
func (p *ImportProgress) Pending(ctx context.Context, module, filename string) (job *model.ImportJob, err error) {
	ctx, span := p.startSpan(ctx, "Pending")
	defer func() { endSpan(span, err) }()

	if err = p.svc.counters.Clear(ctx, p.key); err != nil {
		return nil, err
	}

	state := NewImportJobState(p.svc.imports)
	if err = state.BindByKey(ctx, p.key); err != nil {
		return nil, err
	}
	if state.Bound() {
		p.svc.logger.WarnContext(ctx, "attaching to active import",
			"key", p.key, "import_id", state.ID(), "status", state.Status())
		return state.Job(), nil
	}

	state.SetModule(module).SetFilename(filename).SetStatusPending()
	if err = state.Save(ctx); err != nil {
		return nil, err
	}
	p.svc.metrics.Transition(ctx, string(model.ImportStatusPending))
	p.svc.logger.InfoContext(ctx, "import pending", "key", p.key, "import_id", state.ID(), "module", state.Job().Module)
	return state.Job(), nil
}

func (p *ImportProgress) bindActive(ctx context.Context) (*ImportJobState, error) {
	state := NewImportJobState(p.svc.imports)
	if err := state.BindByKey(ctx, p.key); err != nil {
		return nil, err
	}
	if !state.Bound() {
		return nil, fmt.Errorf("no active import for key %q: %w", p.key, common.ErrNotFound)
	}
	return state, nil
}

// Processing moves the active record from pending to processing. A record
// that is already processing is returned unchanged.
func (p *ImportProgress) Processing(ctx context.Context) (job *model.ImportJob, err error) {
	ctx, span := p.startSpan(ctx, "Processing")
	defer func() { endSpan(span, err) }()

	state, err := p.bindActive(ctx)
	if err != nil {
		return nil, err
	}
	res := state.Transition(model.ImportStatusProcessing)
	if err = state.Save(ctx); err != nil {
		return nil, err
	}
	if res.Applied {
		p.svc.metrics.Transition(ctx, string(res.To))
		p.svc.logger.InfoContext(ctx, "import processing", "key", p.key, "import_id", state.ID())
	}
	return state.Job(), nil
}

func (p *ImportProgress) IncrementTotalRow(ctx context.Context) error {
	return p.svc.counters.IncrementTotal(ctx, p.key, 1)
}

func (p *ImportProgress) IncrementOk(ctx context.Context) error {
	return p.svc.counters.IncrementOk(ctx, p.key, 1)
}

func (p *ImportProgress) IncrementFail(ctx context.Context) error {
	return p.svc.counters.IncrementFail(ctx, p.key, 1)
}

func (p *ImportProgress) PushOkMessage(ctx context.Context, msg string) error {
	return p.svc.counters.PushOkMessage(ctx, p.key, msg, p.svc.keepLast)
}

func (p *ImportProgress) PushFailMessage(ctx context.Context, msg string) error {
	return p.svc.counters.PushFailMessage(ctx, p.key, msg, p.svc.keepLast)
}

func (p *ImportProgress) TotalRow(ctx context.Context) (int64, error) {
	return p.svc.counters.Total(ctx, p.key)
}

func (p *ImportProgress) TotalOk(ctx context.Context) (int64, error) {
	return p.svc.counters.Ok(ctx, p.key)
}

func (p *ImportProgress) TotalFailed(ctx context.Context) (int64, error) {
	return p.svc.counters.Failed(ctx, p.key)
}

func (p *ImportProgress) OkMessages(ctx context.Context, limit int) ([]string, error) {
	return p.svc.counters.OkMessages(ctx, p.key, limit)
}

func (p *ImportProgress) FailMessages(ctx context.Context, limit int) ([]string, error) {
	return p.svc.counters.FailMessages(ctx, p.key, limit)
}

func (p *ImportProgress) Clear(ctx context.Context) error {
	return p.svc.counters.Clear(ctx, p.key)
}

// Done drains the counters into the active record and marks it done.
func (p *ImportProgress) Done(ctx context.Context) (*model.ImportJob, error) {
	return p.finish(ctx, model.ImportStatusDone)
}

// Failed drains the counters into the active record and marks it failed.
func (p *ImportProgress) Failed(ctx context.Context) (*model.ImportJob, error) {
	return p.finish(ctx, model.ImportStatusFailed)
}

// finish is the only place counter values reach the durable record:
// total_rows grows by ok+fail, success/failed rows and samples are replaced by
// the counter store's values. A record that cannot move to status is returned
// untouched so repeated calls never double count.
func (p *ImportProgress) finish(ctx context.Context, status model.ImportStatus) (job *model.ImportJob, err error) {
	ctx, span := p.startSpan(ctx, "finish")
	span.SetAttributes(attribute.String("import.status", string(status)))
	defer func() { endSpan(span, err) }()

	state, err := p.bindActive(ctx)
	if err != nil {
		return nil, err
	}
	if res := model.Transition(state.Status(), status); !res.Applied {
		p.svc.logger.WarnContext(ctx, "import not finished, status does not allow it",
			"key", p.key, "import_id", state.ID(), "status", res.From, "target", res.To)
		return state.Job(), nil
	}

	progress, err := p.svc.counters.Snapshot(ctx, p.key, p.svc.keepLast)
	if err != nil {
		return nil, err
	}
	state.SetTotalRows(state.TotalRows() + progress.Ok + progress.Fail).
		SetSuccessRows(progress.Ok).
		SetFailedRows(progress.Fail).
		SetOkMessages(progress.OkMessages).
		SetFailMessages(progress.FailMessages).
		Transition(status)
	if err = state.Save(ctx); err != nil {
		return nil, err
	}

	job = state.Job()
	p.svc.metrics.Transition(ctx, string(status))
	p.svc.metrics.ReconciledRows(ctx, progress.Ok+progress.Fail)
	p.svc.logger.InfoContext(ctx, "import finished", "key", p.key, "import_id", job.ID, "status", job.Status,
		"total_rows", job.TotalRows, "success_rows", job.SuccessRows, "failed_rows", job.FailedRows)
	publishTerminal(ctx, p.svc.publisher, p.svc.logger, job, p.svc.now())
	return job, nil
}

// IsProcessing reports whether the key's active record is processing.
func (p *ImportProgress) IsProcessing(ctx context.Context) (bool, error) {
	job, err := p.svc.imports.FindActiveByKey(ctx, p.key)
	if err != nil {
		return false, err
	}
	return job != nil && job.Status == model.ImportStatusProcessing, nil
}

// publishTerminal logs publish failures; the durable record is already written.
func publishTerminal(ctx context.Context, pub events.Publisher, logger *slog.Logger, job *model.ImportJob, at time.Time) {
	if err := pub.PublishImportEvent(ctx, events.NewImportEvent(job, at)); err != nil {
		logger.ErrorContext(ctx, "publish import event", "import_id", job.ID, "status", job.Status, "error", err)
	}
}
