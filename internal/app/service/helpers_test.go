package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"import_tables/internal/domain/model"
	"import_tables/internal/domain/repository"
	"import_tables/internal/platform/database"
	"import_tables/internal/platform/events"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ImportEvent
}

func (p *recordingPublisher) PublishImportEvent(_ context.Context, evt events.ImportEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Events() []events.ImportEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ImportEvent(nil), p.events...)
}

// countingRepo counts writes reaching the store.
type countingRepo struct {
	repository.ImportRepository
	inserts, updates int
}

func (r *countingRepo) Insert(ctx context.Context, job *model.ImportJob) (int64, error) {
	r.inserts++
	return r.ImportRepository.Insert(ctx, job)
}

func (r *countingRepo) Update(ctx context.Context, job *model.ImportJob, from model.ImportStatus) (bool, error) {
	r.updates++
	return r.ImportRepository.Update(ctx, job, from)
}

type fixture struct {
	clock     *testClock
	imports   *countingRepo
	counters  repository.CounterRepository
	redis     *miniredis.Miniredis
	publisher *recordingPublisher
	logs      *bytes.Buffer
	logger    *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(ctx, db, database.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	logs := &bytes.Buffer{}
	return &fixture{
		clock:     clock,
		imports:   &countingRepo{ImportRepository: repository.NewSQLiteImportRepository(db, repository.WithClock(clock.Now))},
		counters:  repository.NewRedisCounterRepository(rdb, "import", 0),
		redis:     mr,
		publisher: &recordingPublisher{},
		logs:      logs,
		logger:    slog.New(slog.NewTextHandler(logs, nil)),
	}
}

func (f *fixture) progressService(keepLast int) *ProgressService {
	svc := NewProgressService(f.imports, f.counters, f.publisher, nil, f.logger, keepLast)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) importService() *ImportService {
	svc := NewImportService(f.imports, f.publisher, nil, f.logger, 0)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) insert(t *testing.T, job model.ImportJob) *model.ImportJob {
	t.Helper()
	if _, err := f.imports.ImportRepository.Insert(context.Background(), &job); err != nil {
		t.Fatalf("insert %s: %v", job.Key, err)
	}
	return &job
}
