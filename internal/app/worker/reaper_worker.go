package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"import_tables/internal/common"
)

// Reaper is the sweep the worker runs on every tick.
type Reaper interface {
	ReapStaleProcessingJobs(ctx context.Context, olderThan time.Time) (int, error)
}

type ReaperConfig struct {
	Interval   time.Duration // time between sweeps
	StaleAfter time.Duration // how long a processing import may go without an update
	LockKey    string
	LockTTL    time.Duration
}

// releaseLockScript deletes the lock only while it still holds our value.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// ReaperWorker periodically marks abandoned imports as stuck. Replicas share
// a Redis lock so only one of them sweeps per tick.
type ReaperWorker struct {
	rdb    redis.UniversalClient
	reaper Reaper
	cfg    ReaperConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewReaperWorker(rdb redis.UniversalClient, reaper Reaper, cfg ReaperConfig, logger *slog.Logger) *ReaperWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "import_reaper_lock"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReaperWorker{rdb: rdb, reaper: reaper, cfg: cfg, logger: logger, now: time.Now}
}

// Start sweeps once immediately and then on every interval until ctx is done.
func (w *ReaperWorker) Start(ctx context.Context) {
	w.logger.InfoContext(ctx, "reaper worker started",
		"interval", w.cfg.Interval, "stale_after", w.cfg.StaleAfter, "lock_key", w.cfg.LockKey)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		_, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil && !errors.Is(err, common.ErrLockNotAcquired) {
			w.logger.ErrorContext(ctx, "stale import sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("reaper worker stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep under the lock. It returns
// common.ErrLockNotAcquired when another replica holds the lock.
func (w *ReaperWorker) RunOnce(ctx context.Context) (int, error) {
	lockValue := uuid.NewString()
	ok, err := w.rdb.SetNX(ctx, w.cfg.LockKey, lockValue, w.cfg.LockTTL).Result()
	if err != nil {
		return 0, common.StoreError("acquire reaper lock", err)
	}
	if !ok {
		w.logger.DebugContext(ctx, "reaper lock held elsewhere, skipping sweep", "lock_key", w.cfg.LockKey)
		return 0, fmt.Errorf("%s: %w", w.cfg.LockKey, common.ErrLockNotAcquired)
	}
	defer w.release(lockValue)

	n, err := w.reaper.ReapStaleProcessingJobs(ctx, w.now().Add(-w.cfg.StaleAfter))
	if n > 0 {
		w.logger.InfoContext(ctx, "stale imports marked stuck", "count", n)
	}
	return n, err
}

// release runs on a fresh context so a cancelled sweep still frees the lock.
func (w *ReaperWorker) release(lockValue string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deleted, err := releaseLockScript.Run(ctx, w.rdb, []string{w.cfg.LockKey}, lockValue).Int64()
	switch {
	case err != nil:
		w.logger.Error("release reaper lock", "lock_key", w.cfg.LockKey, "error", err)
	case deleted == 0:
		w.logger.Warn("reaper lock expired before release", "lock_key", w.cfg.LockKey)
	}
}
