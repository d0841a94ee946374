package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"import_tables/internal/common"
)

type fakeReaper struct {
	mu     sync.Mutex
	calls  []time.Time
	result int
	err    error
}

func (r *fakeReaper) ReapStaleProcessingJobs(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, olderThan)
	return r.result, r.err
}

func (r *fakeReaper) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestWorker(t *testing.T, reaper Reaper, cfg ReaperConfig) (*ReaperWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewReaperWorker(rdb, reaper, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestRunOnceUsesStaleThreshold(t *testing.T) {
	reaper := &fakeReaper{result: 3}
	w, mr := newTestWorker(t, reaper, ReaperConfig{StaleAfter: 15 * time.Minute, LockKey: "reap"})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.RunOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if len(reaper.calls) != 1 || !reaper.calls[0].Equal(now.Add(-15*time.Minute)) {
		t.Fatalf("olderThan = %v", reaper.calls)
	}
	if mr.Exists("reap") {
		t.Fatal("lock not released after the sweep")
	}
}

func TestRunOnceSkipsWhenLocked(t *testing.T) {
	reaper := &fakeReaper{}
	w, mr := newTestWorker(t, reaper, ReaperConfig{LockKey: "reap"})
	if err := mr.Set("reap", "other-replica"); err != nil {
		t.Fatal(err)
	}

	_, err := w.RunOnce(context.Background())
	if !errors.Is(err, common.ErrLockNotAcquired) {
		t.Fatalf("err = %v, want ErrLockNotAcquired", err)
	}
	if reaper.Calls() != 0 {
		t.Fatal("sweep ran without the lock")
	}
	if v, _ := mr.Get("reap"); v != "other-replica" {
		t.Fatalf("foreign lock was touched: %q", v)
	}
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	w, mr := newTestWorker(t, &fakeReaper{}, ReaperConfig{LockKey: "reap"})
	if err := mr.Set("reap", "someone-else"); err != nil {
		t.Fatal(err)
	}
	w.release("our-token")
	if !mr.Exists("reap") {
		t.Fatal("release deleted a lock held by another value")
	}
}

func TestRunOncePropagatesSweepError(t *testing.T) {
	boom := errors.New("store down")
	w, mr := newTestWorker(t, &fakeReaper{result: 1, err: boom}, ReaperConfig{LockKey: "reap"})

	n, err := w.RunOnce(context.Background())
	if n != 1 || !errors.Is(err, boom) {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if mr.Exists("reap") {
		t.Fatal("lock must be released when the sweep fails")
	}
}

func TestStartSweepsUntilCancelled(t *testing.T) {
	reaper := &fakeReaper{}
	w, _ := newTestWorker(t, reaper, ReaperConfig{Interval: 10 * time.Millisecond, LockKey: "reap"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for reaper.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps ran", reaper.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
