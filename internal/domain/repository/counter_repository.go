package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"import_tables/internal/common"
	"import_tables/internal/domain/model"
)

// CounterRepository is the volatile per-job progress store. Every method is
// safe for concurrent callers working on the same id.
type CounterRepository interface {
	IncrementTotal(ctx context.Context, id string, n int64) error
	IncrementOk(ctx context.Context, id string, n int64) error
	IncrementFail(ctx context.Context, id string, n int64) error
	// PushOkMessage appends msg and trims the list to its last keepLast entries.
	PushOkMessage(ctx context.Context, id, msg string, keepLast int) error
	PushFailMessage(ctx context.Context, id, msg string, keepLast int) error

	Total(ctx context.Context, id string) (int64, error)
	Ok(ctx context.Context, id string) (int64, error)
	Failed(ctx context.Context, id string) (int64, error)
	// OkMessages returns the newest limit entries, oldest first.
	OkMessages(ctx context.Context, id string, limit int) ([]string, error)
	FailMessages(ctx context.Context, id string, limit int) ([]string, error)

	// Snapshot reads every counter and both lists in one transaction.
	Snapshot(ctx context.Context, id string, limit int) (model.Progress, error)
	// Clear removes all keys of id in a single command.
	Clear(ctx context.Context, id string) error
}

const DefaultCounterPrefix = "import"

type redisCounterRepository struct {
	rdb      redis.UniversalClient
	prefix   string
	keepLast int
}

// NewRedisCounterRepository builds the Redis counter store. keepLast is the
// list cap used when callers pass a non-positive value.
func NewRedisCounterRepository(rdb redis.UniversalClient, prefix string, keepLast int) CounterRepository {
	if prefix == "" {
		prefix = DefaultCounterPrefix
	}
	if keepLast <= 0 {
		keepLast = model.DefaultKeepLast
	}
	return &redisCounterRepository{rdb: rdb, prefix: prefix, keepLast: keepLast}
}

type counterKeys struct {
	total, ok, fail, msgOk, msgFail string
}

func (r *redisCounterRepository) keys(id string) counterKeys {
	base := r.prefix + ":" + id
	return counterKeys{
		total:   base + ":total",
		ok:      base + ":ok",
		fail:    base + ":fail",
		msgOk:   base + ":msg:ok",
		msgFail: base + ":msg:fail",
	}
}

func (r *redisCounterRepository) IncrementTotal(ctx context.Context, id string, n int64) error {
	return r.incr(ctx, "IncrementTotal", r.keys(id).total, n)
}

func (r *redisCounterRepository) IncrementOk(ctx context.Context, id string, n int64) error {
	return r.incr(ctx, "IncrementOk", r.keys(id).ok, n)
}

func (r *redisCounterRepository) IncrementFail(ctx context.Context, id string, n int64) error {
	return r.incr(ctx, "IncrementFail", r.keys(id).fail, n)
}

func (r *redisCounterRepository) incr(ctx context.Context, op, key string, n int64) error {
	if n <= 0 {
		n = 1
	}
	if err := r.rdb.IncrBy(ctx, key, n).Err(); err != nil {
		return common.StoreError("redisCounterRepository."+op, err)
	}
	return nil
}

func (r *redisCounterRepository) PushOkMessage(ctx context.Context, id, msg string, keepLast int) error {
	return r.push(ctx, "PushOkMessage", r.keys(id).msgOk, msg, keepLast)
}

func (r *redisCounterRepository) PushFailMessage(ctx context.Context, id, msg string, keepLast int) error {
	return r.push(ctx, "PushFailMessage", r.keys(id).msgFail, msg, keepLast)
}

// push runs RPUSH and LTRIM in one MULTI/EXEC so concurrent pushers can never
// observe or leave a list longer than keepLast.
func (r *redisCounterRepository) push(ctx context.Context, op, key, msg string, keepLast int) error {
	if keepLast <= 0 {
		keepLast = r.keepLast
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, msg)
		pipe.LTrim(ctx, key, int64(-keepLast), -1)
		return nil
	})
	if err != nil {
		return common.StoreError("redisCounterRepository."+op, err)
	}
	return nil
}

func (r *redisCounterRepository) Total(ctx context.Context, id string) (int64, error) {
	return r.get(ctx, "Total", r.keys(id).total)
}

func (r *redisCounterRepository) Ok(ctx context.Context, id string) (int64, error) {
	return r.get(ctx, "Ok", r.keys(id).ok)
}

func (r *redisCounterRepository) Failed(ctx context.Context, id string) (int64, error) {
	return r.get(ctx, "Failed", r.keys(id).fail)
}

func (r *redisCounterRepository) get(ctx context.Context, op, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, common.StoreError("redisCounterRepository."+op, err)
	}
	return v, nil
}

func (r *redisCounterRepository) OkMessages(ctx context.Context, id string, limit int) ([]string, error) {
	return r.lrange(ctx, "OkMessages", r.keys(id).msgOk, limit)
}

func (r *redisCounterRepository) FailMessages(ctx context.Context, id string, limit int) ([]string, error) {
	return r.lrange(ctx, "FailMessages", r.keys(id).msgFail, limit)
}

func (r *redisCounterRepository) lrange(ctx context.Context, op, key string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = r.keepLast
	}
	msgs, err := r.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, common.StoreError("redisCounterRepository."+op, err)
	}
	return msgs, nil
}

func (r *redisCounterRepository) Snapshot(ctx context.Context, id string, limit int) (model.Progress, error) {
	if limit <= 0 {
		limit = r.keepLast
	}
	k := r.keys(id)
	var (
		total, ok, fail *redis.StringCmd
		msgOk, msgFail  *redis.StringSliceCmd
	)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		total = pipe.Get(ctx, k.total)
		ok = pipe.Get(ctx, k.ok)
		fail = pipe.Get(ctx, k.fail)
		msgOk = pipe.LRange(ctx, k.msgOk, int64(-limit), -1)
		msgFail = pipe.LRange(ctx, k.msgFail, int64(-limit), -1)
		return nil
	})
	// A missing counter surfaces as redis.Nil from Exec; the per-command
	// results are checked below.
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.Progress{}, common.StoreError("redisCounterRepository.Snapshot", err)
	}

	var p model.Progress
	for _, c := range []struct {
		cmd *redis.StringCmd
		dst *int64
	}{{total, &p.Total}, {ok, &p.Ok}, {fail, &p.Fail}} {
		v, err := c.cmd.Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return model.Progress{}, common.StoreError("redisCounterRepository.Snapshot", err)
		}
		*c.dst = v
	}
	for _, cmd := range []*redis.StringSliceCmd{msgOk, msgFail} {
		if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return model.Progress{}, common.StoreError("redisCounterRepository.Snapshot", err)
		}
	}
	p.OkMessages = msgOk.Val()
	p.FailMessages = msgFail.Val()
	return p, nil
}

func (r *redisCounterRepository) Clear(ctx context.Context, id string) error {
	k := r.keys(id)
	if err := r.rdb.Del(ctx, k.total, k.ok, k.fail, k.msgOk, k.msgFail).Err(); err != nil {
		return common.StoreError("redisCounterRepository.Clear", err)
	}
	return nil
}
