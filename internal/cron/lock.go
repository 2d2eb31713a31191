package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultLockTTL outlives a dispatch cycle of DefaultMaxPerRun sends; a crashed
// worker frees the lock when it expires.
const defaultLockTTL = 15 * time.Minute

// Lock keeps two dispatch workers from running a cycle at the same time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// holderReporter is implemented by locks that can name the current holder.
type holderReporter interface {
	Holder(ctx context.Context) (string, error)
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(job string) string
}

// RedisLock is a SET NX PX lock whose value names the holding worker as
// host/pid/token. The token changes on every Acquire, so a worker whose lock
// expired and was taken over never deletes the new holder's key.
type RedisLock struct {
	client lockStore
	key    string
	ttl    time.Duration
	worker string
	held   string
}

// NewRedisLock locks the named job under the client's lock namespace.
func NewRedisLock(client lockStore, job string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	job = strings.TrimSpace(job)
	if job == "" {
		return nil, errors.New("lock job name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return &RedisLock{
		client: client,
		key:    client.LockKey(job),
		ttl:    ttl,
		worker: fmt.Sprintf("%s/%d", host, os.Getpid()),
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	value := l.worker + "/" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, value, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.held = value
	}
	return ok, nil
}

// Release deletes the key only while it still carries this worker's value.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.held == "" {
		return nil
	}
	current, err := l.Holder(ctx)
	if err != nil {
		return err
	}
	if current != l.held {
		l.held = ""
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.held = ""
	return nil
}

// Holder returns the value of the current holder, or "" when the lock is free.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key)
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read holder of %s: %w", l.key, err)
	}
	return value, nil
}
