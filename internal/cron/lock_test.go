package cron

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryRedis struct {
	data map[string]string
}

func newMemoryRedis() *memoryRedis { return &memoryRedis{data: map[string]string{}} }

func (m *memoryRedis) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) LockKey(job string) string { return "invites:lock:" + job }

func TestRedisLockIsExclusiveAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRedis()
	first, err := NewRedisLock(store, "dispatch-worker", 0)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := NewRedisLock(store, "dispatch-worker", 0)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second worker must not acquire")
	}

	holder, err := second.Holder(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(holder, fmt.Sprintf("/%d/", os.Getpid())) {
		t.Fatalf("holder should name host and pid, got %q", holder)
	}

	if err := second.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, held := store.data["invites:lock:dispatch-worker"]; !held {
		t.Fatal("a worker that never acquired must not drop the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("lock should be free after the holder released it")
	}
}

func TestRedisLockDoesNotReleaseTakenOverLock(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRedis()
	stale, _ := NewRedisLock(store, "dispatch-worker", time.Minute)
	fresh, _ := NewRedisLock(store, "dispatch-worker", time.Minute)

	if ok, _ := stale.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	delete(store.data, "invites:lock:dispatch-worker")
	if ok, _ := fresh.Acquire(ctx); !ok {
		t.Fatal("expired lock should be acquirable")
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release after takeover: %v", err)
	}
	if holder, _ := fresh.Holder(ctx); holder == "" {
		t.Fatal("stale worker deleted the new holder's lock")
	}
}

func TestRedisLockHolderWhenFree(t *testing.T) {
	lock, _ := NewRedisLock(newMemoryRedis(), "dispatch-worker", 0)
	holder, err := lock.Holder(context.Background())
	if err != nil || holder != "" {
		t.Fatalf("expected free lock, got %q %v", holder, err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release without acquire: %v", err)
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "dispatch-worker", 0); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewRedisLock(newMemoryRedis(), " ", 0); err == nil {
		t.Fatal("expected error without job")
	}
	lock, err := NewRedisLock(newMemoryRedis(), "dispatch-worker", 0)
	if err != nil {
		t.Fatal(err)
	}
	if lock.ttl != defaultLockTTL || lock.key != "invites:lock:dispatch-worker" {
		t.Fatalf("unexpected lock %+v", lock)
	}
}
