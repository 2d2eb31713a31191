package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer leases a row to one dispatch run before the side effect. A lease
// that is never released expires after its TTL and the row becomes claimable
// again.
type Claimer interface {
	Claim(ctx context.Context, rowID int64) (bool, error)
	Release(ctx context.Context, rowID int64) error
}

// NoopClaimer grants every claim. Runs are then only as exclusive as the
// scheduler makes them.
type NoopClaimer struct{}

func (NoopClaimer) Claim(context.Context, int64) (bool, error) { return true, nil }
func (NoopClaimer) Release(context.Context, int64) error        { return nil }

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	ClaimKey(rowID int64) string
}

// RedisClaimer stores leases as SET NX PX keys whose value is the owner id.
type RedisClaimer struct {
	store leaseStore
	ttl   time.Duration
	owner string
}

// NewRedisClaimer returns a claimer owning leases under a fresh owner id.
func NewRedisClaimer(store leaseStore, ttl time.Duration) (*RedisClaimer, error) {
	if store == nil {
		return nil, errors.New("redis client required for claims")
	}
	if ttl <= 0 {
		return nil, errors.New("claim ttl must be positive")
	}
	return &RedisClaimer{store: store, ttl: ttl, owner: uuid.NewString()}, nil
}

// Owner identifies this claimer's leases.
func (c *RedisClaimer) Owner() string {
	return c.owner
}

func (c *RedisClaimer) Claim(ctx context.Context, rowID int64) (bool, error) {
	ok, err := c.store.SetNX(ctx, c.store.ClaimKey(rowID), c.owner, c.ttl)
	if err != nil {
		return false, fmt.Errorf("claim row %d: %w", rowID, err)
	}
	return ok, nil
}

// Release deletes the lease only while this claimer still owns it.
func (c *RedisClaimer) Release(ctx context.Context, rowID int64) error {
	key := c.store.ClaimKey(rowID)
	value, err := c.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read claim owner: %w", err)
	}
	if value != c.owner {
		return nil
	}
	if err := c.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
