package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis creates and validates a go-redis client connection.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)

	// Validate connectivity at startup
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// Lease is a best-effort cross-process lock held in a single Redis key.
// It only prevents redundant work; correctness never depends on it.
type Lease struct {
	rdb   *redis.Client
	key   string
	owner string
}

// NewLease binds a lease on key to owner (typically hostname:pid).
func NewLease(rdb *redis.Client, key, owner string) *Lease {
	return &Lease{rdb: rdb, key: key, owner: owner}
}

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Acquire tries SET NX with ttl and reports whether this process now holds it.
func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.owner, ttl).Result()
}

// Release drops the lease if it is still ours. An expired lease is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err()
}
