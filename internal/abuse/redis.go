// Redis-backed tracker for multi-instance deployments. Keys:
//
//	abuse:events:<ip>  sorted set of submission timestamps (unix nanos)
//	abuse:vfail:<ip>   sorted set of verification failures, TTL-bounded
//	abuse:flagged      set of flagged IPs
//	abuse:blocked      set of blocked IPs (no TTL: blocks are permanent)
//
// Stale history is trimmed by score on every write instead of a sweep
// goroutine, so all instances converge without coordination.
package abuse

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyEventsPrefix = "abuse:events:"
	keyVFailPrefix  = "abuse:vfail:"
	keyFlagged      = "abuse:flagged"
	keyBlocked      = "abuse:blocked"
)

// RedisTracker implements Tracker on a shared Redis instance.
type RedisTracker struct {
	client *redis.Client
	opts   Options
	now    func() time.Time
}

// NewRedisTracker constructs a RedisTracker around an existing client.
func NewRedisTracker(client *redis.Client, opts Options) *RedisTracker {
	return &RedisTracker{client: client, opts: opts.withDefaults(), now: time.Now}
}

func nanoScore(t time.Time) float64 { return float64(t.UnixNano()) }

// RecordEvent appends a timestamp to the IP's history and trims entries that
// fell out of the rolling window.
func (t *RedisTracker) RecordEvent(ctx context.Context, ip string) error {
	now := t.now()
	key := keyEventsPrefix + ip
	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: nanoScore(now), Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-t.opts.HistoryWindow).UnixNano(), 10))
	pipe.Expire(ctx, key, t.opts.HistoryWindow)
	_, err := pipe.Exec(ctx)
	return err
}

// Flag adds the IP to the flagged set.
func (t *RedisTracker) Flag(ctx context.Context, ip string) error {
	return t.client.SAdd(ctx, keyFlagged, ip).Err()
}

// IsBlocked reports membership in the block set.
func (t *RedisTracker) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return t.client.SIsMember(ctx, keyBlocked, ip).Result()
}

// Block adds the IP to the block set. No TTL: entries are permanent.
func (t *RedisTracker) Block(ctx context.Context, ip string) error {
	return t.client.SAdd(ctx, keyBlocked, ip).Err()
}

// RecordVerificationFailure appends a failure, trims the failure window, and
// blocks the IP once the rolling count reaches the limit. The pipeline makes
// the append-and-count atomic on the server side.
func (t *RedisTracker) RecordVerificationFailure(ctx context.Context, ip string) (int, error) {
	now := t.now()
	key := keyVFailPrefix + ip
	cutoff := strconv.FormatInt(now.Add(-t.opts.VerifyFailWindow).UnixNano(), 10)

	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: nanoScore(now), Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, t.opts.VerifyFailWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	count := int(countCmd.Val())
	if count >= t.opts.VerifyFailLimit {
		if err := t.Block(ctx, ip); err != nil {
			return count, err
		}
	}
	return count, nil
}
