package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	promoteBatch = 100

	defaultVisibilityTimeout = time.Hour
	defaultClaimPoll         = 100 * time.Millisecond
)

// promoteScript moves due members of the delayed set (KEYS[1]) onto the ready
// list (KEYS[2]). ARGV[1] is now in unix millis, ARGV[2] the batch size.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, m in ipairs(due) do
	redis.call("ZREM", KEYS[1], m)
	redis.call("LPUSH", KEYS[2], m)
end
return #due
`)

// claimScript pops the oldest ready message (KEYS[1]) and records it under
// receipt ARGV[1] in the claims hash (KEYS[2]) with a lease ending at
// ARGV[2] unix millis in the visibility set (KEYS[3]).
var claimScript = redis.NewScript(`
local raw = redis.call("RPOP", KEYS[1])
if not raw then
	return false
end
redis.call("HSET", KEYS[2], ARGV[1], raw)
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
return raw
`)

// requeueExpiredScript returns claims whose lease ended before ARGV[1] to the
// ready list. KEYS: visibility set, claims hash, ready list.
var requeueExpiredScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, receipt in ipairs(expired) do
	local raw = redis.call("HGET", KEYS[2], receipt)
	if raw then
		redis.call("LPUSH", KEYS[3], raw)
	end
	redis.call("HDEL", KEYS[2], receipt)
	redis.call("ZREM", KEYS[1], receipt)
end
return #expired
`)

// retryScript settles claim ARGV[1] and schedules ARGV[3] at ARGV[2] unix
// millis, but only while the claim is still held. A claim whose lease already
// expired has been handed to another consumer and must not fork a second copy.
// KEYS: claims hash, visibility set, delayed set.
var retryScript = redis.NewScript(`
if redis.call("HDEL", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[2], ARGV[3])
return 1
`)

// RedisQueue is a reliable queue with leased claims. Ready messages live in a
// list. A dequeue moves one into a claims hash and gives it a lease in a
// visibility set; only claims whose lease has run out are handed to another
// consumer. Retries wait in a sorted set scored by their due time.
type RedisQueue struct {
	client     *redis.Client
	key        string
	visibility time.Duration
	poll       time.Duration
}

type RedisOption func(*RedisQueue)

// WithVisibilityTimeout sets how long a claim stays invisible to other
// consumers. It must outlast the longest execution of one delivery.
func WithVisibilityTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithClaimPoll sets how often an idle Dequeue looks for new work.
func WithClaimPoll(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// NewRedisQueue creates a queue rooted at key on an existing client.
func NewRedisQueue(client *redis.Client, key string, opts ...RedisOption) *RedisQueue {
	if key == "" {
		key = "docanalyzer:jobs"
	}
	q := &RedisQueue{
		client:     client,
		key:        key,
		visibility: defaultVisibilityTimeout,
		poll:       defaultClaimPoll,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) readyKey() string      { return q.key + ":ready" }
func (q *RedisQueue) claimsKey() string     { return q.key + ":claims" }
func (q *RedisQueue) visibilityKey() string { return q.key + ":visibility" }
func (q *RedisQueue) delayedKey() string    { return q.key + ":delayed" }

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Dequeue claims the oldest ready message, polling until wait elapses.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		d, err := q.claim(ctx)
		if !errors.Is(err, ErrEmpty) {
			return d, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrEmpty
		}
		timer := time.NewTimer(min(q.poll, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (*Delivery, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}
	if _, err := q.requeueExpired(ctx, time.Now()); err != nil {
		return nil, err
	}

	receipt := uuid.NewString()
	leaseEnd := strconv.FormatInt(time.Now().Add(q.visibility).UnixMilli(), 10)
	raw, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.claimsKey(), q.visibilityKey()}, receipt, leaseEnd).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		// Poison message: drop it so it is not redelivered forever.
		slog.Error("dropping undecodable queue message", "error", err, "payload", raw)
		_ = q.release(ctx, receipt)
		return nil, ErrEmpty
	}
	return &Delivery{Message: msg, receipt: receipt}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.release(ctx, d.receipt); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Retry schedules d.Message after delay. If the claim's lease already ran
// out the message belongs to another consumer and Retry does nothing.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	raw, err := encodeMessage(d.Message)
	if err != nil {
		return err
	}
	due := strconv.FormatInt(time.Now().Add(delay).UnixMilli(), 10)
	held, err := retryScript.Run(ctx, q.client,
		[]string{q.claimsKey(), q.visibilityKey(), q.delayedKey()}, d.receipt, due, raw).Int()
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if held == 0 {
		slog.Warn("claim lease expired before retry, message already redelivered", "job_id", d.Message.JobID)
	}
	return nil
}

// Recover returns claims whose lease has expired to the ready list. Claims
// still leased by live consumers are left alone.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	return q.requeueExpired(ctx, time.Now())
}

func (q *RedisQueue) requeueExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := requeueExpiredScript.Run(ctx, q.client,
		[]string{q.visibilityKey(), q.claimsKey(), q.readyKey()},
		now.UnixMilli(), promoteBatch).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("requeue expired claims: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) release(ctx context.Context, receipt string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.claimsKey(), receipt)
	pipe.ZRem(ctx, q.visibilityKey(), receipt)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.readyKey()}, now, promoteBatch).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote delayed: %w", err)
	}
	return nil
}
