package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/timmy/shotguess/internal/logger"
)

const (
	defaultQueueName = "shotguess:batches"
	popTimeout       = 5 * time.Second
)

// releaseScript deletes the lock only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// RedisQueue is a Redis list queue: LPUSH to enqueue, BRPOP to dequeue.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	QueueName string
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	name := cfg.QueueName
	if name == "" {
		name = defaultQueueName
	}
	return &RedisQueue{rdb: rdb, name: name}, nil
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task for %s: %w", t.JobID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	res, err := q.rdb.BRPop(ctx, popTimeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to pop from %s: %w", q.name, err)
	}
	// BRPOP returns [queue, value]
	if len(res) < 2 || res[1] == "" {
		return nil, nil
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		logger.CtxWarn(ctx, "Dropping malformed task %q: %v", res[1], err)
		return nil, nil
	}
	return &t, nil
}

func (q *RedisQueue) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	value := uuid.NewString()
	ok, err := q.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, q.rdb, []string{key}, value).Err(); err != nil {
			logger.CtxWarn(ctx, "Failed to release lock %s: %v", key, err)
		}
	}, true, nil
}
