package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Redis is a StateCache shared between worker processes. Redis failures are
// logged and reported as misses, so the waiter falls back to polling.
type Redis struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewRedis wraps an existing go-redis client
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration, log *zap.SugaredLogger) *Redis {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Redis{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 2 * time.Second,
		log:     log,
	}
}

// ScopedPrefix appends the API base URL to prefix so deployments sharing one
// Redis never read each other's task IDs.
func ScopedPrefix(prefix, baseURL string) string {
	return prefix + strings.TrimRight(baseURL, "/") + ":"
}

func (r *Redis) Get(taskID string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	state, err := r.client.Get(ctx, r.prefix+taskID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warnw("terminal state cache read failed", "task_id", taskID, "error", err)
		}
		return "", false
	}
	return state, true
}

func (r *Redis) Put(taskID, state string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+taskID, state, r.ttl).Err(); err != nil {
		r.log.Warnw("terminal state cache write failed", "task_id", taskID, "error", err)
	}
}
