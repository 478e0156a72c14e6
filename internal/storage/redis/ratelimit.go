package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// RateLimiter 实现固定窗口限流：每个键在窗口内 INCR，首次计数时设置过期。
type RateLimiter struct {
	client goredis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

// NewRateLimiter 创建限流器。prefix 为空时使用 "rate_limit:"。
func NewRateLimiter(client goredis.UniversalClient, prefix string, limit int, window time.Duration) *RateLimiter {
	if prefix == "" {
		prefix = "rate_limit:"
	}
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// Limit 返回窗口内允许的请求数。
func (l *RateLimiter) Limit() int { return int(l.limit) }

// Allow 计数一次请求并返回是否放行以及当前计数。
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	full := l.prefix + key
	count, err := l.client.Incr(ctx, full).Result()
	if err != nil {
		return false, 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "限流计数失败")
	}
	if count == 1 {
		if err := l.client.Expire(ctx, full, l.window).Err(); err != nil {
			return false, count, xerrors.Wrap(xerrors.CodeStorageFailure, err, "设置限流窗口失败")
		}
	}
	return count <= l.limit, count, nil
}
