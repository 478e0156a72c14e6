package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
	// RetryDelay 是处理失败后该 worker 再次取任务前的等待时间。
	RetryDelay time.Duration
}

// DefaultRedisQueue 是未配置时使用的 list 键。
const DefaultRedisQueue = "agentkit:a2a:tasks"

// RedisQueue 以 Redis list 承载任务 ID：LPUSH 入队，BRPOP 从另一端出队，保持 FIFO。
type RedisQueue struct {
	client     *redis.Client
	queue      string
	wait       time.Duration
	retryDelay time.Duration
}

// DefaultRedisRetryDelay 是 RetryDelay 未配置时的失败退避。
const DefaultRedisRetryDelay = time.Second

// NewRedisQueue 按配置建立独立的 Redis 连接并 Ping 校验。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	q := NewRedisQueueWithClient(client, cfg.Queue, cfg.BlockWait)
	if cfg.RetryDelay > 0 {
		q.retryDelay = cfg.RetryDelay
	}
	return q, nil
}

// NewRedisQueueWithClient 复用已有的 Redis 客户端，队列关闭时一并关闭客户端。
func NewRedisQueueWithClient(client *redis.Client, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = DefaultRedisQueue
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, retryDelay: DefaultRedisRetryDelay}
}

// Publish 把任务 ID 推入 list。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 启动 workerCount 个 BRPOP 循环。任一 worker 遇到不可恢复的错误时，
// 其余 worker 随之退出，Consume 返回该错误。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	group, gctx := errgroup.WithContext(ctx)
	for range max(workerCount, 1) {
		group.Go(func() error { return q.work(gctx, handler) })
	}
	return group.Wait()
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for ctx.Err() == nil {
		taskID, err := q.pop(ctx)
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return err
		case taskID == "":
			continue
		}
		if handler(ctx, taskID) != nil {
			// 失败的 ID 回到队尾并退避，存储持续故障时不会空转。
			_ = q.client.LPush(ctx, q.queue, taskID).Err()
			if err := q.backoff(ctx); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (q *RedisQueue) backoff(ctx context.Context) error {
	timer := time.NewTimer(q.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pop 阻塞至多 wait，超时返回 redis.Nil。
func (q *RedisQueue) pop(ctx context.Context) (string, error) {
	values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
			return "", err
		}
		return "", xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
	}
	if len(values) != 2 {
		return "", nil
	}
	return values[1], nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
