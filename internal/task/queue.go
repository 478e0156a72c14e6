package task

import (
	"context"
)

// Handler 执行一条出队的 A2A 任务。返回错误时任务保持原状态，由 Processor 的重试与恢复逻辑接管。
type Handler func(ctx context.Context, taskID string) error

// Producer 在任务落库后投递其 ID。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个并发 worker 拉取任务 ID，直到 ctx 结束或队列关闭。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 由内存、Redis 与 RabbitMQ 三种驱动实现。
type Queue interface {
	Producer
	Consumer
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*RabbitMQQueue)(nil)
)
