package task

import (
	"context"
	"sync"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// MemoryQueue 是带缓冲 channel 上的单进程队列，agentd 未配置外部队列时使用。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 的 size 不大于 0 时取 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 在队列已满时阻塞，直到有空位或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- taskID:
		return nil
	}
}

// Consume 阻塞到 ctx 结束，期间由 workerCount 个协程处理任务。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var wg sync.WaitGroup
	for range max(workerCount, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.drain(ctx, handler)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) drain(ctx context.Context, handler Handler) {
	for {
		var taskID string
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.ch:
			if !ok {
				return
			}
			taskID = id
		}
		if err := handler(ctx, taskID); err != nil {
			q.requeue(ctx, taskID)
		}
	}
}

// requeue 在基础设施错误时尽力重新投递，队列已满或已关闭则放弃。
func (q *MemoryQueue) requeue(ctx context.Context, taskID string) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed || ctx.Err() != nil {
		return
	}
	select {
	case q.ch <- taskID:
	default:
	}
}

// Close 可重复调用。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
