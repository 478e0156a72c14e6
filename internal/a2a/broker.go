package a2a

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"BNBChain-AgentKit/pkg/logger"
)

const subscriberBuffer = 64

// Broker fans task events out to streaming subscribers.
type Broker interface {
	Publish(ctx context.Context, taskID string, event Event) error
	// Subscribe returns a channel of events for taskID and a cancel func
	// that must be called to release the subscription.
	Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error)
}

// MemoryBroker delivers events within the current process.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan Event]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, taskID string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[taskID] {
		select {
		case ch <- event:
		default:
			logger.L().Warn("订阅者处理过慢，丢弃事件", slog.String("task_id", taskID))
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, taskID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[chan Event]struct{})
	}
	b.subs[taskID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[taskID], ch)
			if len(b.subs[taskID]) == 0 {
				delete(b.subs, taskID)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// RedisBroker relays events over Redis pub/sub so that a stream opened on
// one node sees updates produced by queue workers on another.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
}

// DefaultEventChannelPrefix prefixes the per-task pub/sub channel.
const DefaultEventChannelPrefix = "agentkit:a2a:events:"

func NewRedisBroker(client redis.UniversalClient, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = DefaultEventChannelPrefix
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) Publish(ctx context.Context, taskID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.prefix+taskID, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, taskID string) (<-chan Event, func(), error) {
	ps := b.client.Subscribe(ctx, b.prefix+taskID)
	// Wait for the subscription to be confirmed before returning.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.L().Warn("解析任务事件失败", slog.Any("error", err), slog.String("task_id", taskID))
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
