package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/pkg/safego"
)

// Event 事件接口
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

// Type 返回事件类型
func (e *BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

// Payload 返回事件载荷
func (e *BaseEvent) Payload() any {
	return e.EventPayload
}

// NewEvent 创建新事件
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event)

// SubscriptionID identifies one Subscribe call.
type SubscriptionID uint64

// Bus 事件总线接口
type Bus interface {
	// Publish never blocks; events are dropped when the buffer is full.
	Publish(ctx context.Context, event Event)
	// Subscribe 订阅事件，"*" 订阅全部
	Subscribe(eventType string, handler Handler) SubscriptionID
	// Unsubscribe 取消订阅
	Unsubscribe(id SubscriptionID)
	// Close 关闭事件总线
	Close()
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// InMemoryBus 内存事件总线
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]subscription
	nextID    SubscriptionID
	eventChan chan eventWrapper
	closed    bool
	dropped   atomic.Uint64
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus 创建内存事件总线
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	bus := &InMemoryBus{
		handlers:  make(map[string][]subscription),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger.With(zap.String("component", "eventbus")),
	}

	// 启动事件分发协程
	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish 发布事件
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	// 持有读锁直到发送完成，避免与 Close 竞争关闭 channel
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("Event published", zap.String("type", event.Type()))
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

// Dropped 返回因缓冲区满而丢弃的事件数
func (b *InMemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe 订阅事件
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	b.logger.Debug("Handler subscribed", zap.String("event_type", eventType))
	return id
}

// Unsubscribe 取消订阅
func (b *InMemoryBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.handlers {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			subs = append(subs[:i:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(b.handlers, eventType)
			} else {
				b.handlers[eventType] = subs
			}
			return
		}
	}
}

// Close drains pending events, then stops the dispatcher.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

// dispatch 事件分发循环
func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

// dispatchEvent runs the handlers of one event in parallel and waits for all
// of them, so per-type delivery order is preserved.
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[event.Type()])+len(b.handlers["*"]))
	subs = append(subs, b.handlers[event.Type()]...)
	subs = append(subs, b.handlers["*"]...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer safego.Recover(b.logger, "eventbus:"+event.Type())
			h(ctx, event)
		}(s.handler)
	}
	wg.Wait()
}
