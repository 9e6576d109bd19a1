package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler handles a delivered event. A non-nil error asks the bus to deliver
// the event again later.
type Handler func(context.Context, Event) error

// Bus publishes events and drives subscribed handlers.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler Handler)
	Run(ctx context.Context) error
}

// DefaultMaxDeliveries caps redelivery of an event whose handlers keep failing.
const DefaultMaxDeliveries = 5

type handlerSet struct {
	mu        sync.RWMutex
	listeners map[EventType][]Handler
}

func (s *handlerSet) add(eventType EventType, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[EventType][]Handler)
	}
	s.listeners[eventType] = append(s.listeners[eventType], handler)
}

func (s *handlerSet) forType(eventType EventType) []Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Handler(nil), s.listeners[eventType]...)
}

// dispatch runs every handler and returns the first error. All handlers run
// even when an earlier one fails.
func (s *handlerSet) dispatch(ctx context.Context, event Event) error {
	var first error
	for _, handler := range s.forType(event.Type) {
		if err := handler(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type delivery struct {
	event   Event
	attempt int
}

// MemoryBus delivers events in process through a buffered queue drained by
// worker goroutines. Publish returns as soon as the event is queued.
type MemoryBus struct {
	handlers      handlerSet
	queue         chan delivery
	workers       int
	maxDeliveries int
	retryDelay    time.Duration
	logger        *zap.Logger
	wg            sync.WaitGroup
}

// NewMemoryBus creates a bus with the given number of workers.
func NewMemoryBus(workers int, logger *zap.Logger) *MemoryBus {
	if workers <= 0 {
		workers = 1
	}
	return &MemoryBus{
		queue:         make(chan delivery, 1024),
		workers:       workers,
		maxDeliveries: DefaultMaxDeliveries,
		retryDelay:    time.Second,
		logger:        logger,
	}
}

// Publish queues the event, blocking only while the queue is full.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	select {
	case b.queue <- delivery{event: event, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for the given event type.
func (b *MemoryBus) Subscribe(eventType EventType, handler Handler) {
	b.handlers.add(eventType, handler)
}

// Run drains the queue until ctx is cancelled, then waits for in-flight handlers.
func (b *MemoryBus) Run(ctx context.Context) error {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-b.queue:
					b.deliver(ctx, d)
				}
			}
		}()
	}
	<-ctx.Done()
	b.wg.Wait()
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, d delivery) {
	err := b.handlers.dispatch(ctx, d.event)
	if err == nil {
		return
	}
	logger := b.logger.With(
		zap.String("event_id", d.event.ID),
		zap.String("event_type", string(d.event.Type)),
		zap.Int("attempt", d.attempt),
		zap.Error(err),
	)
	if d.attempt >= b.maxDeliveries {
		logger.Error("event dropped after max deliveries")
		return
	}
	logger.Warn("event handler failed, redelivering")

	next := delivery{event: d.event, attempt: d.attempt + 1}
	delay := b.retryDelay * time.Duration(d.attempt)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			select {
			case b.queue <- next:
			case <-ctx.Done():
			}
		}
	}()
}
