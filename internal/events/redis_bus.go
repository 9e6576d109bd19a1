package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBusConfig names the stream and consumer group.
type RedisBusConfig struct {
	Stream      string
	Group       string
	Consumer    string
	Concurrency int
}

// RedisBus delivers events through a Redis stream and consumer group.
// Entries are acknowledged only after every handler succeeds; failed entries
// stay pending and are reclaimed once idle for ClaimIdle.
type RedisBus struct {
	client        *redis.Client
	cfg           RedisBusConfig
	handlers      handlerSet
	logger        *zap.Logger
	block         time.Duration
	claimIdle     time.Duration
	maxDeliveries int64
}

// NewRedisBus creates a stream-backed bus.
func NewRedisBus(client *redis.Client, cfg RedisBusConfig, logger *zap.Logger) *RedisBus {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &RedisBus{
		client:        client,
		cfg:           cfg,
		logger:        logger.With(zap.String("stream", cfg.Stream), zap.String("group", cfg.Group)),
		block:         5 * time.Second,
		claimIdle:     time.Minute,
		maxDeliveries: DefaultMaxDeliveries,
	}
}

// Publish appends the event to the stream.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	values, err := encodeMessage(event)
	if err != nil {
		return err
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.cfg.Stream, Values: values}).Err()
}

// Subscribe registers a handler for the given event type.
func (b *RedisBus) Subscribe(eventType EventType, handler Handler) {
	b.handlers.add(eventType, handler)
}

// Run consumes the stream until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", b.cfg.Consumer, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.consume(ctx, consumer)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.reclaim(ctx, b.cfg.Consumer+"-reclaim")
	}()

	b.logger.Info("event consumer started", zap.Int("concurrency", b.cfg.Concurrency))
	wg.Wait()
	return nil
}

func (b *RedisBus) consume(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    10,
			Block:    b.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("read stream", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.handle(ctx, msg)
			}
		}
	}
}

func (b *RedisBus) reclaim(ctx context.Context, consumer string) {
	ticker := time.NewTicker(b.claimIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := "0-0"
		for {
			msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   b.cfg.Stream,
				Group:    b.cfg.Group,
				Consumer: consumer,
				MinIdle:  b.claimIdle,
				Start:    start,
				Count:    50,
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("reclaim pending entries", zap.Error(err))
				}
				break
			}
			for _, msg := range msgs {
				if b.exhausted(ctx, msg) {
					continue
				}
				b.handle(ctx, msg)
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

// exhausted moves entries delivered too often to the dead-letter stream.
func (b *RedisBus) exhausted(ctx context.Context, msg redis.XMessage) bool {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.cfg.Stream,
		Group:  b.cfg.Group,
		Start:  msg.ID,
		End:    msg.ID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 || pending[0].RetryCount <= b.maxDeliveries {
		return false
	}

	b.logger.Error("event moved to dead letter stream",
		zap.String("message_id", msg.ID),
		zap.Int64("deliveries", pending[0].RetryCount),
	)
	if err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.cfg.Stream + ":dead", Values: msg.Values}).Err(); err != nil {
		b.logger.Warn("write dead letter", zap.Error(err))
		return true
	}
	b.ack(ctx, msg.ID)
	return true
}

func (b *RedisBus) handle(ctx context.Context, msg redis.XMessage) {
	event, err := decodeMessage(msg.Values)
	if err != nil {
		b.logger.Error("discarding malformed stream entry", zap.String("message_id", msg.ID), zap.Error(err))
		b.ack(ctx, msg.ID)
		return
	}
	if err := b.handlers.dispatch(ctx, event); err != nil {
		b.logger.Warn("event handler failed, leaving entry pending",
			zap.String("message_id", msg.ID),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	b.ack(ctx, msg.ID)
}

func (b *RedisBus) ack(ctx context.Context, id string) {
	if err := b.client.XAck(context.WithoutCancel(ctx), b.cfg.Stream, b.cfg.Group, id).Err(); err != nil {
		b.logger.Warn("ack stream entry", zap.String("message_id", id), zap.Error(err))
	}
}

func encodeMessage(event Event) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return map[string]any{"type": string(event.Type), "event": string(raw)}, nil
}

func decodeMessage(values map[string]any) (Event, error) {
	raw, ok := values["event"].(string)
	if !ok {
		return Event{}, errors.New("stream entry has no event field")
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, errors.New("stream entry has no event type")
	}
	return event, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
