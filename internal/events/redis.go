package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/pkg/logger"
)

// RedisBus publishes events on a Redis pub/sub channel so every API replica
// sees the same stream.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *logger.Logger
}

func NewRedisBus(rdb *redis.Client, channel string, log *logger.Logger) *RedisBus {
	if log == nil {
		log = logger.NewDefault()
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log.WithComponent("events")}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "events.publish", "encode event")
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "events.publish", "redis publish failed")
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "events.subscribe", "redis subscribe failed")
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn("dropping undecodable event", "channel", msg.Channel, "error", err.Error())
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBus) Close() error { return nil }
