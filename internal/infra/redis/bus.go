package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// Bus routes room envelopes through Redis pub/sub so rooms work across
// server instances. Each room maps to channel room:{name}:events.
type Bus struct {
	client *redis.Client
	buffer int
}

func NewBus(client *redis.Client, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{client: client, buffer: buffer}
}

func (b *Bus) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(env.Room), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Room, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards is missed.
func (b *Bus) Subscribe(ctx context.Context, room string) (<-chan domain.Envelope, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", room, err)
	}

	out := make(chan domain.Envelope, b.buffer)
	var once sync.Once
	closePS := func() {
		once.Do(func() { _ = ps.Close() })
	}

	msgs := ps.Channel()
	go func() {
		defer close(out)
		for msg := range msgs {
			var env domain.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Str("room", room).Msg("discarding malformed envelope")
				continue
			}
			select {
			case out <- env:
			default:
				log.Warn().Str("room", room).Msg("bus subscriber too slow, dropping")
				closePS()
				return
			}
		}
	}()
	return out, closePS, nil
}

func (b *Bus) channel(room string) string {
	return "room:" + room + ":events"
}
