package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// Bus is an in-process app.Bus. Subscribers that cannot keep up are dropped
// rather than having envelopes discarded, so nobody silently misses a start.
type Bus struct {
	buffer int

	mu     sync.Mutex
	rooms  map[string]map[chan domain.Envelope]struct{}
	closed bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		buffer: buffer,
		rooms:  make(map[string]map[chan domain.Envelope]struct{}),
	}
}

func (b *Bus) Publish(_ context.Context, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.rooms[env.Room] {
		select {
		case ch <- env:
		default:
			log.Warn().Str("room", env.Room).Msg("bus subscriber too slow, dropping")
			b.removeLocked(env.Room, ch)
		}
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, room string) (<-chan domain.Envelope, func(), error) {
	ch := make(chan domain.Envelope, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	subs, ok := b.rooms[room]
	if !ok {
		subs = make(map[chan domain.Envelope]struct{})
		b.rooms[room] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		b.removeLocked(room, ch)
		b.mu.Unlock()
	}
	return ch, cancel, nil
}

// Close drops every subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room, subs := range b.rooms {
		for ch := range subs {
			b.removeLocked(room, ch)
		}
	}
	b.closed = true
	return nil
}

func (b *Bus) removeLocked(room string, ch chan domain.Envelope) {
	subs, ok := b.rooms[room]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.rooms, room)
	}
}
