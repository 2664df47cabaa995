// Package local connects lobby clients to a RoomService in the same process.
package local

import (
	"context"
	"encoding/json"
	"sync"

	"math-battle/internal/app"
	"math-battle/internal/domain"
)

// Transport is a lobby.Transport over an in-process RoomService.
type Transport struct {
	rooms *app.RoomService

	mu     sync.Mutex
	joined map[string]membership
}

type membership struct {
	id     string
	cancel func()
}

func New(rooms *app.RoomService) *Transport {
	return &Transport{rooms: rooms, joined: make(map[string]membership)}
}

func (t *Transport) Join(ctx context.Context, room string, self domain.Participant, create bool) (<-chan domain.Envelope, error) {
	t.mu.Lock()
	_, dup := t.joined[room]
	t.mu.Unlock()
	if dup {
		return nil, domain.ErrAlreadyInRoom
	}

	p, err := t.rooms.Join(ctx, room, self, create)
	if err != nil {
		return nil, err
	}
	envs, cancel, err := t.rooms.Subscribe(ctx, room)
	if err != nil {
		_ = t.rooms.Leave(context.WithoutCancel(ctx), room, p.ID)
		return nil, err
	}

	t.mu.Lock()
	t.joined[room] = membership{id: p.ID, cancel: cancel}
	t.mu.Unlock()
	return envs, nil
}

func (t *Transport) Broadcast(ctx context.Context, room, event string, payload json.RawMessage) error {
	t.mu.Lock()
	m, ok := t.joined[room]
	t.mu.Unlock()
	if !ok {
		return domain.ErrNotInRoom
	}
	return t.rooms.Broadcast(ctx, room, m.id, event, payload)
}

// Leave removes the participant and closes the stream returned by Join.
func (t *Transport) Leave(ctx context.Context, room string) error {
	t.mu.Lock()
	m, ok := t.joined[room]
	delete(t.joined, room)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	err := t.rooms.Leave(ctx, room, m.id)
	m.cancel()
	return err
}
