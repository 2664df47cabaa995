package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// RoomStore keeps room metadata and presence (in-memory, Redis, etc).
type RoomStore interface {
	// Create registers a new room; a taken name yields domain.ErrRoomExists.
	Create(ctx context.Context, info domain.RoomInfo) error
	// Get yields domain.ErrRoomNotFound for unknown rooms.
	Get(ctx context.Context, room string) (domain.RoomInfo, error)
	SetStatus(ctx context.Context, room string, status domain.RoomStatus) error
	// AddMember yields domain.ErrAlreadyInRoom when the id is present.
	AddMember(ctx context.Context, room string, p domain.Participant) error
	// RemoveMember reports whether the id was present.
	RemoveMember(ctx context.Context, room, id string) (bool, error)
	Members(ctx context.Context, room string) ([]domain.Participant, error)
	Delete(ctx context.Context, room string) error
}

// Bus fans room envelopes out to every subscriber, possibly across instances.
type Bus interface {
	Publish(ctx context.Context, env domain.Envelope) error
	// Subscribe streams the envelopes published to room until cancel is
	// called. A subscriber that falls too far behind is dropped and its
	// channel closed.
	Subscribe(ctx context.Context, room string) (<-chan domain.Envelope, func(), error)
}

// SubscriberBuffer is how many envelopes a subscriber may lag behind.
const SubscriberBuffer = 32

// RoomService is the realtime room collaborator: presence per room plus
// broadcast fan-out. A presence envelope carries the member list read when the
// change was published, so every stream orders presence and broadcasts the way
// they happened.
type RoomService struct {
	rooms RoomStore
	bus   Bus
	clock clockwork.Clock

	mu        sync.Mutex
	lastOrder int64

	// presenceMu pairs each member read with its publish.
	presenceMu sync.Mutex
}

func NewRoomService(rooms RoomStore, bus Bus, clock clockwork.Clock) *RoomService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RoomService{rooms: rooms, bus: bus, clock: clock}
}

// Join adds p to room, creating the room first when create is set. The
// creator is flagged host; everybody else has the flag cleared. The stored
// participant is returned with its join order.
func (s *RoomService) Join(ctx context.Context, room string, p domain.Participant, create bool) (domain.Participant, error) {
	p.JoinOrder = s.nextOrder()
	if create {
		p.IsHost = true
		err := s.rooms.Create(ctx, domain.RoomInfo{
			Name:      room,
			HostID:    p.ID,
			Status:    domain.RoomWaiting,
			CreatedAt: s.clock.Now(),
		})
		if err != nil {
			return domain.Participant{}, err
		}
	} else {
		p.IsHost = false
		info, err := s.rooms.Get(ctx, room)
		if err != nil {
			return domain.Participant{}, err
		}
		if info.Status != domain.RoomWaiting {
			return domain.Participant{}, domain.ErrRoomInProgress
		}
	}

	if err := s.rooms.AddMember(ctx, room, p); err != nil {
		if create {
			_ = s.rooms.Delete(context.WithoutCancel(ctx), room)
		}
		return domain.Participant{}, err
	}
	log.Info().Str("room", room).Str("participant", p.ID).Bool("host", p.IsHost).Msg("participant joined")

	if err := s.publishPresence(ctx, room); err != nil {
		return p, err
	}
	return p, nil
}

// Subscribe streams room envelopes: a presence snapshot first, a fresh one
// after every membership change, and every broadcast including the
// subscriber's own. The first snapshot is read after the bus subscription is
// in place, so nothing published later can overtake it. cancel must be called
// to release the subscription.
func (s *RoomService) Subscribe(ctx context.Context, room string) (<-chan domain.Envelope, func(), error) {
	if _, err := s.rooms.Get(ctx, room); err != nil {
		return nil, nil, err
	}
	in, unsubscribe, err := s.bus.Subscribe(ctx, room)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	first, err := s.snapshot(ctx, room)
	if err != nil {
		unsubscribe()
		return nil, nil, err
	}

	out := make(chan domain.Envelope, SubscriberBuffer)
	out <- first
	stop := make(chan struct{})
	done := make(chan struct{})
	go s.forward(room, in, out, stop, done)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			unsubscribe()
			<-done
		})
	}
	return out, cancel, nil
}

func (s *RoomService) forward(room string, in <-chan domain.Envelope, out chan<- domain.Envelope, stop, done chan struct{}) {
	defer close(done)
	defer close(out)

	send := func(env domain.Envelope) bool {
		select {
		case out <- env:
			return true
		case <-stop:
			return false
		default:
			log.Warn().Str("room", room).Msg("dropping slow subscriber")
			return false
		}
	}

	for {
		select {
		case <-stop:
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if !send(env) {
				return
			}
		}
	}
}

func (s *RoomService) snapshot(ctx context.Context, room string) (domain.Envelope, error) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	return s.readPresence(ctx, room)
}

func (s *RoomService) readPresence(ctx context.Context, room string) (domain.Envelope, error) {
	members, err := s.rooms.Members(ctx, room)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("read presence: %w", err)
	}
	if members == nil {
		members = []domain.Participant{}
	}
	return domain.Envelope{Kind: domain.KindPresence, Room: room, Members: members}, nil
}

// Broadcast relays an event from a member to the whole room. Start, settings
// and closure events are reserved for the host; a start locks the room
// against new joins.
func (s *RoomService) Broadcast(ctx context.Context, room, from, event string, payload json.RawMessage) error {
	info, err := s.rooms.Get(ctx, room)
	if err != nil {
		return err
	}
	members, err := s.rooms.Members(ctx, room)
	if err != nil {
		return err
	}
	if !isMember(members, from) {
		return domain.ErrNotInRoom
	}
	if hostOnly(event) && from != info.HostID {
		return domain.ErrNotHost
	}
	if event == domain.EventStart && info.Status == domain.RoomWaiting {
		if err := s.rooms.SetStatus(ctx, room, domain.RoomInProgress); err != nil {
			return err
		}
	}
	log.Debug().Str("room", room).Str("participant", from).Str("event", event).Msg("broadcast")
	return s.bus.Publish(ctx, domain.Envelope{
		Kind:    domain.KindBroadcast,
		Room:    room,
		Event:   event,
		From:    from,
		Payload: payload,
	})
}

// Leave removes id from room. When the host leaves the room is closed for
// everybody: an explicit closure broadcast goes out before the room is
// deleted. An empty room is deleted too.
func (s *RoomService) Leave(ctx context.Context, room, id string) error {
	info, err := s.rooms.Get(ctx, room)
	if err != nil {
		return nil
	}
	removed, err := s.rooms.RemoveMember(ctx, room, id)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	log.Info().Str("room", room).Str("participant", id).Msg("participant left")

	if id == info.HostID {
		closed := domain.Envelope{
			Kind:    domain.KindBroadcast,
			Room:    room,
			Event:   domain.EventLobbyClosed,
			From:    id,
			Payload: json.RawMessage(`{}`),
		}
		if err := s.bus.Publish(ctx, closed); err != nil {
			log.Warn().Err(err).Str("room", room).Msg("announce closure")
		}
		if err := s.rooms.Delete(ctx, room); err != nil {
			return err
		}
		return s.publishPresence(ctx, room)
	}

	if err := s.publishPresence(ctx, room); err != nil {
		return err
	}
	members, err := s.rooms.Members(ctx, room)
	if err == nil && len(members) == 0 {
		return s.rooms.Delete(ctx, room)
	}
	return nil
}

// Room returns the room metadata and current members.
func (s *RoomService) Room(ctx context.Context, room string) (domain.RoomInfo, []domain.Participant, error) {
	info, err := s.rooms.Get(ctx, room)
	if err != nil {
		return domain.RoomInfo{}, nil, err
	}
	members, err := s.rooms.Members(ctx, room)
	if err != nil {
		return domain.RoomInfo{}, nil, err
	}
	return info, members, nil
}

// publishPresence announces the member list as it stands now. Reads and
// publishes are serialized so the last snapshot on the bus is the newest.
func (s *RoomService) publishPresence(ctx context.Context, room string) error {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	env, err := s.readPresence(ctx, room)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, env)
}

// nextOrder hands out strictly increasing join orders from the clock.
func (s *RoomService) nextOrder() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := s.clock.Now().UnixNano()
	if order <= s.lastOrder {
		order = s.lastOrder + 1
	}
	s.lastOrder = order
	return order
}

func hostOnly(event string) bool {
	switch event {
	case domain.EventStart, domain.EventSettingsUpdate, domain.EventLobbyClosed:
		return true
	}
	return false
}

func isMember(members []domain.Participant, id string) bool {
	for _, m := range members {
		if m.ID == id {
			return true
		}
	}
	return false
}
