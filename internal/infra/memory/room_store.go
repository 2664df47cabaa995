package memory

import (
	"context"
	"sort"
	"sync"

	"math-battle/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomStore.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	info    domain.RoomInfo
	members map[string]domain.Participant
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*roomEntry),
	}
}

func (s *RoomStore) Create(_ context.Context, info domain.RoomInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[info.Name]; ok {
		return domain.ErrRoomExists
	}
	s.rooms[info.Name] = &roomEntry{
		info:    info,
		members: make(map[string]domain.Participant),
	}
	return nil
}

func (s *RoomStore) Get(_ context.Context, room string) (domain.RoomInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[room]
	if !ok {
		return domain.RoomInfo{}, domain.ErrRoomNotFound
	}
	return entry.info, nil
}

func (s *RoomStore) SetStatus(_ context.Context, room string, status domain.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rooms[room]
	if !ok {
		return domain.ErrRoomNotFound
	}
	entry.info.Status = status
	return nil
}

func (s *RoomStore) AddMember(_ context.Context, room string, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rooms[room]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if _, dup := entry.members[p.ID]; dup {
		return domain.ErrAlreadyInRoom
	}
	entry.members[p.ID] = p
	return nil
}

func (s *RoomStore) RemoveMember(_ context.Context, room, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rooms[room]
	if !ok {
		return false, nil
	}
	if _, present := entry.members[id]; !present {
		return false, nil
	}
	delete(entry.members, id)
	return true, nil
}

// Members returns the room's participants in join order. Unknown rooms have
// no members.
func (s *RoomStore) Members(_ context.Context, room string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.rooms[room]
	if !ok {
		return nil, nil
	}
	members := make([]domain.Participant, 0, len(entry.members))
	for _, p := range entry.members {
		members = append(members, p)
	}
	sortMembers(members)
	return members, nil
}

func (s *RoomStore) Delete(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	return nil
}

func sortMembers(members []domain.Participant) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinOrder != members[j].JoinOrder {
			return members[i].JoinOrder < members[j].JoinOrder
		}
		return members[i].ID < members[j].ID
	})
}
