package memory

import (
	"context"
	"slices"
	"sync"

	"math-battle/internal/domain"
)

// LobbyRepository is an in-memory lobby.LobbyStore.
type LobbyRepository struct {
	mu           sync.RWMutex
	lobbies      map[string]domain.LobbyRecord
	byCode       map[string]string
	participants map[string]map[string]struct{}
}

func NewLobbyRepository() *LobbyRepository {
	return &LobbyRepository{
		lobbies:      make(map[string]domain.LobbyRecord),
		byCode:       make(map[string]string),
		participants: make(map[string]map[string]struct{}),
	}
}

func (r *LobbyRepository) Create(_ context.Context, rec domain.LobbyRecord) (domain.LobbyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byCode[rec.Code]; taken {
		return domain.LobbyRecord{}, domain.ErrRoomExists
	}
	r.lobbies[rec.ID] = rec
	r.byCode[rec.Code] = rec.ID
	r.participants[rec.ID] = make(map[string]struct{})
	return rec, nil
}

func (r *LobbyRepository) GetByCode(_ context.Context, code string) (domain.LobbyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return domain.LobbyRecord{}, domain.ErrLobbyNotFound
	}
	return r.lobbies[id], nil
}

func (r *LobbyRepository) AddParticipant(_ context.Context, lobbyID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.participants[lobbyID]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	members[userID] = struct{}{}
	return nil
}

func (r *LobbyRepository) RemoveParticipant(_ context.Context, lobbyID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.participants[lobbyID]; ok {
		delete(members, userID)
	}
	return nil
}

func (r *LobbyRepository) MarkStarting(_ context.Context, lobbyID, seed string, startTime int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lobbies[lobbyID]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	rec.Status = domain.LobbyStarting
	rec.Seed = seed
	rec.StartTime = startTime
	r.lobbies[lobbyID] = rec
	return nil
}

func (r *LobbyRepository) Delete(_ context.Context, lobbyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.lobbies[lobbyID]; ok {
		delete(r.byCode, rec.Code)
	}
	delete(r.lobbies, lobbyID)
	delete(r.participants, lobbyID)
	return nil
}

// Participants lists the user ids recorded for a lobby.
func (r *LobbyRepository) Participants(_ context.Context, lobbyID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.participants[lobbyID]
	if !ok {
		return nil, domain.ErrLobbyNotFound
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
