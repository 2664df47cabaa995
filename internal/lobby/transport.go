package lobby

import (
	"context"
	"encoding/json"

	"math-battle/internal/domain"
)

// Transport is the realtime room collaborator. One Transport serves one
// client; it remembers who joined so broadcasts carry the sender.
type Transport interface {
	// Join announces self in room and returns the room's inbound stream: a
	// presence snapshot after every membership change and every broadcast,
	// including the client's own. create registers a new room with self as
	// host. The stream is closed after Leave or when the connection ends.
	Join(ctx context.Context, room string, self domain.Participant, create bool) (<-chan domain.Envelope, error)
	Broadcast(ctx context.Context, room, event string, payload json.RawMessage) error
	Leave(ctx context.Context, room string) error
}

// Identity is the session collaborator.
type Identity interface {
	CurrentUserID() (string, bool)
	IsAuthenticated() bool
}

// StaticIdentity is a fixed signed-in user; the zero value is a guest.
type StaticIdentity struct {
	UserID string
}

func (s StaticIdentity) CurrentUserID() (string, bool) { return s.UserID, s.UserID != "" }
func (s StaticIdentity) IsAuthenticated() bool         { return s.UserID != "" }

// Guest is the identity of a visitor who has not signed in.
var Guest Identity = StaticIdentity{}

// LobbyStore persists authenticated lobbies.
type LobbyStore interface {
	// Create stores a new lobby. A taken code yields domain.ErrRoomExists.
	Create(ctx context.Context, rec domain.LobbyRecord) (domain.LobbyRecord, error)
	// GetByCode yields domain.ErrLobbyNotFound for unknown codes.
	GetByCode(ctx context.Context, code string) (domain.LobbyRecord, error)
	// AddParticipant is idempotent.
	AddParticipant(ctx context.Context, lobbyID, userID string) error
	RemoveParticipant(ctx context.Context, lobbyID, userID string) error
	MarkStarting(ctx context.Context, lobbyID, seed string, startTime int64) error
	Delete(ctx context.Context, lobbyID string) error
}

// Profiles resolves display names of signed-in users.
type Profiles interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}
