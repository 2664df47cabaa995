package domain

import "errors"

var (
	// ErrRoomNotFound is returned when joining a room nobody has created.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when creating a room whose code is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomInProgress is returned when joining a room whose match has started.
	ErrRoomInProgress = errors.New("game already in progress")
	// ErrAlreadyInRoom is returned when a participant id is already present.
	ErrAlreadyInRoom = errors.New("participant already in room")
	// ErrNotInRoom indicates an operation that requires a joined room.
	ErrNotInRoom = errors.New("not in a room")
	// ErrNotHost indicates a host-only operation attempted by someone else.
	ErrNotHost = errors.New("only the host can do that")
	// ErrNotEnoughPlayers is returned when starting with fewer than two participants.
	ErrNotEnoughPlayers = errors.New("at least 2 players are required to start")
	// ErrInvalidCode is returned for empty or malformed room codes.
	ErrInvalidCode = errors.New("invalid room code")
	// ErrEmptyDisplayName is returned when a guest joins without a name.
	ErrEmptyDisplayName = errors.New("please enter your name")
	// ErrUnauthenticated is returned when an authenticated-only action is attempted by a guest.
	ErrUnauthenticated = errors.New("sign in required")
	// ErrLobbyNotFound indicates the persisted lobby record does not exist.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrPlayerNotFound indicates no statistics exist for the player.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrMatchComplete is returned when recording a round past the end of a match.
	ErrMatchComplete = errors.New("match already complete")
	// ErrInvalidSettings is returned for non-positive durations or counts.
	ErrInvalidSettings = errors.New("invalid match settings")
	// ErrRoundInProgress is returned when starting a round before the last one ended.
	ErrRoundInProgress = errors.New("round still in progress")
)

// ErrorCode maps a sentinel error to the stable code used on the wire.
func ErrorCode(err error) string {
	for code, sentinel := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes yield a plain error
// carrying the message.
func ErrorFromCode(code, message string) error {
	if sentinel, ok := errorCodes[code]; ok {
		return sentinel
	}
	return errors.New(message)
}

var errorCodes = map[string]error{
	"room_not_found":     ErrRoomNotFound,
	"room_exists":        ErrRoomExists,
	"room_in_progress":   ErrRoomInProgress,
	"already_in_room":    ErrAlreadyInRoom,
	"not_in_room":        ErrNotInRoom,
	"not_host":           ErrNotHost,
	"not_enough_players": ErrNotEnoughPlayers,
	"invalid_code":       ErrInvalidCode,
	"empty_display_name": ErrEmptyDisplayName,
	"unauthenticated":    ErrUnauthenticated,
	"lobby_not_found":    ErrLobbyNotFound,
	"player_not_found":   ErrPlayerNotFound,
	"invalid_settings":   ErrInvalidSettings,
	"round_in_progress":  ErrRoundInProgress,
}
