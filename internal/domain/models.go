package domain

import (
	"encoding/json"
	"time"
)

// Operation is the arithmetic operator of a generated problem.
type Operation int

const (
	OpAdd Operation = iota
	OpSub
	OpMul
	OpDiv
)

// Symbol returns the operator as displayed to players.
func (o Operation) Symbol() string {
	switch o {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "×"
	case OpDiv:
		return "÷"
	}
	return "?"
}

// Problem is a single true/false arithmetic statement. Problems are shared
// by every player of a round and never mutated after generation.
type Problem struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	CorrectAnswer bool      `json:"correctAnswer"`
	Index         int       `json:"index"`
	Op            Operation `json:"op"`
	Left          int       `json:"left"`
	Right         int       `json:"right"`
	Shown         int       `json:"shown"`
	Result        int       `json:"result"`
}

// GameMode selects the scoring policy of a round.
type GameMode string

const (
	ModeClassic  GameMode = "classic"
	ModeSurvival GameMode = "survival-30s"
)

// Valid reports whether m is a known mode.
func (m GameMode) Valid() bool {
	return m == ModeClassic || m == ModeSurvival
}

// MatchFormat is the number of rounds a match is played over.
type MatchFormat string

const (
	FormatSingle   MatchFormat = "1v1"
	FormatBestOf3  MatchFormat = "best-of-3"
	FormatBestOf5  MatchFormat = "best-of-5"
	FormatBestOf10 MatchFormat = "best-of-10"
)

// Rounds returns how many rounds the format plays; unknown formats play one.
func (f MatchFormat) Rounds() int {
	switch f {
	case FormatBestOf3:
		return 3
	case FormatBestOf5:
		return 5
	case FormatBestOf10:
		return 10
	}
	return 1
}

// Settings are written by the host and read by everyone else in the room.
type Settings struct {
	DurationSeconds int         `json:"durationSeconds"`
	QuestionCount   int         `json:"questionCount"`
	GameMode        GameMode    `json:"gameMode"`
	Format          MatchFormat `json:"format,omitempty"`
	AllowGuests     bool        `json:"allowGuests,omitempty"`
}

// DefaultPartySettings mirrors what a freshly created party room starts with.
// Survival needs a long question list since nobody runs out before the clock.
func DefaultPartySettings() Settings {
	return Settings{
		DurationSeconds: 30,
		QuestionCount:   1000,
		GameMode:        ModeClassic,
		Format:          FormatSingle,
	}
}

// DefaultLobbySettings are the settings stored with a new authenticated lobby.
func DefaultLobbySettings() Settings {
	return Settings{
		DurationSeconds: 30,
		QuestionCount:   20,
		GameMode:        ModeClassic,
		Format:          FormatSingle,
	}
}

// Validate rejects settings no round can be played with.
func (s Settings) Validate() error {
	if s.DurationSeconds <= 0 || s.QuestionCount <= 0 || !s.GameMode.Valid() {
		return ErrInvalidSettings
	}
	return nil
}

// StartSignal is the host's start broadcast. Every client derives its
// questions from Seed and anchors its round clock to StartTime.
type StartSignal struct {
	Seed      string   `json:"seed"`
	StartTime int64    `json:"startTime"` // epoch milliseconds
	Settings  Settings `json:"settings"`
	Round     int      `json:"round,omitempty"`
}

// StartAt converts StartTime to a time.Time.
func (s StartSignal) StartAt() time.Time {
	return time.UnixMilli(s.StartTime)
}

// Participant is the presence payload a client announces in a room.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsGuest     bool   `json:"isGuest"`
	IsHost      bool   `json:"isHost"`
	JoinOrder   int64  `json:"joinOrder"`
}

// GuestIDPrefix marks participant ids minted for visitors without an account.
const GuestIDPrefix = "guest-"

// RoomStatus is the lifecycle of a room on the server.
type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in_progress"
)

// RoomInfo is what the room server keeps besides presence.
type RoomInfo struct {
	Name      string     `json:"name"`
	HostID    string     `json:"hostId"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Envelope kinds.
const (
	KindPresence  = "presence"
	KindBroadcast = "broadcast"
)

// Broadcast event names.
const (
	EventStart          = "start"
	EventSettingsUpdate = "settings-update"
	EventLobbyClosed    = "lobby-closed"
	EventResult         = "result"
)

// Envelope is the unit carried by the room bus and the WebSocket. Presence
// envelopes carry the full member list; broadcast envelopes carry an opaque
// payload from a sender.
type Envelope struct {
	Kind    string          `json:"kind"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Members []Participant   `json:"members,omitempty"`
	Origin  string          `json:"origin,omitempty"`
}

// RoundResult is the terminal record of one player's round.
type RoundResult struct {
	Score               int     `json:"score"`
	Accuracy            float64 `json:"accuracy"`            // percent
	AverageResponseTime float64 `json:"averageResponseTime"` // seconds
	CorrectAnswers      int     `json:"correctAnswers"`
	TotalQuestions      int     `json:"totalQuestions"`
	Eliminated          bool    `json:"eliminated"`
	EliminatedAtIndex   *int    `json:"eliminatedAtIndex,omitempty"`
	FastestAnswer       float64 `json:"fastestAnswer,omitempty"` // seconds
}

// ResultReport is a self-reported round result broadcast to the room.
type ResultReport struct {
	PlayerID    string      `json:"playerId"`
	DisplayName string      `json:"displayName"`
	Round       int         `json:"round"`
	Result      RoundResult `json:"result"`
}

// MatchOutcome aggregates one player's rounds.
type MatchOutcome struct {
	Rounds          []int   `json:"rounds"`
	TotalScore      int     `json:"totalScore"`
	AverageAccuracy float64 `json:"averageAccuracy"`
	BestRound       int     `json:"bestRound"`
	Complete        bool    `json:"complete"`
}

// Standing is one player's line in the cross-player match table.
type Standing struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	RoundsWon   int    `json:"roundsWon"`
	TotalScore  int    `json:"totalScore"`
	Rank        int    `json:"rank"`
}

// LobbyStatus is the persisted lifecycle of an authenticated lobby.
type LobbyStatus string

const (
	LobbyWaiting    LobbyStatus = "waiting"
	LobbyStarting   LobbyStatus = "starting"
	LobbyInProgress LobbyStatus = "in_progress"
	LobbyFinished   LobbyStatus = "finished"
)

// LobbyRecord is an authenticated lobby as stored by the persistence collaborator.
type LobbyRecord struct {
	ID        string      `json:"id"`
	Code      string      `json:"code"`
	OwnerID   string      `json:"ownerUserId"`
	Status    LobbyStatus `json:"status"`
	Settings  Settings    `json:"settings"`
	Seed      string      `json:"seed,omitempty"`
	StartTime int64       `json:"startTime,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// PlayerStats are the aggregate statistics kept per authenticated player.
type PlayerStats struct {
	UserID          string    `json:"userId"`
	DisplayName     string    `json:"displayName"`
	TotalGames      int       `json:"totalGames"`
	GamesWon        int       `json:"gamesWon"`
	HighestScore    int       `json:"highestScore"`
	AverageAccuracy float64   `json:"averageAccuracy"`
	FastestAnswer   float64   `json:"fastestAnswer"`
	CurrentStreak   int       `json:"currentStreak"`
	LongestStreak   int       `json:"longestStreak"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Leaderboard is the ordered top of the player statistics.
type Leaderboard struct {
	Entries   []PlayerStats `json:"entries"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
