package lobby

import (
	"math/rand/v2"
	"strings"

	"math-battle/internal/domain"
)

// CodeAlphabet leaves out 0, O, 1 and I so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codeLength    = 6
	minCodeLength = 4
	maxCodeLength = 8
)

// Room name prefixes.
const (
	PartyPrefix = "party:"
	LobbyPrefix = "lobby:"
)

// NewCode returns a fresh shareable room code.
func NewCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(CodeAlphabet[rand.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// NormalizeCode trims and upper-cases user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode normalizes code and rejects anything that could not have been
// produced by NewCode or an older, shorter generator.
func ValidateCode(code string) (string, error) {
	code = NormalizeCode(code)
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return "", domain.ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return "", domain.ErrInvalidCode
		}
	}
	return code, nil
}

// PartyRoom names the realtime room of a guest-friendly party.
func PartyRoom(code string) string { return PartyPrefix + code }

// LobbyRoom names the realtime room of an authenticated lobby.
func LobbyRoom(code string) string { return LobbyPrefix + code }

// CodeOf strips the prefix from a room name.
func CodeOf(room string) string {
	if code, ok := strings.CutPrefix(room, PartyPrefix); ok {
		return code
	}
	if code, ok := strings.CutPrefix(room, LobbyPrefix); ok {
		return code
	}
	return room
}

// ValidRoom reports whether room is a well-formed party or lobby room name.
func ValidRoom(room string) bool {
	if !strings.HasPrefix(room, PartyPrefix) && !strings.HasPrefix(room, LobbyPrefix) {
		return false
	}
	code := CodeOf(room)
	valid, err := ValidateCode(code)
	return err == nil && valid == code
}
