package lobby

import (
	"errors"
	"strings"
	"testing"

	"math-battle/internal/domain"
)

func TestNewCodeUsesAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := NewCode()
		if len(code) != codeLength {
			t.Fatalf("expected %d chars, got %q", codeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(CodeAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
	}
}

func TestValidateCode(t *testing.T) {
	got, err := ValidateCode("  abcd23 ")
	if err != nil || got != "ABCD23" {
		t.Fatalf("expected normalized ABCD23, got %q %v", got, err)
	}
	for _, bad := range []string{"", "ABC", "ABCDEFGHJ", "ABC0EF", "ABCIEF", "AB CD"} {
		if _, err := ValidateCode(bad); !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("expected ErrInvalidCode for %q, got %v", bad, err)
		}
	}
}

func TestRoomNames(t *testing.T) {
	if PartyRoom("ABCDEF") != "party:ABCDEF" || LobbyRoom("ABCDEF") != "lobby:ABCDEF" {
		t.Fatalf("unexpected room names")
	}
	if CodeOf("lobby:XYZ234") != "XYZ234" || CodeOf("plain") != "plain" {
		t.Fatalf("unexpected CodeOf")
	}
	if !ValidRoom("party:ABCDEF") || ValidRoom("party:abcdef") || ValidRoom("room:ABCDEF") || ValidRoom("party:") {
		t.Fatalf("unexpected ValidRoom results")
	}
}

func TestJoinURL(t *testing.T) {
	got := JoinURL("https://battle.example/", "ABCDEF")
	if got != "https://battle.example/?guest=1&lobby=ABCDEF" {
		t.Fatalf("unexpected join url %q", got)
	}
}
