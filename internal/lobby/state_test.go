package lobby

import (
	"encoding/json"
	"testing"
	"time"

	"math-battle/internal/domain"
)

func presence(members ...domain.Participant) domain.Envelope {
	return domain.Envelope{Kind: domain.KindPresence, Members: members}
}

func broadcast(t *testing.T, from, event string, payload any) domain.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return domain.Envelope{Kind: domain.KindBroadcast, Event: event, From: from, Payload: data}
}

var (
	hostP  = domain.Participant{ID: "h", DisplayName: "Host", IsHost: true, JoinOrder: 1}
	guestP = domain.Participant{ID: "g", DisplayName: "Guest", IsGuest: true, JoinOrder: 2}
)

func joined(t *testing.T) State {
	t.Helper()
	s, notices := NewState("party:ABCDEF", "g", domain.DefaultPartySettings()).Apply(presence(guestP, hostP))
	if len(notices) != 1 || notices[0].Kind != NoticeParticipants {
		t.Fatalf("expected participants notice, got %+v", notices)
	}
	return s
}

func TestPresenceAdoptsHostAndSorts(t *testing.T) {
	s := joined(t)
	if s.HostID != "h" || s.IsHost() {
		t.Fatalf("expected h adopted as host, got %q", s.HostID)
	}
	if s.Participants[0].ID != "h" || s.Participants[1].ID != "g" {
		t.Fatalf("expected join order, got %+v", s.Participants)
	}
	if s.Code != "ABCDEF" || s.Round() != -1 {
		t.Fatalf("unexpected code %q round %d", s.Code, s.Round())
	}

	// A later member flagged host does not take over.
	usurper := domain.Participant{ID: "x", IsHost: true, JoinOrder: 0}
	s, _ = s.Apply(presence(hostP, guestP, usurper))
	if s.HostID != "h" {
		t.Fatalf("host changed to %q", s.HostID)
	}
}

func TestHostDepartureClosesRoom(t *testing.T) {
	s := joined(t)
	next, notices := s.Apply(presence(guestP))
	if next.Phase != PhaseClosed || next.Reason != ReasonHostLeft {
		t.Fatalf("expected closed by host-left, got %v %q", next.Phase, next.Reason)
	}
	if len(notices) != 1 || notices[0].Kind != NoticeClosed {
		t.Fatalf("expected closed notice, got %+v", notices)
	}
	if s.Phase != PhaseWaiting || len(s.Participants) != 2 {
		t.Fatalf("Apply modified the receiver")
	}

	// Nothing moves a closed state.
	again, notices := next.Apply(presence(hostP, guestP))
	if again.Phase != PhaseClosed || notices != nil {
		t.Fatalf("closed state reacted to presence")
	}
}

func TestLobbyClosedOnlyFromHost(t *testing.T) {
	s := joined(t)
	if next, _ := s.Apply(broadcast(t, "g", domain.EventLobbyClosed, struct{}{})); next.Phase != PhaseWaiting {
		t.Fatalf("non-host closed the room")
	}
	next, _ := s.Apply(broadcast(t, "h", domain.EventLobbyClosed, struct{}{}))
	if next.Phase != PhaseClosed || next.Reason != ReasonHostClosed {
		t.Fatalf("expected host-closed, got %v %q", next.Phase, next.Reason)
	}
}

func TestStartSignal(t *testing.T) {
	s := joined(t)
	sig := domain.StartSignal{Seed: "abc", StartTime: 1000, Settings: domain.DefaultPartySettings()}

	if next, notices := s.Apply(broadcast(t, "g", domain.EventStart, sig)); next.Phase != PhaseWaiting || notices != nil {
		t.Fatalf("accepted start from non-host")
	}
	if next, _ := s.Apply(broadcast(t, "h", domain.EventStart, domain.StartSignal{StartTime: 5})); next.Phase != PhaseWaiting {
		t.Fatalf("accepted start without seed")
	}

	next, notices := s.Apply(broadcast(t, "h", domain.EventStart, sig))
	if next.Phase != PhasePlaying || next.Signal == nil || next.Signal.Seed != "abc" || next.Round() != 0 {
		t.Fatalf("unexpected state after start: %+v", next)
	}
	if len(notices) != 1 || notices[0].Kind != NoticeStarted || notices[0].Signal.StartTime != 1000 {
		t.Fatalf("expected started notice, got %+v", notices)
	}

	// A replay of the same round is ignored; the next round is taken.
	if _, notices := next.Apply(broadcast(t, "h", domain.EventStart, domain.StartSignal{Seed: "other", Round: 0})); notices != nil {
		t.Fatalf("duplicate start accepted")
	}
	later, _ := next.Apply(broadcast(t, "h", domain.EventStart, domain.StartSignal{Seed: "r1", Round: 1, Settings: sig.Settings}))
	if later.Signal.Seed != "r1" || later.Round() != 1 {
		t.Fatalf("next round not taken: %+v", later.Signal)
	}
}

func TestSettingsUpdate(t *testing.T) {
	s := joined(t)
	settings := domain.Settings{DurationSeconds: 60, QuestionCount: 40, GameMode: domain.ModeSurvival, Format: domain.FormatBestOf3}

	next, notices := s.Apply(broadcast(t, "h", domain.EventSettingsUpdate, settings))
	if next.Settings != settings || len(notices) != 1 || notices[0].Kind != NoticeSettings {
		t.Fatalf("settings not applied: %+v %+v", next.Settings, notices)
	}
	if bad, _ := s.Apply(broadcast(t, "h", domain.EventSettingsUpdate, domain.Settings{GameMode: "chess"})); bad.Settings != s.Settings {
		t.Fatalf("invalid settings applied")
	}
	if other, _ := s.Apply(broadcast(t, "g", domain.EventSettingsUpdate, settings)); other.Settings != s.Settings {
		t.Fatalf("non-host settings applied")
	}
}

func TestResultsAreDeduplicated(t *testing.T) {
	s := joined(t)
	rep := domain.ResultReport{PlayerID: "g", DisplayName: "Guest", Round: 0, Result: domain.RoundResult{Score: 7}}

	if _, notices := s.Apply(broadcast(t, "h", domain.EventResult, rep)); notices != nil {
		t.Fatalf("accepted a result reported on someone else's behalf")
	}
	next, notices := s.Apply(broadcast(t, "g", domain.EventResult, rep))
	if len(next.Results) != 1 || len(notices) != 1 || notices[0].Result.Result.Score != 7 {
		t.Fatalf("result not recorded: %+v", next.Results)
	}
	if again, notices := next.Apply(broadcast(t, "g", domain.EventResult, rep)); len(again.Results) != 1 || notices != nil {
		t.Fatalf("duplicate result recorded")
	}
	if len(s.Results) != 0 {
		t.Fatalf("Apply modified the receiver's results")
	}
}

func TestHostOnlyEventsWaitForHost(t *testing.T) {
	sig := domain.StartSignal{Seed: "abc", StartTime: 1000, Settings: domain.DefaultPartySettings()}

	// The host's snapshot lags behind its start and closure.
	s, _ := NewState("party:ABCDEF", "g", domain.DefaultPartySettings()).Apply(presence(guestP))
	if s.HostID != "" {
		t.Fatalf("host elected without a flagged member: %q", s.HostID)
	}
	s, notices := s.Apply(broadcast(t, "h", domain.EventStart, sig))
	if s.Phase != PhaseWaiting || notices != nil {
		t.Fatalf("start applied before a host was known")
	}
	s, _ = s.Apply(broadcast(t, "h", domain.EventLobbyClosed, struct{}{}))

	next, notices := s.Apply(presence(guestP, hostP))
	if next.Phase != PhaseClosed || next.Reason != ReasonHostClosed || next.Signal == nil || next.Signal.Seed != "abc" {
		t.Fatalf("held events not replayed: %+v", next)
	}
	var kinds []NoticeKind
	for _, n := range notices {
		kinds = append(kinds, n.Kind)
	}
	want := []NoticeKind{NoticeParticipants, NoticeStarted, NoticeClosed}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] || kinds[2] != want[2] {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
}

func TestHeldEventsFromOthersAreDropped(t *testing.T) {
	s, _ := NewState("party:ABCDEF", "g", domain.DefaultPartySettings()).Apply(presence(guestP))
	s, _ = s.Apply(broadcast(t, "g", domain.EventStart, domain.StartSignal{Seed: "forged"}))
	next, notices := s.Apply(presence(guestP, hostP))
	if next.Phase != PhaseWaiting || next.Signal != nil || len(notices) != 1 {
		t.Fatalf("start from a non-host replayed: %+v %+v", next, notices)
	}
}

func TestSnapshotWithoutSelfCloses(t *testing.T) {
	next, notices := NewState("party:ABCDEF", "g", domain.DefaultPartySettings()).Apply(presence())
	if next.Phase != PhaseClosed || next.Reason != ReasonHostLeft {
		t.Fatalf("expected empty room to close as host-left, got %v %q", next.Phase, next.Reason)
	}
	if len(notices) != 1 || notices[0].Kind != NoticeClosed {
		t.Fatalf("expected closed notice, got %+v", notices)
	}

	s := joined(t)
	other := domain.Participant{ID: "o", JoinOrder: 3}
	if next, _ := s.Apply(presence(hostP, other)); next.Phase != PhaseClosed || next.Reason != ReasonDisconnected {
		t.Fatalf("expected disconnected, got %v %q", next.Phase, next.Reason)
	}
}

func TestRoundOver(t *testing.T) {
	s := joined(t)
	if !s.RoundOver(time.UnixMilli(0)) {
		t.Fatalf("nothing started yet, round should be over")
	}
	sig := domain.StartSignal{Seed: "abc", StartTime: 10_000, Settings: domain.Settings{DurationSeconds: 30, QuestionCount: 5, GameMode: domain.ModeClassic}}
	s, _ = s.Apply(broadcast(t, "h", domain.EventStart, sig))

	during := time.UnixMilli(20_000)
	if s.RoundOver(during) {
		t.Fatalf("round over before anybody reported")
	}
	s, _ = s.Apply(broadcast(t, "g", domain.EventResult, domain.ResultReport{PlayerID: "g", Round: 0}))
	if s.RoundOver(during) {
		t.Fatalf("round over with the host still playing")
	}
	if !s.RoundOver(time.UnixMilli(40_000)) {
		t.Fatalf("round should be over once its clock ran out")
	}
	s, _ = s.Apply(broadcast(t, "h", domain.EventResult, domain.ResultReport{PlayerID: "h", Round: 0}))
	if !s.RoundOver(during) {
		t.Fatalf("round should be over once everybody reported")
	}
}
