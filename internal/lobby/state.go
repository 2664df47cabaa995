package lobby

import (
	"encoding/json"
	"slices"
	"sort"
	"time"

	"math-battle/internal/domain"
)

// Phase is the local view of a room.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhasePlaying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting"
	case PhasePlaying:
		return "playing"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// CloseReason says why a room was closed under a client.
type CloseReason string

const (
	ReasonHostLeft     CloseReason = "host-left"
	ReasonHostClosed   CloseReason = "host-closed"
	ReasonDisconnected CloseReason = "disconnected"
)

// NoticeKind tags a Notice.
type NoticeKind int

const (
	NoticeParticipants NoticeKind = iota + 1
	NoticeSettings
	NoticeStarted
	NoticeResult
	NoticeClosed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeParticipants:
		return "participants"
	case NoticeSettings:
		return "settings"
	case NoticeStarted:
		return "started"
	case NoticeResult:
		return "result"
	case NoticeClosed:
		return "closed"
	}
	return "unknown"
}

// Notice tells the owner of a client what changed. Only the fields matching
// Kind are set.
type Notice struct {
	Kind         NoticeKind
	Participants []domain.Participant
	HostID       string
	Settings     domain.Settings
	Signal       domain.StartSignal
	Result       domain.ResultReport
	Reason       CloseReason
}

// State is one client's view of a room. It is a value: Apply returns the
// next state and never modifies the receiver.
type State struct {
	Room         string
	Code         string
	SelfID       string
	Participants []domain.Participant
	HostID       string
	Settings     domain.Settings
	Signal       *domain.StartSignal
	Results      []domain.ResultReport
	Phase        Phase
	Reason       CloseReason

	// held keeps host-only broadcasts that arrived before any host was
	// elected; they are replayed once presence names one.
	held []domain.Envelope
}

// maxHeld bounds the broadcasts kept while no host is known.
const maxHeld = 16

// NewState is the view right after joining room as self.
func NewState(room, selfID string, settings domain.Settings) State {
	return State{
		Room:     room,
		Code:     CodeOf(room),
		SelfID:   selfID,
		Settings: settings,
		Phase:    PhaseWaiting,
	}
}

// IsHost reports whether this client is the elected host.
func (s State) IsHost() bool {
	return s.HostID != "" && s.HostID == s.SelfID
}

// Active reports whether the client still belongs to a room.
func (s State) Active() bool {
	return s.Phase == PhaseWaiting || s.Phase == PhasePlaying
}

// Round is the index of the round currently or last played, -1 before the
// first start.
func (s State) Round() int {
	if s.Signal == nil {
		return -1
	}
	return s.Signal.Round
}

// RoundOver reports whether the last started round has ended at now: its
// clock ran out or every present participant reported a result for it.
func (s State) RoundOver(now time.Time) bool {
	if s.Phase != PhasePlaying || s.Signal == nil {
		return true
	}
	end := s.Signal.StartAt().Add(time.Duration(s.Signal.Settings.DurationSeconds) * time.Second)
	if !now.Before(end) {
		return true
	}
	for _, p := range s.Participants {
		if !s.reported(p.ID, s.Signal.Round) {
			return false
		}
	}
	return true
}

func (s State) reported(id string, round int) bool {
	for _, r := range s.Results {
		if r.PlayerID == id && r.Round == round {
			return true
		}
	}
	return false
}

// Apply folds one inbound envelope into the state.
func (s State) Apply(env domain.Envelope) (State, []Notice) {
	if !s.Active() {
		return s, nil
	}
	switch env.Kind {
	case domain.KindPresence:
		return s.applyPresence(env.Members)
	case domain.KindBroadcast:
		return s.applyBroadcast(env)
	}
	return s, nil
}

func (s State) applyPresence(members []domain.Participant) (State, []Notice) {
	if s.HostID != "" && !containsID(members, s.HostID) {
		return s.close(ReasonHostLeft)
	}
	// A snapshot without us means the room went away under us.
	if s.SelfID != "" && !containsID(members, s.SelfID) {
		if len(members) == 0 {
			return s.close(ReasonHostLeft)
		}
		return s.close(ReasonDisconnected)
	}

	s.Participants = slices.Clone(members)
	sort.SliceStable(s.Participants, func(i, j int) bool {
		a, b := s.Participants[i], s.Participants[j]
		if a.JoinOrder != b.JoinOrder {
			return a.JoinOrder < b.JoinOrder
		}
		return a.ID < b.ID
	})
	elected := false
	if s.HostID == "" {
		if host, ok := ElectHost(s.Participants); ok {
			s.HostID = host
			elected = true
		}
	}
	notices := []Notice{{
		Kind:         NoticeParticipants,
		Participants: slices.Clone(s.Participants),
		HostID:       s.HostID,
	}}
	if !elected || len(s.held) == 0 {
		return s, notices
	}

	held := s.held
	s.held = nil
	for _, env := range held {
		if !s.Active() {
			break
		}
		var more []Notice
		s, more = s.applyBroadcast(env)
		notices = append(notices, more...)
	}
	return s, notices
}

func (s State) applyBroadcast(env domain.Envelope) (State, []Notice) {
	if s.HostID == "" && hostOnly(env.Event) {
		if len(s.held) < maxHeld {
			s.held = append(slices.Clip(s.held), env)
		}
		return s, nil
	}
	switch env.Event {
	case domain.EventStart:
		if env.From != s.HostID {
			return s, nil
		}
		var sig domain.StartSignal
		if err := json.Unmarshal(env.Payload, &sig); err != nil || sig.Seed == "" {
			return s, nil
		}
		if s.Signal != nil && sig.Round <= s.Signal.Round {
			return s, nil
		}
		s.Signal = &sig
		s.Settings = sig.Settings
		s.Phase = PhasePlaying
		return s, []Notice{{Kind: NoticeStarted, Signal: sig}}

	case domain.EventSettingsUpdate:
		if env.From != s.HostID || s.Phase != PhaseWaiting {
			return s, nil
		}
		var settings domain.Settings
		if err := json.Unmarshal(env.Payload, &settings); err != nil || settings.Validate() != nil {
			return s, nil
		}
		s.Settings = settings
		return s, []Notice{{Kind: NoticeSettings, Settings: settings}}

	case domain.EventLobbyClosed:
		if env.From != s.HostID {
			return s, nil
		}
		return s.close(ReasonHostClosed)

	case domain.EventResult:
		var rep domain.ResultReport
		if err := json.Unmarshal(env.Payload, &rep); err != nil || rep.PlayerID != env.From {
			return s, nil
		}
		for _, have := range s.Results {
			if have.PlayerID == rep.PlayerID && have.Round == rep.Round {
				return s, nil
			}
		}
		s.Results = append(slices.Clip(s.Results), rep)
		return s, []Notice{{Kind: NoticeResult, Result: rep}}
	}
	return s, nil
}

func (s State) close(reason CloseReason) (State, []Notice) {
	s.Phase = PhaseClosed
	s.Reason = reason
	s.Participants = nil
	s.held = nil
	return s, []Notice{{Kind: NoticeClosed, Reason: reason}}
}

func hostOnly(event string) bool {
	switch event {
	case domain.EventStart, domain.EventSettingsUpdate, domain.EventLobbyClosed:
		return true
	}
	return false
}

func containsID(members []domain.Participant, id string) bool {
	for _, m := range members {
		if m.ID == id {
			return true
		}
	}
	return false
}
