package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// DefaultCountdown is how far in the future a start is scheduled.
const DefaultCountdown = 3 * time.Second

const createAttempts = 3

// Options wires a Client to its collaborators.
type Options struct {
	Transport Transport
	Identity  Identity
	// Lobbies is required only for authenticated lobbies.
	Lobbies  LobbyStore
	Profiles Profiles
	Clock    clockwork.Clock
	// Countdown defaults to DefaultCountdown.
	Countdown time.Duration
	// PublicURL is the base of party join links.
	PublicURL string
}

// Client drives one participant through the room protocol. Inbound events
// are applied on a single goroutine per joined room; the resulting notices
// are queued on Notices without bound so a slow reader never stalls the room.
type Client struct {
	opts Options

	mu    sync.Mutex
	state State
	sess  *session

	inbox   chan Notice
	notices chan Notice
	closing chan struct{}
	once    sync.Once
	pumped  chan struct{}
}

type session struct {
	room  string
	self  domain.Participant
	lobby *domain.LobbyRecord
	done  chan struct{}
}

// NewClient builds a client. Close releases it.
func NewClient(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("lobby: transport is required")
	}
	if opts.Identity == nil {
		opts.Identity = Guest
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Countdown <= 0 {
		opts.Countdown = DefaultCountdown
	}
	c := &Client{
		opts:    opts,
		inbox:   make(chan Notice),
		notices: make(chan Notice),
		closing: make(chan struct{}),
		pumped:  make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

// Close leaves any joined room and stops the client. Notices is closed once
// Close returns.
func (c *Client) Close(ctx context.Context) error {
	err := c.Leave(ctx)
	c.once.Do(func() { close(c.closing) })
	<-c.pumped
	return err
}

// Notices delivers what changed, in order.
func (c *Client) Notices() <-chan Notice {
	return c.notices
}

// State returns a copy of the current view.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Participants = slices.Clone(s.Participants)
	s.Results = slices.Clone(s.Results)
	if s.Signal != nil {
		sig := *s.Signal
		s.Signal = &sig
	}
	return s
}

// JoinURL is the link a guest scans to join the current party.
func (c *Client) JoinURL() string {
	c.mu.Lock()
	code := c.state.Code
	active := c.sess != nil
	c.mu.Unlock()
	if !active {
		return ""
	}
	return JoinURL(c.opts.PublicURL, code)
}

// JoinURL builds a guest join link for code.
func JoinURL(base, code string) string {
	q := url.Values{}
	q.Set("lobby", code)
	q.Set("guest", "1")
	return strings.TrimRight(base, "/") + "/?" + q.Encode()
}

// CreateParty opens a new party room with this client as host. Signed-in
// users host under their account, everybody else under a guest id.
func (c *Client) CreateParty(ctx context.Context, displayName string) (string, error) {
	if err := c.ensureIdle(); err != nil {
		return "", err
	}
	self, err := c.selfParticipant(ctx, displayName)
	if err != nil {
		return "", err
	}
	self.IsHost = true

	var lastErr error
	for i := 0; i < createAttempts; i++ {
		code := NewCode()
		err := c.join(ctx, PartyRoom(code), self, true, nil, domain.DefaultPartySettings())
		if errors.Is(err, domain.ErrRoomExists) {
			lastErr = err
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", lastErr
}

// JoinAsGuest joins a party room without signing in.
func (c *Client) JoinAsGuest(ctx context.Context, code, displayName string) error {
	code, err := ValidateCode(code)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		return domain.ErrEmptyDisplayName
	}
	if err := c.ensureIdle(); err != nil {
		return err
	}
	self := domain.Participant{ID: newGuestID(), DisplayName: name, IsGuest: true}
	return c.join(ctx, PartyRoom(code), self, false, nil, domain.DefaultPartySettings())
}

// JoinAsUser joins a party room under the signed-in account.
func (c *Client) JoinAsUser(ctx context.Context, code string) error {
	code, err := ValidateCode(code)
	if err != nil {
		return err
	}
	if !c.opts.Identity.IsAuthenticated() {
		return domain.ErrUnauthenticated
	}
	if err := c.ensureIdle(); err != nil {
		return err
	}
	self, err := c.selfParticipant(ctx, "")
	if err != nil {
		return err
	}
	return c.join(ctx, PartyRoom(code), self, false, nil, domain.DefaultPartySettings())
}

// CreateLobby stores a new authenticated lobby and joins its room as host.
func (c *Client) CreateLobby(ctx context.Context) (string, error) {
	if c.opts.Lobbies == nil {
		return "", errors.New("lobby: no lobby store configured")
	}
	if !c.opts.Identity.IsAuthenticated() {
		return "", domain.ErrUnauthenticated
	}
	if err := c.ensureIdle(); err != nil {
		return "", err
	}
	self, err := c.selfParticipant(ctx, "")
	if err != nil {
		return "", err
	}
	self.IsHost = true

	var rec domain.LobbyRecord
	for i := 0; ; i++ {
		rec, err = c.opts.Lobbies.Create(ctx, domain.LobbyRecord{
			ID:        uuid.NewString(),
			Code:      NewCode(),
			OwnerID:   self.ID,
			Status:    domain.LobbyWaiting,
			Settings:  domain.DefaultLobbySettings(),
			CreatedAt: c.opts.Clock.Now(),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrRoomExists) || i == createAttempts-1 {
			return "", fmt.Errorf("create lobby: %w", err)
		}
	}
	if err := c.opts.Lobbies.AddParticipant(ctx, rec.ID, self.ID); err != nil {
		c.discardLobby(rec.ID)
		return "", fmt.Errorf("add owner: %w", err)
	}
	if err := c.join(ctx, LobbyRoom(rec.Code), self, true, &rec, rec.Settings); err != nil {
		c.discardLobby(rec.ID)
		return "", err
	}
	return rec.Code, nil
}

// JoinLobby joins an authenticated lobby that has not started yet.
func (c *Client) JoinLobby(ctx context.Context, code string) error {
	if c.opts.Lobbies == nil {
		return errors.New("lobby: no lobby store configured")
	}
	code, err := ValidateCode(code)
	if err != nil {
		return err
	}
	if !c.opts.Identity.IsAuthenticated() {
		return domain.ErrUnauthenticated
	}
	if err := c.ensureIdle(); err != nil {
		return err
	}
	rec, err := c.opts.Lobbies.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if rec.Status != domain.LobbyWaiting {
		return domain.ErrRoomInProgress
	}
	self, err := c.selfParticipant(ctx, "")
	if err != nil {
		return err
	}
	if err := c.opts.Lobbies.AddParticipant(ctx, rec.ID, self.ID); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if err := c.join(ctx, LobbyRoom(rec.Code), self, false, &rec, rec.Settings); err != nil {
		if rmErr := c.opts.Lobbies.RemoveParticipant(context.WithoutCancel(ctx), rec.ID, self.ID); rmErr != nil {
			log.Warn().Err(rmErr).Str("lobby", rec.ID).Msg("roll back participant")
		}
		return err
	}
	return nil
}

// UpdateSettings broadcasts new settings. Host only; the host's own view
// changes when the broadcast comes back.
func (c *Client) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	room, err := c.hostRoom()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.opts.Transport.Broadcast(ctx, room, domain.EventSettingsUpdate, payload)
}

// Start schedules the next round a countdown from now under a fresh seed.
// Every participant, the host included, crosses into play when the start
// broadcast arrives. The next round may only start once the current one is
// over.
func (c *Client) Start(ctx context.Context) (domain.StartSignal, error) {
	c.mu.Lock()
	sess, st := c.sess, c.state
	c.mu.Unlock()

	if sess == nil {
		return domain.StartSignal{}, domain.ErrNotInRoom
	}
	if !st.IsHost() {
		return domain.StartSignal{}, domain.ErrNotHost
	}
	if len(st.Participants) < 2 {
		return domain.StartSignal{}, domain.ErrNotEnoughPlayers
	}
	if !st.RoundOver(c.opts.Clock.Now()) {
		return domain.StartSignal{}, domain.ErrRoundInProgress
	}
	sig := domain.StartSignal{
		Seed:      NewSeed(),
		StartTime: c.opts.Clock.Now().Add(c.opts.Countdown).UnixMilli(),
		Settings:  st.Settings,
		Round:     st.Round() + 1,
	}
	if sess.lobby != nil {
		if err := c.opts.Lobbies.MarkStarting(ctx, sess.lobby.ID, sig.Seed, sig.StartTime); err != nil {
			return domain.StartSignal{}, fmt.Errorf("mark lobby starting: %w", err)
		}
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return domain.StartSignal{}, err
	}
	if err := c.opts.Transport.Broadcast(ctx, sess.room, domain.EventStart, payload); err != nil {
		return domain.StartSignal{}, err
	}
	log.Info().Str("room", sess.room).Int("round", sig.Round).Int64("start_time", sig.StartTime).Msg("start broadcast")
	return sig, nil
}

// ReportResult shares this client's result for a round with the room.
func (c *Client) ReportResult(ctx context.Context, round int, result domain.RoundResult) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return domain.ErrNotInRoom
	}
	payload, err := json.Marshal(domain.ResultReport{
		PlayerID:    sess.self.ID,
		DisplayName: sess.self.DisplayName,
		Round:       round,
		Result:      result,
	})
	if err != nil {
		return err
	}
	return c.opts.Transport.Broadcast(ctx, sess.room, domain.EventResult, payload)
}

// Leave leaves the current room. A leaving host closes the room for
// everybody else. Leaving while not in a room is a no-op.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	wasHost := c.state.IsHost()
	c.sess = nil
	c.state = State{}
	c.mu.Unlock()

	if wasHost {
		if err := c.opts.Transport.Broadcast(ctx, sess.room, domain.EventLobbyClosed, json.RawMessage(`{}`)); err != nil {
			log.Warn().Err(err).Str("room", sess.room).Msg("announce closure")
		}
	}
	err := c.teardown(ctx, sess, wasHost)

	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (c *Client) teardown(ctx context.Context, sess *session, wasHost bool) error {
	err := c.opts.Transport.Leave(ctx, sess.room)
	if err != nil {
		err = fmt.Errorf("leave %s: %w", sess.room, err)
	}
	if sess.lobby != nil {
		if rmErr := c.opts.Lobbies.RemoveParticipant(ctx, sess.lobby.ID, sess.self.ID); rmErr != nil {
			log.Warn().Err(rmErr).Str("lobby", sess.lobby.ID).Msg("remove participant")
		}
		if wasHost {
			if delErr := c.opts.Lobbies.Delete(ctx, sess.lobby.ID); delErr != nil {
				log.Warn().Err(delErr).Str("lobby", sess.lobby.ID).Msg("delete lobby")
			}
		}
	}
	return err
}

func (c *Client) join(ctx context.Context, room string, self domain.Participant, create bool, rec *domain.LobbyRecord, settings domain.Settings) error {
	envs, err := c.opts.Transport.Join(ctx, room, self, create)
	if err != nil {
		return err
	}
	sess := &session{room: room, self: self, lobby: rec, done: make(chan struct{})}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		if err := c.opts.Transport.Leave(ctx, room); err != nil {
			log.Warn().Err(err).Str("room", room).Msg("undo concurrent join")
		}
		return domain.ErrAlreadyInRoom
	}
	c.sess = sess
	c.state = NewState(room, self.ID, settings)
	c.mu.Unlock()

	log.Info().Str("room", room).Str("participant", self.ID).Bool("host", self.IsHost).Msg("joined room")
	go c.loop(sess, envs)
	return nil
}

func (c *Client) loop(sess *session, envs <-chan domain.Envelope) {
	defer close(sess.done)

	for env := range envs {
		c.mu.Lock()
		if c.sess != sess {
			c.mu.Unlock()
			continue
		}
		next, notices := c.state.Apply(env)
		c.state = next
		closed := next.Phase == PhaseClosed
		if closed {
			c.sess = nil
		}
		c.mu.Unlock()

		if closed {
			log.Info().Str("room", sess.room).Str("reason", string(next.Reason)).Msg("room closed")
			// Leave before announcing so the owner may join elsewhere right
			// away. The transport closes envs once we have left; keep draining.
			if err := c.teardown(context.Background(), sess, false); err != nil {
				log.Warn().Err(err).Str("room", sess.room).Msg("forced leave")
			}
		}
		c.emit(notices)
	}

	c.mu.Lock()
	dropped := c.sess == sess
	if dropped {
		c.sess = nil
		c.state, _ = c.state.close(ReasonDisconnected)
	}
	c.mu.Unlock()
	if dropped {
		log.Warn().Str("room", sess.room).Msg("room connection lost")
		c.emit([]Notice{{Kind: NoticeClosed, Reason: ReasonDisconnected}})
	}
}

func (c *Client) emit(notices []Notice) {
	for _, n := range notices {
		select {
		case c.inbox <- n:
		case <-c.closing:
			return
		}
	}
}

// pump moves notices from inbox to the reader through an unbounded queue.
func (c *Client) pump() {
	defer close(c.pumped)
	defer close(c.notices)

	var queue []Notice
	for {
		var (
			out  chan Notice
			head Notice
		)
		if len(queue) > 0 {
			out, head = c.notices, queue[0]
		}
		select {
		case n := <-c.inbox:
			queue = append(queue, n)
		case out <- head:
			queue = queue[1:]
		case <-c.closing:
			return
		}
	}
}

func (c *Client) ensureIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return domain.ErrAlreadyInRoom
	}
	return nil
}

func (c *Client) hostRoom() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return "", domain.ErrNotInRoom
	}
	if !c.state.IsHost() {
		return "", domain.ErrNotHost
	}
	return c.sess.room, nil
}

func (c *Client) selfParticipant(ctx context.Context, displayName string) (domain.Participant, error) {
	userID, ok := c.opts.Identity.CurrentUserID()
	if !ok {
		name := strings.TrimSpace(displayName)
		if name == "" {
			name = "Player"
		}
		return domain.Participant{ID: newGuestID(), DisplayName: name, IsGuest: true}, nil
	}
	name := strings.TrimSpace(displayName)
	if name == "" && c.opts.Profiles != nil {
		profileName, err := c.opts.Profiles.DisplayName(ctx, userID)
		switch {
		case err == nil:
			name = profileName
		case !errors.Is(err, domain.ErrPlayerNotFound):
			return domain.Participant{}, fmt.Errorf("load profile: %w", err)
		}
	}
	if name == "" {
		name = "Player"
	}
	return domain.Participant{ID: userID, DisplayName: name}, nil
}

func (c *Client) discardLobby(id string) {
	if err := c.opts.Lobbies.Delete(context.Background(), id); err != nil {
		log.Warn().Err(err).Str("lobby", id).Msg("discard lobby")
	}
}

// NewSeed returns a fresh opaque round seed.
func NewSeed() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newGuestID() string {
	return domain.GuestIDPrefix + uuid.NewString()
}
