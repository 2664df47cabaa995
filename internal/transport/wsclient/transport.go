// Package wsclient is a lobby.Transport speaking the room WebSocket protocol
// served at /ws.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// ErrConnectionClosed is returned for requests pending when the socket ends.
var ErrConnectionClosed = errors.New("room connection closed")

const handshakeTimeout = 10 * time.Second

type message struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p errorPayload) err() error {
	return domain.ErrorFromCode(p.Code, p.Message)
}

// Transport opens one socket per joined room.
type Transport struct {
	endpoint string
	dialer   *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*conn
}

// New takes the server base URL (http or ws scheme).
func New(serverURL string) (*Transport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return &Transport{
		endpoint: u.String(),
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		conns:    make(map[string]*conn),
	}, nil
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan error

	out  chan domain.Envelope
	done chan struct{}
	once sync.Once
}

func (t *Transport) Join(ctx context.Context, room string, self domain.Participant, create bool) (<-chan domain.Envelope, error) {
	t.mu.Lock()
	_, dup := t.conns[room]
	t.mu.Unlock()
	if dup {
		return nil, domain.ErrAlreadyInRoom
	}

	q := url.Values{}
	q.Set("room", room)
	q.Set("id", self.ID)
	q.Set("name", self.DisplayName)
	if self.AvatarURL != "" {
		q.Set("avatar", self.AvatarURL)
	}
	if self.IsGuest {
		q.Set("guest", "1")
	}
	if create {
		q.Set("create", "1")
	}
	ws, _, err := t.dialer.DialContext(ctx, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", room, err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	var first message
	if err := ws.ReadJSON(&first); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read join reply: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	switch first.Type {
	case "joined":
	case "error":
		ws.Close()
		var p errorPayload
		if err := json.Unmarshal(first.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode join error: %w", err)
		}
		return nil, p.err()
	default:
		ws.Close()
		return nil, fmt.Errorf("unexpected join reply %q", first.Type)
	}

	c := &conn{
		ws:      ws,
		pending: make(map[int64]chan error),
		out:     make(chan domain.Envelope, 64),
		done:    make(chan struct{}),
	}
	t.mu.Lock()
	t.conns[room] = c
	t.mu.Unlock()

	go func() {
		c.read(room)
		// A socket that died on its own is no longer joined.
		t.mu.Lock()
		if t.conns[room] == c {
			delete(t.conns, room)
		}
		t.mu.Unlock()
	}()
	return c.out, nil
}

// Broadcast sends an event and waits for the server to accept it, so host
// checks and membership errors surface here.
func (t *Transport) Broadcast(ctx context.Context, room, event string, payload json.RawMessage) error {
	t.mu.Lock()
	c, ok := t.conns[room]
	t.mu.Unlock()
	if !ok {
		return domain.ErrNotInRoom
	}

	id := c.nextID.Add(1)
	reply := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(message{Type: "broadcast", ID: id, Event: event, Payload: payload}); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave tells the server and closes the socket; the stream closes once the
// reader notices.
func (t *Transport) Leave(_ context.Context, room string) error {
	t.mu.Lock()
	c, ok := t.conns[room]
	delete(t.conns, room)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.write(message{Type: "leave"})
	c.close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("leave %s: %w", room, err)
	}
	return nil
}

func (c *conn) write(msg message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *conn) read(room string) {
	defer close(c.out)
	defer c.close()

	for {
		var msg message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("room", room).Msg("room socket closed")
			}
			return
		}
		switch msg.Type {
		case "presence", "broadcast":
			var env domain.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				log.Warn().Err(err).Str("room", room).Msg("discarding malformed envelope")
				continue
			}
			select {
			case c.out <- env:
			case <-c.done:
				return
			}
		case "ack":
			c.resolve(msg.ID, nil)
		case "error":
			var p errorPayload
			_ = json.Unmarshal(msg.Payload, &p)
			if msg.ID == 0 {
				log.Warn().Str("room", room).Str("code", p.Code).Msg(p.Message)
				continue
			}
			c.resolve(msg.ID, p.err())
		}
	}
}

func (c *conn) resolve(id int64, err error) {
	c.pendingMu.Lock()
	reply, ok := c.pending[id]
	c.pendingMu.Unlock()
	if ok {
		reply <- err
	}
}
