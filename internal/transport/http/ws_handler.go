package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"math-battle/internal/app"
	"math-battle/internal/domain"
	"math-battle/internal/lobby"
)

type WSHandler struct {
	rooms    *app.RoomService
	upgrader websocket.Upgrader
}

func NewWSHandler(rooms *app.RoomService) *WSHandler {
	return &WSHandler{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Message types on the room socket.
const (
	MsgJoined    = "joined"
	MsgPresence  = "presence"
	MsgBroadcast = "broadcast"
	MsgLeave     = "leave"
	MsgAck       = "ack"
	MsgError     = "error"
)

// inboundMessage is a client request. ID, when set, is echoed on the ack or
// error that answers it.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	ID      int64  `json:"id,omitempty"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorMessage(id int64, err error) outboundMessage[any] {
	return outboundMessage[any]{
		Type:    MsgError,
		ID:      id,
		Payload: errorPayload{Code: domain.ErrorCode(err), Message: err.Error()},
	}
}

// ServeWS upgrades HTTP requests to websockets and attaches them to a room.
//
//	GET /ws?room=party:ABC123&id=u1&name=Ada&guest=1&avatar=...&create=1
//
// The first message is either joined (with the stored participant) or an
// error. After that the socket carries the room's presence and broadcast
// envelopes until the client leaves or disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	room := q.Get("room")
	self := domain.Participant{
		ID:          q.Get("id"),
		DisplayName: q.Get("name"),
		AvatarURL:   q.Get("avatar"),
		IsGuest:     flag(q.Get("guest")),
	}
	create := flag(q.Get("create"))
	if room == "" || self.ID == "" || self.DisplayName == "" {
		http.Error(w, "missing room, id, or name", http.StatusBadRequest)
		return
	}
	if !lobby.ValidRoom(room) {
		http.Error(w, domain.ErrInvalidCode.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// The request context is tied to the hijacked connection; cleanup must
	// outlive it.
	ctx := context.WithoutCancel(r.Context())

	joined, err := h.rooms.Join(r.Context(), room, self, create)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(0, err))
		return
	}
	leave := func() {
		leaveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.rooms.Leave(leaveCtx, room, joined.ID); err != nil {
			log.Warn().Err(err).Str("room", room).Str("participant", joined.ID).Msg("leave on disconnect")
		}
	}
	defer leave()

	updates, cancel, err := h.rooms.Subscribe(r.Context(), room)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(0, err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("room", room).Msg("ws write error")
				return
			}
		}
	}()

	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	// joined goes out ahead of any envelope.
	push(outboundMessage[any]{Type: MsgJoined, Payload: joined})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case env, ok := <-updates:
				if !ok {
					// Evicted or the room is gone; drop the socket so the
					// client notices.
					_ = conn.Close()
					return
				}
				typ := MsgBroadcast
				if env.Kind == domain.KindPresence {
					typ = MsgPresence
				}
				select {
				case send <- outboundMessage[any]{Type: typ, Payload: env}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type == MsgLeave {
			leave()
			break
		}
		if inbound.Type != MsgBroadcast {
			push(outboundMessage[any]{Type: MsgError, ID: inbound.ID, Payload: errorPayload{Code: "unsupported", Message: "unsupported message type"}})
			continue
		}
		if err := h.rooms.Broadcast(r.Context(), room, joined.ID, inbound.Event, inbound.Payload); err != nil {
			push(errorMessage(inbound.ID, err))
			continue
		}
		if inbound.ID != 0 {
			push(outboundMessage[any]{Type: MsgAck, ID: inbound.ID, Payload: nil})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func flag(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
