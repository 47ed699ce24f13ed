package relay

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub maintains the set of active clients and rooms. All room state is
// owned by the Run goroutine.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[string]*Room

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	log zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Run processes registrations and messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.log.Debug().Str("room", client.roomID).Msg("client connected")

		case client := <-h.unregister:
			h.leave(client)

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			h.clients = nil
			h.rooms = nil
			return
		}
	}
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatch hands msg to the hub. It reports false once the hub stopped.
func (h *Hub) dispatch(c *Client, msg *signaling.Message) bool {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handle(c *Client, msg *signaling.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	if msg.Type == signaling.TypeAuthentication {
		h.authenticate(c, msg)
		return
	}
	if !c.authed {
		h.log.Debug().Str("room", c.roomID).Str("type", msg.Type).Msg("dropping message before authentication")
		return
	}

	room := h.rooms[c.roomID]
	if room == nil {
		return
	}

	switch msg.Type {
	case signaling.TypeNotifyParticipant:
		if msg.Username != "" {
			c.username = msg.Username
		}
		h.broadcast(room, c, &signaling.Message{
			Type:     signaling.TypeNotifyParticipant,
			Sender:   c.userID,
			Username: c.username,
		})

	case signaling.TypeStreamStatus:
		switch msg.Media {
		case signaling.MediaAudio:
			c.audioOn = msg.Status
		case signaling.MediaVideo:
			c.videoOn = msg.Status
		default:
			return
		}
		h.broadcast(room, c, &signaling.Message{
			Type:   signaling.TypeStreamStatus,
			Sender: c.userID,
			Media:  msg.Media,
			Status: msg.Status,
		})

	case signaling.TypeSendSDP, signaling.TypeAnswerSDP, signaling.TypeSendCandidate:
		target, ok := room.members[msg.Receiver]
		if !ok || target == c {
			h.log.Debug().Str("room", room.ID).Str("receiver", msg.Receiver).Msg("dropping message for unknown receiver")
			return
		}
		fwd := *msg
		fwd.Sender = c.userID
		fwd.Password = ""
		h.deliver(target, &fwd)

	default:
		h.log.Debug().Str("room", room.ID).Str("type", msg.Type).Msg("dropping unknown message")
	}
}

func (h *Hub) authenticate(c *Client, msg *signaling.Message) {
	reject := func(reason string) {
		h.log.Info().Str("room", c.roomID).Str("user", msg.UserID).Msg("authentication rejected: " + reason)
		h.deliver(c, &signaling.Message{Type: signaling.TypeAuthentication, Result: false})
	}

	if c.authed {
		reject("already authenticated")
		return
	}
	if msg.UserID == "" {
		reject("missing user id")
		return
	}

	room, ok := h.rooms[c.roomID]
	if !ok {
		room = newRoom(c.roomID, msg.Password)
		h.rooms[c.roomID] = room
		h.log.Info().Str("room", room.ID).Msg("room created")
	}
	if room.password != msg.Password {
		reject("password mismatch")
		return
	}
	if _, taken := room.members[msg.UserID]; taken {
		reject("duplicate user id")
		return
	}

	c.authed = true
	c.userID = msg.UserID
	c.username = msg.Username
	room.add(c)

	h.deliver(c, &signaling.Message{
		Type:   signaling.TypeAuthentication,
		Result: true,
		Data:   room.roster(c.userID),
	})
	h.log.Info().Str("room", room.ID).Str("user", c.userID).Int("members", len(room.members)).Msg("member joined")
}

func (h *Hub) leave(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	if !c.authed {
		return
	}
	room := h.rooms[c.roomID]
	if room == nil || !room.remove(c) {
		return
	}

	h.log.Info().Str("room", room.ID).Str("user", c.userID).Msg("member left")
	if room.empty() {
		delete(h.rooms, room.ID)
		h.log.Info().Str("room", room.ID).Msg("room deleted")
		return
	}
	h.broadcast(room, c, &signaling.Message{
		Type:   signaling.TypeUserDisconnected,
		Sender: c.userID,
	})
}

// broadcast delivers msg to every member of room except from.
func (h *Hub) broadcast(room *Room, from *Client, msg *signaling.Message) {
	for _, member := range room.others(from) {
		h.deliver(member, msg)
	}
}

// deliver queues msg for c. A client that cannot keep up is disconnected
// rather than losing frames, so its peers hear userdisconnected and drop
// their half-negotiated connections to it.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	frame, err := c.codec.Encode(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("encode failed")
		return
	}
	select {
	case c.send <- frame:
	default:
		h.log.Warn().Str("room", c.roomID).Str("user", c.userID).Str("type", msg.Type).Msg("send buffer full, disconnecting client")
		h.leave(c)
	}
}
