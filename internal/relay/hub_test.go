package relay

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// newTestClient registers a client with a send buffer of size frames on a
// hub driven directly from the test goroutine.
func newTestClient(h *Hub, room string, size int) *Client {
	c := &Client{
		hub:    h,
		codec:  signaling.JSONCodec{},
		roomID: room,
		send:   make(chan []byte, size),
	}
	h.clients[c] = struct{}{}
	return c
}

func drain(t *testing.T, c *Client) []*signaling.Message {
	t.Helper()
	var out []*signaling.Message
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			msg, err := c.codec.Decode(frame)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}

func isClosed(c *Client) bool {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func TestSlowClientIsDisconnected(t *testing.T) {
	h := NewHub(zerolog.Nop())
	alice := newTestClient(h, "lobby", 16)
	bob := newTestClient(h, "lobby", 2)

	h.handle(alice, &signaling.Message{Type: signaling.TypeAuthentication, UserID: "alice", Password: "pw"})
	h.handle(bob, &signaling.Message{Type: signaling.TypeAuthentication, UserID: "bob", Password: "pw"})
	require.Len(t, drain(t, alice), 1)

	// bob's reader stalls: the auth reply and one offer fill its buffer.
	offer := &signaling.Message{Type: signaling.TypeSendSDP, Receiver: "bob", SDP: "v=0", SDPType: "offer"}
	h.handle(alice, offer)
	require.Len(t, bob.send, 2)

	h.handle(alice, &signaling.Message{Type: signaling.TypeSendCandidate, Receiver: "bob", Candidate: &signaling.Candidate{Candidate: "candidate:1"}})

	require.True(t, isClosed(bob))
	_, still := h.clients[bob]
	require.False(t, still)
	require.NotContains(t, h.rooms["lobby"].members, "bob")

	msgs := drain(t, alice)
	require.Len(t, msgs, 1)
	require.Equal(t, signaling.TypeUserDisconnected, msgs[0].Type)
	require.Equal(t, "bob", msgs[0].Sender)

	// Later traffic for bob is dropped, and its own unregister is a no-op.
	h.handle(alice, offer)
	h.leave(bob)
	require.Empty(t, drain(t, alice))
}

func TestEvictionCascadeSkipsGoneClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	alice := newTestClient(h, "lobby", 16)
	bob := newTestClient(h, "lobby", 1)
	carol := newTestClient(h, "lobby", 1)

	for _, m := range []struct {
		c  *Client
		id string
	}{{alice, "alice"}, {bob, "bob"}, {carol, "carol"}} {
		h.handle(m.c, &signaling.Message{Type: signaling.TypeAuthentication, UserID: m.id, Password: "pw"})
	}

	// Both slow members are full with their auth replies; one broadcast
	// evicts them without writing to a closed channel.
	h.handle(alice, &signaling.Message{Type: signaling.TypeStreamStatus, Media: signaling.MediaVideo, Status: true})

	require.True(t, isClosed(bob))
	require.True(t, isClosed(carol))
	require.Len(t, h.rooms["lobby"].members, 1)
}
