package peer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// State is the negotiation state of one connection.
type State int32

const (
	StateNew State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type sender struct {
	track webrtc.TrackLocal
	rtp   *webrtc.RTPSender
}

// Connection is the registry entry for one remote participant.
type Connection struct {
	PeerID string

	conn  Conn
	state atomic.Int32

	// mu serializes negotiation sequences and track mutations.
	mu      sync.Mutex
	senders map[signaling.Media][]sender
	// gen counts track mutations; offeredGen is gen as of the last offer.
	gen        uint64
	offeredGen uint64
	// pending is set when negotiation was requested while it could not run.
	pending bool

	closeOnce sync.Once
	closeErr  error
}

func newConnection(peerID string, conn Conn) *Connection {
	return &Connection{
		PeerID:  peerID,
		conn:    conn,
		senders: make(map[signaling.Media][]sender),
	}
}

// Conn returns the underlying connection handle.
func (c *Connection) Conn() Conn {
	return c.conn
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// setState moves to s unless the connection is already closed.
func (c *Connection) setState(s State) bool {
	for {
		old := c.state.Load()
		if State(old) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(old, int32(s)) {
			return true
		}
	}
}

// AttachTracks adds every track not already attached under media and
// reports how many were added.
func (c *Connection) AttachTracks(media signaling.Media, tracks []webrtc.TrackLocal) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return 0, nil
	}

	added := 0
	for _, track := range tracks {
		if c.hasTrackLocked(media, track) {
			continue
		}
		rtp, err := c.conn.AddTrack(track)
		if err != nil {
			return added, err
		}
		c.senders[media] = append(c.senders[media], sender{track: track, rtp: rtp})
		c.gen++
		added++
	}
	return added, nil
}

// DetachTracks removes every sender recorded under media and reports how
// many were removed.
func (c *Connection) DetachTracks(media signaling.Media) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.senders[media]
	delete(c.senders, media)
	if len(list) == 0 || c.State() == StateClosed {
		return 0, nil
	}

	var firstErr error
	for _, s := range list {
		if err := c.conn.RemoveTrack(s.rtp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.gen++
	return len(list), firstErr
}

// Senders returns the sender handles recorded under media.
func (c *Connection) Senders(media signaling.Media) []*webrtc.RTPSender {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*webrtc.RTPSender, 0, len(c.senders[media]))
	for _, s := range c.senders[media] {
		out = append(out, s.rtp)
	}
	return out
}

func (c *Connection) hasTrackLocked(media signaling.Media, track webrtc.TrackLocal) bool {
	for _, s := range c.senders[media] {
		if s.track == track {
			return true
		}
	}
	return false
}

// Close closes the underlying connection once. It does not wait for an
// in-flight negotiation step.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
