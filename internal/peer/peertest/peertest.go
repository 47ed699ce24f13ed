// Package peertest provides a scripted in-memory peer connection for
// exercising negotiation without a network.
package peertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

var (
	ErrMalformedSDP  = errors.New("malformed sdp")
	ErrWrongState    = errors.New("invalid signaling state")
	ErrNoRemote      = errors.New("remote description not set")
	ErrUnknownSender = errors.New("unknown sender")
)

// sessions numbers every Conn so descriptions from different connections
// never share an origin, even across factories.
var sessions atomic.Uint64

// Conn follows the offer/answer state machine of a real peer connection.
// Descriptions must start with "v=0" to be accepted. Like pion, it has no
// local rollback.
type Conn struct {
	ID      int
	Session uint64

	mu         sync.Mutex
	state      webrtc.SignalingState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	senders    []*webrtc.RTPSender
	tracks     map[*webrtc.RTPSender]webrtc.TrackLocal
	rtcp       []rtcp.Packet
	closeCount int
	version    int

	onNegotiation func()
	onCandidate   func(*webrtc.ICECandidate)
	onTrack       func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState       func(webrtc.PeerConnectionState)
}

var _ peer.Conn = (*Conn)(nil)

func NewConn(id int) *Conn {
	return &Conn{
		ID:      id,
		Session: sessions.Add(1),
		state:   webrtc.SignalingStateStable,
		tracks:  make(map[*webrtc.RTPSender]webrtc.TrackLocal),
	}
}

func (c *Conn) describe(kind string) string {
	c.version++
	var b strings.Builder
	fmt.Fprintf(&b, "v=0\r\no=fake %d %d IN IP4 127.0.0.1\r\ns=%s\r\n", c.Session, c.version, kind)
	for _, s := range c.senders {
		fmt.Fprintf(&b, "a=track:%s\r\n", c.tracks[s].ID())
	}
	return b.String()
}

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == webrtc.SignalingStateClosed {
		return webrtc.SessionDescription{}, webrtc.ErrConnectionClosed
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: c.describe("offer")}, nil
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, ErrWrongState
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: c.describe("answer")}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case desc.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		c.state = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveRemoteOffer:
		c.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("%w: set local %s in %s", ErrWrongState, desc.Type, c.state)
	}
	d := desc
	c.local = &d
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasPrefix(desc.SDP, "v=0") {
		return ErrMalformedSDP
	}
	switch {
	case desc.Type == webrtc.SDPTypeOffer && c.state == webrtc.SignalingStateStable:
		c.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && c.state == webrtc.SignalingStateHaveLocalOffer:
		c.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("%w: set remote %s in %s", ErrWrongState, desc.Type, c.state)
	}
	d := desc
	c.remote = &d
	return nil
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return ErrNoRemote
	}
	c.applied = append(c.applied, cand)
	return nil
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	if c.state == webrtc.SignalingStateClosed {
		c.mu.Unlock()
		return nil, webrtc.ErrConnectionClosed
	}
	s := &webrtc.RTPSender{}
	c.senders = append(c.senders, s)
	c.tracks[s] = track
	h := c.onNegotiation
	c.mu.Unlock()

	if h != nil {
		h()
	}
	return s, nil
}

func (c *Conn) RemoveTrack(s *webrtc.RTPSender) error {
	c.mu.Lock()
	idx := -1
	for i, v := range c.senders {
		if v == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownSender
	}
	c.senders = append(c.senders[:idx], c.senders[idx+1:]...)
	delete(c.tracks, s)
	h := c.onNegotiation
	c.mu.Unlock()

	if h != nil {
		h()
	}
	return nil
}

func (c *Conn) OnNegotiationNeeded(f func()) {
	c.mu.Lock()
	c.onNegotiation = f
	c.mu.Unlock()
}

func (c *Conn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *Conn) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *Conn) WriteRTCP(pkts []rtcp.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtcp = append(c.rtcp, pkts...)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.state = webrtc.SignalingStateClosed
	h := c.onState
	c.mu.Unlock()

	if h != nil {
		h(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

// EmitCandidate fires the local candidate callback as ICE gathering would.
func (c *Conn) EmitCandidate(address string, port uint16) {
	c.mu.Lock()
	h := c.onCandidate
	c.mu.Unlock()
	if h == nil {
		return
	}
	h(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    address,
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	h(nil)
}

// Applied returns the remote candidates applied so far, in order.
func (c *Conn) Applied() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.applied))
	for _, cand := range c.applied {
		out = append(out, cand.Candidate)
	}
	return out
}

// Tracks returns the ids of the tracks currently attached.
func (c *Conn) Tracks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, c.tracks[s].ID())
	}
	return out
}

func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// RTCP returns the RTCP packets written so far.
func (c *Conn) RTCP() []rtcp.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]rtcp.Packet(nil), c.rtcp...)
}

// Factory hands out Conns and remembers them.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn
	Err   error
}

func (f *Factory) New() (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConn(len(f.conns) + 1)
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Recorder is a peer.Sender that keeps every message.
type Recorder struct {
	mu   sync.Mutex
	msgs []*signaling.Message
	Err  error
}

func (r *Recorder) Send(msg *signaling.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

// Take returns and forgets the recorded messages.
func (r *Recorder) Take() []*signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

// Of returns the recorded messages of type t without forgetting them.
func (r *Recorder) Of(t string) []*signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*signaling.Message
	for _, m := range r.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Deliver hands msg to the engine method its type calls for.
func Deliver(e *peer.Engine, msg *signaling.Message) error {
	switch msg.Type {
	case signaling.TypeSendSDP:
		return e.HandleOffer(msg)
	case signaling.TypeAnswerSDP:
		return e.HandleAnswer(msg)
	case signaling.TypeSendCandidate:
		return e.HandleCandidate(msg)
	}
	return nil
}
