package peer

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// maxPendingCandidates bounds the queue kept for one peer.
const maxPendingCandidates = 256

// Sender delivers signaling messages to the relay.
type Sender interface {
	Send(msg *signaling.Message) error
}

// TrackHandler receives inbound media from a remote participant.
type TrackHandler func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

type EngineConfig struct {
	LocalID  string
	Registry *Registry
	Factory  Factory
	Sender   Sender
	Logger   *slog.Logger
}

// Engine runs offer/answer/ICE exchange for every connection in its
// registry. Inbound Handle* calls are expected from a single goroutine,
// in arrival order.
type Engine struct {
	localID  string
	registry *Registry
	factory  Factory
	sender   Sender
	log      *slog.Logger

	mu       sync.Mutex
	pending  map[string][]webrtc.ICECandidateInit
	departed map[string]struct{}
	onTrack  TrackHandler
	onError  func(error)
	onState  func(peerID string, state State)

	wg sync.WaitGroup
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		localID:  cfg.LocalID,
		registry: cfg.Registry,
		factory:  cfg.Factory,
		sender:   cfg.Sender,
		log:      logger.With("component", "negotiation"),
		pending:  make(map[string][]webrtc.ICECandidateInit),
		departed: make(map[string]struct{}),
	}
	cfg.Registry.OnCreate(e.wire)
	return e
}

func (e *Engine) OnTrack(h TrackHandler) {
	e.mu.Lock()
	e.onTrack = h
	e.mu.Unlock()
}

// OnError receives negotiation failures. Each one concerns a single peer
// whose connection has already been closed and removed.
func (e *Engine) OnError(h func(error)) {
	e.mu.Lock()
	e.onError = h
	e.mu.Unlock()
}

func (e *Engine) OnStateChange(h func(peerID string, state State)) {
	e.mu.Lock()
	e.onState = h
	e.mu.Unlock()
}

// Registry returns the registry the engine drives.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Polite reports whether this side yields when its offer collides with
// one from peerID. The side with the lower id keeps its offer; the other
// side drops its connection and answers on a fresh one.
func (e *Engine) Polite(peerID string) bool {
	return e.localID > peerID
}

func (e *Engine) wire(c *Connection) {
	log := e.log.With("peer", c.PeerID)

	c.conn.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			log.Debug("ice gathering complete")
			return
		}
		if c.State() == StateClosed {
			return
		}
		err := e.send(&signaling.Message{
			Type:      signaling.TypeSendCandidate,
			Sender:    e.localID,
			Receiver:  c.PeerID,
			Candidate: signaling.CandidateFromPion(cand.ToJSON()),
		})
		if err != nil {
			log.Warn("failed to send candidate", "err", err)
		}
	})

	c.conn.OnNegotiationNeeded(func() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.negotiate(c, false)
		}()
	})

	c.conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info("remote track", "kind", track.Kind().String(), "id", track.ID())
		e.mu.Lock()
		h := e.onTrack
		e.mu.Unlock()
		if h != nil {
			h(c.PeerID, track, receiver)
		}
	})

	c.conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug("connection state", "state", s.String())
	})
}

// Connect creates the connection to peerID and sends the first offer. An
// existing connection is left as it is.
func (e *Engine) Connect(peerID string) error {
	e.revive(peerID)

	c, created, err := e.registry.GetOrCreate(peerID, e.factory)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	return e.negotiate(c, true)
}

// negotiate sends an offer on c when one is due. Requests that arrive while
// an exchange is in flight are folded into a single follow-up.
func (e *Engine) negotiate(c *Connection, explicit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return nil
	case StateNew:
		if !explicit {
			c.pending = true
			return nil
		}
	case StateHaveLocalOffer, StateHaveRemoteOffer:
		c.pending = true
		return nil
	case StateStable:
		if !explicit && c.gen == c.offeredGen {
			return nil
		}
	}

	offer, err := c.conn.CreateOffer(nil)
	if err != nil {
		return e.fail(c, "create offer", err)
	}
	if err := c.conn.SetLocalDescription(offer); err != nil {
		return e.fail(c, "set local offer", err)
	}
	if !c.setState(StateHaveLocalOffer) {
		return nil
	}
	e.stateChanged(c, StateHaveLocalOffer)
	c.offeredGen = c.gen
	c.pending = false

	return e.send(&signaling.Message{
		Type:     signaling.TypeSendSDP,
		Sender:   e.localID,
		Receiver: c.PeerID,
		SDP:      offer.SDP,
		SDPType:  webrtc.SDPTypeOffer.String(),
	})
}

// HandleOffer answers an offer from msg.Sender.
func (e *Engine) HandleOffer(msg *signaling.Message) error {
	peerID := msg.Sender
	e.revive(peerID)

	c, _, err := e.registry.GetOrCreate(peerID, e.factory)
	if err != nil {
		return err
	}

	followUp, restart, err := e.answer(c, msg.SDP)
	if restart {
		if c, err = e.restart(c); err != nil {
			return err
		}
		followUp, _, err = e.answer(c, msg.SDP)
	}
	if followUp {
		e.scheduleFollowUp(c)
	}
	return err
}

// answer applies an offer and replies to it. restart is reported instead
// when the offer cannot be applied to c: a colliding offer on the polite
// side, or an offer from a different session than the one c is talking to.
func (e *Engine) answer(c *Connection, sdp string) (followUp, restart bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return false, false, nil
	case StateHaveLocalOffer:
		if !e.Polite(c.PeerID) {
			e.log.Debug("ignoring colliding offer", "peer", c.PeerID)
			return false, false, nil
		}
		e.log.Debug("offer collision, yielding", "peer", c.PeerID)
		return false, true, nil
	default:
		if newSession(c.conn.RemoteDescription(), sdp) {
			e.log.Debug("offer from a new session", "peer", c.PeerID)
			return false, true, nil
		}
	}

	if err := c.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return false, false, e.fail(c, "apply offer", err)
	}
	if c.setState(StateHaveRemoteOffer) {
		e.stateChanged(c, StateHaveRemoteOffer)
	}
	e.flushLocked(c)

	answer, err := c.conn.CreateAnswer(nil)
	if err != nil {
		return false, false, e.fail(c, "create answer", err)
	}
	if err := c.conn.SetLocalDescription(answer); err != nil {
		return false, false, e.fail(c, "set local answer", err)
	}
	if !c.setState(StateStable) {
		return false, false, nil
	}
	e.stateChanged(c, StateStable)

	err = e.send(&signaling.Message{
		Type:     signaling.TypeAnswerSDP,
		Sender:   e.localID,
		Receiver: c.PeerID,
		SDP:      answer.SDP,
		SDPType:  webrtc.SDPTypeAnswer.String(),
	})

	followUp = c.pending
	c.pending = false
	return followUp, false, err
}

// HandleAnswer applies an answer to the outstanding offer for msg.Sender.
// Answers without an outstanding offer are dropped. An answer from a
// session other than the one already negotiated means the peer rebuilt its
// connection, so this side rebuilds too and offers again.
func (e *Engine) HandleAnswer(msg *signaling.Message) error {
	c := e.registry.Get(msg.Sender)
	if c == nil {
		e.log.Debug("dropping answer for unknown peer", "peer", msg.Sender)
		return nil
	}

	followUp, restart, err := e.applyAnswer(c, msg.SDP)
	if restart {
		next, err := e.restart(c)
		if err != nil {
			return err
		}
		return e.negotiate(next, true)
	}
	if followUp {
		e.scheduleFollowUp(c)
	}
	return err
}

func (e *Engine) applyAnswer(c *Connection, sdp string) (followUp, restart bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateHaveLocalOffer {
		e.log.Debug("dropping answer without outstanding offer", "peer", c.PeerID, "state", c.State().String())
		return false, false, nil
	}
	if newSession(c.conn.RemoteDescription(), sdp) {
		e.log.Debug("answer from a new session", "peer", c.PeerID)
		return false, true, nil
	}

	if err := c.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return false, false, e.fail(c, "apply answer", err)
	}
	if !c.setState(StateStable) {
		return false, false, nil
	}
	e.stateChanged(c, StateStable)
	e.flushLocked(c)

	followUp = c.pending
	c.pending = false
	return followUp, false, nil
}

// HandleCandidate applies a remote candidate, or queues it until the
// connection's remote description is set.
func (e *Engine) HandleCandidate(msg *signaling.Message) error {
	if msg.Candidate == nil {
		return nil
	}
	peerID := msg.Sender
	cand := msg.Candidate.ToPion()

	e.mu.Lock()
	_, gone := e.departed[peerID]
	e.mu.Unlock()
	if gone {
		e.log.Debug("dropping candidate from departed peer", "peer", peerID)
		return nil
	}

	c := e.registry.Get(peerID)
	if c == nil {
		e.enqueue(peerID, cand)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return nil
	}
	if c.conn.RemoteDescription() == nil {
		e.enqueue(peerID, cand)
		return nil
	}
	if err := c.conn.AddICECandidate(cand); err != nil {
		e.log.Warn("failed to add candidate", "peer", peerID, "err", err)
		return errs.NewPeerError("add candidate", peerID, err)
	}
	return nil
}

// Disconnect closes and removes the connection to peerID and discards its
// queued candidates. Candidates still in flight from peerID are dropped
// until it is announced again.
func (e *Engine) Disconnect(peerID string) {
	e.mu.Lock()
	e.departed[peerID] = struct{}{}
	delete(e.pending, peerID)
	e.mu.Unlock()

	if e.registry.CloseAndRemove(peerID) {
		e.log.Info("peer disconnected", "peer", peerID)
	}
}

// PendingCandidates reports how many candidates are queued for peerID.
func (e *Engine) PendingCandidates(peerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending[peerID])
}

// Wait blocks until scheduled negotiations have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Reset drops every queued candidate and departure record.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.pending = make(map[string][]webrtc.ICECandidateInit)
	e.departed = make(map[string]struct{})
	e.mu.Unlock()
}

func (e *Engine) revive(peerID string) {
	e.mu.Lock()
	delete(e.departed, peerID)
	e.mu.Unlock()
}

func (e *Engine) enqueue(peerID string, cand webrtc.ICECandidateInit) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending[peerID]) >= maxPendingCandidates {
		e.log.Warn("candidate queue full, dropping candidate", "peer", peerID)
		return
	}
	e.pending[peerID] = append(e.pending[peerID], cand)
}

// flushLocked applies queued candidates in arrival order. c.mu must be held
// and the remote description set.
func (e *Engine) flushLocked(c *Connection) {
	e.mu.Lock()
	queued := e.pending[c.PeerID]
	delete(e.pending, c.PeerID)
	e.mu.Unlock()

	for _, cand := range queued {
		if err := c.conn.AddICECandidate(cand); err != nil {
			e.log.Warn("failed to add queued candidate", "peer", c.PeerID, "err", err)
		}
	}
	if len(queued) > 0 {
		e.log.Debug("flushed queued candidates", "peer", c.PeerID, "count", len(queued))
	}
}

// restart closes c and registers a fresh connection to the same peer in its
// place. Queued candidates are kept for the replacement, and the OnCreate
// hooks attach the local tracks to it again.
func (e *Engine) restart(c *Connection) (*Connection, error) {
	e.log.Info("rebuilding connection", "peer", c.PeerID)

	next, err := e.registry.Replace(c.PeerID, c, e.factory)
	if err != nil {
		if errors.Is(err, ErrReplaced) {
			e.log.Debug("connection already rebuilt", "peer", c.PeerID)
		}
		return nil, err
	}
	e.stateChanged(c, StateClosed)
	return next, nil
}

// newSession reports whether sdp comes from a different session than the
// remote description already applied. Unknown origins never count as new.
func newSession(applied *webrtc.SessionDescription, sdp string) bool {
	if applied == nil {
		return false
	}
	prev, next := sessionID(applied.SDP), sessionID(sdp)
	return prev != "" && next != "" && prev != next
}

// sessionID returns the sess-id field of the o= line, which stays fixed for
// the lifetime of the connection that produced the description.
func sessionID(sdp string) string {
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "o=") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return ""
		}
		return fields[1]
	}
	return ""
}

func (e *Engine) scheduleFollowUp(c *Connection) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.negotiate(c, false)
	}()
}

// fail closes and removes c after a negotiation error. c.mu is held by the
// caller; closing does not need it.
func (e *Engine) fail(c *Connection, op string, cause error) error {
	err := errs.WrapPeer(op, c.PeerID, errs.ErrNegotiation, cause)
	e.log.Error("negotiation failed", "peer", c.PeerID, "op", op, "err", cause)

	e.mu.Lock()
	delete(e.pending, c.PeerID)
	h := e.onError
	e.mu.Unlock()

	// c may already have been replaced by a rebuilt connection.
	if e.registry.Get(c.PeerID) == c {
		e.registry.CloseAndRemove(c.PeerID)
	}
	c.Close()
	e.stateChanged(c, StateClosed)

	if h != nil {
		h(err)
	}
	return err
}

func (e *Engine) stateChanged(c *Connection, s State) {
	e.mu.Lock()
	h := e.onState
	e.mu.Unlock()
	if h != nil {
		h(c.PeerID, s)
	}
}

func (e *Engine) send(msg *signaling.Message) error {
	if err := e.sender.Send(msg); err != nil {
		if !errors.Is(err, errs.ErrTransport) {
			err = errs.Wrap("send "+msg.Type, errs.ErrTransport, err)
		}
		return err
	}
	return nil
}
