package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/participant"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Config describes the local user and the collaborators a Session needs.
type Config struct {
	UserID      string
	Username    string
	Factory     peer.Factory
	Source      media.Source
	Constraints media.Constraints
	Logger      *slog.Logger
}

// RemoteStream is an inbound track from a remote participant.
type RemoteStream struct {
	PeerID   string
	TrackID  string
	StreamID string
	Media    signaling.Media
	Codec    string
}

// Session is one visit to a room: the roster, the mesh of connections and
// the local media shared over it. It is torn down exactly once, when Close
// is called or the signaling channel ends.
type Session struct {
	userID   string
	username string
	channel  signaling.Channel
	log      *slog.Logger

	directory *participant.Directory
	registry  *peer.Registry
	engine    *peer.Engine
	media     *media.Manager
	router    *signaling.Router

	mu       sync.Mutex
	authed   bool
	authWait chan *signaling.Message
	remote   map[string][]RemoteStream
	onRemote []func(map[string][]RemoteStream)
	onError  []func(error)
	closed   bool
	err      error
	done     chan struct{}
}

// New builds a session on channel and starts handling its messages. The
// caller authenticates next.
func New(channel signaling.Channel, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		userID:    cfg.UserID,
		username:  cfg.Username,
		channel:   channel,
		log:       logger.With("component", "room"),
		directory: participant.NewDirectory(),
		registry:  peer.NewRegistry(),
		router:    signaling.NewRouter(logger),
		remote:    make(map[string][]RemoteStream),
		done:      make(chan struct{}),
	}

	s.engine = peer.NewEngine(peer.EngineConfig{
		LocalID:  cfg.UserID,
		Registry: s.registry,
		Factory:  cfg.Factory,
		Sender:   channel,
		Logger:   logger,
	})
	s.media = media.NewManager(media.ManagerConfig{
		LocalID:     cfg.UserID,
		Registry:    s.registry,
		Source:      cfg.Source,
		Sender:      channel,
		Constraints: cfg.Constraints,
		Logger:      logger,
	})

	s.engine.OnTrack(s.handleTrack)
	s.engine.OnError(s.report)

	s.router.Handle(signaling.TypeAuthentication, s.handleAuthentication)
	s.router.Handle(signaling.TypeNotifyParticipant, s.handleNotify)
	s.router.Handle(signaling.TypeUserDisconnected, s.handleDisconnect)
	s.router.Handle(signaling.TypeSendSDP, s.handleOffer)
	s.router.Handle(signaling.TypeAnswerSDP, s.handleAnswer)
	s.router.Handle(signaling.TypeSendCandidate, s.handleCandidate)
	s.router.Handle(signaling.TypeStreamStatus, s.handleStreamStatus)

	channel.OnClose(s.teardown)
	channel.OnMessage(s.receive)
	return s
}

func (s *Session) UserID() string   { return s.userID }
func (s *Session) Username() string { return s.username }

// Authenticate sends the room password and waits for the relay's verdict.
// A rejection leaves the session open so the caller can retry.
func (s *Session) Authenticate(ctx context.Context, password string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.NewError("authenticate", errs.ErrSessionClosed)
	}
	if s.authed {
		s.mu.Unlock()
		return nil
	}
	reply := make(chan *signaling.Message, 1)
	s.authWait = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.authWait == reply {
			s.authWait = nil
		}
		s.mu.Unlock()
	}()

	err := s.channel.Send(&signaling.Message{
		Type:     signaling.TypeAuthentication,
		UserID:   s.userID,
		Username: s.username,
		Password: password,
	})
	if err != nil {
		s.fail(err)
		return err
	}

	var msg *signaling.Message
	select {
	case msg = <-reply:
	case <-ctx.Done():
		return errs.Wrap("authenticate", errs.ErrTimeout, ctx.Err())
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return errs.NewError("authenticate", errs.ErrSessionClosed)
	}

	if !msg.Result {
		s.log.Info("authentication rejected")
		return errs.NewError("authenticate", errs.ErrAuthenticationRejected)
	}

	s.log.Info("joined room", "participants", s.directory.Len())

	err = s.channel.Send(&signaling.Message{
		Type:     signaling.TypeNotifyParticipant,
		Sender:   s.userID,
		Username: s.username,
	})
	if err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// receive filters messages not meant for this session before routing them.
func (s *Session) receive(msg *signaling.Message) {
	if msg.Sender != "" && msg.Sender == s.userID {
		return
	}
	if msg.Receiver != "" && msg.Receiver != s.userID {
		s.log.Debug("dropping message for another receiver", "type", msg.Type, "receiver", msg.Receiver)
		return
	}

	s.mu.Lock()
	authed, closed := s.authed, s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if !authed && msg.Type != signaling.TypeAuthentication {
		s.log.Debug("dropping message before authentication", "type", msg.Type)
		return
	}

	s.router.Dispatch(msg)
}

func (s *Session) handleAuthentication(msg *signaling.Message) {
	s.mu.Lock()
	reply := s.authWait
	s.authWait = nil
	s.mu.Unlock()

	if reply == nil {
		s.log.Debug("dropping unsolicited authentication reply")
		return
	}

	// The roster is applied here so that messages queued behind the reply
	// see an authenticated session.
	if msg.Result {
		s.mu.Lock()
		s.authed = true
		s.mu.Unlock()

		for _, p := range msg.Data {
			if p.UserID == "" || p.UserID == s.userID {
				continue
			}
			s.directory.Add(participant.FromWire(p))
		}
	}
	reply <- msg
}

func (s *Session) handleNotify(msg *signaling.Message) {
	if msg.Sender == "" {
		return
	}
	s.directory.Add(participant.Participant{ID: msg.Sender, DisplayName: msg.Username})
	s.check(s.engine.Connect(msg.Sender))
}

func (s *Session) handleDisconnect(msg *signaling.Message) {
	if msg.Sender == "" {
		return
	}
	s.engine.Disconnect(msg.Sender)
	s.directory.Remove(msg.Sender)
	s.dropRemote(msg.Sender)
}

func (s *Session) handleOffer(msg *signaling.Message) {
	if msg.Sender == "" {
		return
	}
	if msg.SDPType != "" && msg.SDPType != webrtc.SDPTypeOffer.String() {
		s.log.Debug("dropping sendsdp that is not an offer", "peer", msg.Sender, "sdp_type", msg.SDPType)
		return
	}
	s.directory.Add(participant.Participant{ID: msg.Sender})
	s.check(s.engine.HandleOffer(msg))
}

func (s *Session) handleAnswer(msg *signaling.Message) {
	if msg.Sender == "" {
		return
	}
	s.check(s.engine.HandleAnswer(msg))
}

func (s *Session) handleCandidate(msg *signaling.Message) {
	if msg.Sender == "" {
		return
	}
	s.check(s.engine.HandleCandidate(msg))
}

func (s *Session) handleStreamStatus(msg *signaling.Message) {
	if !msg.Media.Valid() {
		return
	}
	s.directory.UpdateStatus(msg.Sender, msg.Media, msg.Status)
}

func (s *Session) handleTrack(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	rs := RemoteStream{
		PeerID:   peerID,
		TrackID:  track.ID(),
		StreamID: track.StreamID(),
		Media:    signaling.MediaAudio,
		Codec:    track.Codec().MimeType,
	}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		rs.Media = signaling.MediaVideo
		if c := s.registry.Get(peerID); c != nil {
			pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
			if err := c.Conn().WriteRTCP(pli); err != nil {
				s.log.Debug("failed to request keyframe", "peer", peerID, "err", err)
			}
		}
	}
	s.addRemote(rs)

	// Nothing renders inbound media; drain it until the track ends.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				s.removeRemote(rs)
				return
			}
		}
	}()
}

// check routes an error from a message handler. Transport failures end
// the session.
func (s *Session) check(err error) {
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrTransport):
		s.fail(err)
	case errors.Is(err, errs.ErrNegotiation):
		// Already reported through the engine's error hook.
	default:
		s.report(err)
	}
}

func (s *Session) report(err error) {
	if errors.Is(err, errs.ErrTransport) {
		s.fail(err)
		return
	}
	s.log.Warn("peer error", "err", err)

	s.mu.Lock()
	handlers := append([]func(error){}, s.onError...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// fail tears the session down after a transport error.
func (s *Session) fail(err error) {
	s.log.Error("signaling failed", "err", err)
	s.teardown(err)
}

// StartMedia toggles device: it is shared with every participant, or
// stopped if a stream of the same media kind is already active. started
// reports which happened.
func (s *Session) StartMedia(ctx context.Context, device media.Device) (started bool, err error) {
	if s.isClosed() {
		return false, errs.NewError("start "+string(device), errs.ErrSessionClosed)
	}
	started, err = s.media.Start(ctx, device)
	if err != nil && errors.Is(err, errs.ErrTransport) {
		s.fail(err)
	}
	return started, err
}

// StopMedia stops the active stream of kind, if any.
func (s *Session) StopMedia(kind signaling.Media) error {
	if s.isClosed() {
		return errs.NewError("stop "+string(kind), errs.ErrSessionClosed)
	}
	err := s.media.Stop(kind)
	if err != nil && errors.Is(err, errs.ErrTransport) {
		s.fail(err)
	}
	return err
}

// ActiveMedia reports the device currently feeding kind.
func (s *Session) ActiveMedia(kind signaling.Media) (media.Device, bool) {
	return s.media.Active(kind)
}

func (s *Session) Participants() []participant.Participant {
	return s.directory.List()
}

// Connection returns the connection to peerID, or nil.
func (s *Session) Connection(peerID string) *peer.Connection {
	return s.registry.Get(peerID)
}

// Peers lists the ids that currently have a connection.
func (s *Session) Peers() []string {
	return s.registry.IDs()
}

// RemoteStreams returns a copy of the inbound stream table.
func (s *Session) RemoteStreams() map[string][]RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSnapshotLocked()
}

func (s *Session) OnParticipants(fn func([]participant.Participant)) {
	s.directory.OnChange(fn)
}

func (s *Session) OnRemoteStreams(fn func(map[string][]RemoteStream)) {
	s.mu.Lock()
	s.onRemote = append(s.onRemote, fn)
	s.mu.Unlock()
}

// OnError receives errors confined to a single peer. Session-ending
// errors are reported by Err once Done is closed.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = append(s.onError, fn)
	s.mu.Unlock()
}

// OnConnectionState receives negotiation state changes per peer.
func (s *Session) OnConnectionState(fn func(peerID string, state peer.State)) {
	s.engine.OnStateChange(fn)
}

// Done is closed after teardown.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil if it was closed
// normally or is still running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close leaves the room. It is safe to call more than once.
func (s *Session) Close() error {
	s.teardown(nil)
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// teardown runs once; later calls, including re-entrant ones from the
// channel's close handler, return immediately.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = cause
	s.mu.Unlock()

	s.media.Release()
	s.registry.CloseAll()
	s.engine.Reset()
	s.directory.Clear()

	s.mu.Lock()
	s.remote = make(map[string][]RemoteStream)
	s.notifyRemoteLocked()

	close(s.done)
	s.channel.Close()
	s.log.Info("left room", "err", cause)
}

func (s *Session) addRemote(rs RemoteStream) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.remote[rs.PeerID] = append(s.remote[rs.PeerID], rs)
	s.notifyRemoteLocked()
}

func (s *Session) removeRemote(rs RemoteStream) {
	s.mu.Lock()
	list := s.remote[rs.PeerID]
	for i, cur := range list {
		if cur == rs {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(s.remote, rs.PeerID)
			} else {
				s.remote[rs.PeerID] = list
			}
			s.notifyRemoteLocked()
			return
		}
	}
	s.mu.Unlock()
}

func (s *Session) dropRemote(peerID string) {
	s.mu.Lock()
	if _, ok := s.remote[peerID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.remote, peerID)
	s.notifyRemoteLocked()
}

func (s *Session) remoteSnapshotLocked() map[string][]RemoteStream {
	out := make(map[string][]RemoteStream, len(s.remote))
	for id, list := range s.remote {
		out[id] = append([]RemoteStream(nil), list...)
	}
	return out
}

// notifyRemoteLocked releases s.mu before calling listeners.
func (s *Session) notifyRemoteLocked() {
	snapshot := s.remoteSnapshotLocked()
	listeners := append([]func(map[string][]RemoteStream){}, s.onRemote...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
