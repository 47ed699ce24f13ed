package peer

import (
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/netutil"
)

const (
	controlChannelLabel = "meshcall"
	controlChannelID    = uint16(0)
)

// Conn is the part of *webrtc.PeerConnection the mesh drives.
type Conn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	OnNegotiationNeeded(f func())
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	WriteRTCP(pkts []rtcp.Packet) error
	Close() error
}

var _ Conn = (*webrtc.PeerConnection)(nil)

// Factory builds a new underlying connection.
type Factory func() (Conn, error)

// ICEServers builds the ICE server list from cfg.
func ICEServers(cfg *config.Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	if turn := cfg.GetTURNServers(); turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// NewPionFactory returns a Factory producing pion peer connections with the
// default codecs and interceptors, logging through logger.
func NewPionFactory(cfg *config.Config, logger *slog.Logger) (Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errs.NewError("register codecs", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, errs.NewError("register interceptors", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(logger)}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	)

	policy := webrtc.ICETransportPolicyAll
	if cfg.GetTURNServers() != nil && (cfg.ForceRelay || netutil.ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
		logger.Info("forcing TURN relay for peer connections")
	}

	conf := webrtc.Configuration{
		ICEServers:         ICEServers(cfg),
		ICETransportPolicy: policy,
	}

	return func() (Conn, error) {
		pc, err := api.NewPeerConnection(conf)
		if err != nil {
			return nil, errs.NewError("create peer connection", err)
		}

		// Both sides open the same pre-negotiated channel so that every
		// offer carries at least one section, even before any media.
		negotiated, id := true, controlChannelID
		if _, err := pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{
			Negotiated: &negotiated,
			ID:         &id,
		}); err != nil {
			pc.Close()
			return nil, errs.NewError("create control channel", err)
		}
		return pc, nil
	}, nil
}
