package media

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

type ManagerConfig struct {
	LocalID     string
	Registry    *peer.Registry
	Source      Source
	Sender      peer.Sender
	Constraints Constraints
	Logger      *slog.Logger
}

type active struct {
	device Device
	stream Stream
	quit   chan struct{}
}

// Manager owns the local streams, at most one per media kind, and keeps
// their tracks attached to every connection in the registry.
type Manager struct {
	localID     string
	registry    *peer.Registry
	source      Source
	sender      peer.Sender
	constraints Constraints
	log         *slog.Logger

	// ops serializes Start, Stop and Release.
	ops sync.Mutex

	mu       sync.Mutex
	streams  map[signaling.Media]*active
	released bool
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		localID:     cfg.LocalID,
		registry:    cfg.Registry,
		source:      cfg.Source,
		sender:      cfg.Sender,
		constraints: cfg.Constraints,
		log:         logger.With("component", "media"),
		streams:     make(map[signaling.Media]*active),
	}
	cfg.Registry.OnCreate(m.AttachTo)
	return m
}

// Start acquires device and shares it with every connection. When a stream
// of the same media kind is already active it is stopped instead, and
// started is false.
func (m *Manager) Start(ctx context.Context, device Device) (started bool, err error) {
	media, err := device.Media()
	if err != nil {
		return false, err
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	released, cur := m.released, m.streams[media]
	m.mu.Unlock()

	if released {
		return false, errs.NewError("start "+string(device), errs.ErrSessionClosed)
	}
	if cur != nil {
		return false, m.stopLocked(media, cur, true)
	}

	stream, err := m.source.Acquire(ctx, device, m.constraints)
	if err != nil {
		return false, errs.Wrap("acquire "+string(device), errs.ErrMediaAcquisition, err)
	}

	a := &active{device: device, stream: stream, quit: make(chan struct{})}
	m.mu.Lock()
	m.streams[media] = a
	m.mu.Unlock()

	tracks := stream.Tracks()
	m.registry.ForEach(func(c *peer.Connection) {
		if _, err := c.AttachTracks(media, tracks); err != nil {
			m.log.Warn("failed to attach tracks", "peer", c.PeerID, "media", media, "err", err)
		}
	})
	m.log.Info("stream started", "device", device, "tracks", len(tracks))

	go m.watch(media, a)

	return true, m.notify(media, true)
}

// Stop ends the active stream of media, if any.
func (m *Manager) Stop(media signaling.Media) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	cur := m.streams[media]
	m.mu.Unlock()
	if cur == nil {
		return nil
	}
	return m.stopLocked(media, cur, true)
}

// stopLocked requires m.ops.
func (m *Manager) stopLocked(media signaling.Media, a *active, notify bool) error {
	m.mu.Lock()
	if m.streams[media] != a {
		m.mu.Unlock()
		return nil
	}
	delete(m.streams, media)
	m.mu.Unlock()

	close(a.quit)
	a.stream.Stop()

	m.registry.ForEach(func(c *peer.Connection) {
		if _, err := c.DetachTracks(media); err != nil {
			m.log.Warn("failed to detach tracks", "peer", c.PeerID, "media", media, "err", err)
		}
	})
	m.log.Info("stream stopped", "device", a.device)

	if !notify {
		return nil
	}
	return m.notify(media, false)
}

// watch stops a that ends by itself, as if Stop had been called.
func (m *Manager) watch(media signaling.Media, a *active) {
	select {
	case <-a.stream.Done():
	case <-a.quit:
		return
	}

	m.ops.Lock()
	defer m.ops.Unlock()
	if err := m.stopLocked(media, a, true); err != nil {
		m.log.Warn("failed to announce ended stream", "device", a.device, "err", err)
	}
}

// AttachTo attaches every active stream to c. It runs as a registry hook
// so connections to late joiners carry media that is already live.
func (m *Manager) AttachTo(c *peer.Connection) {
	m.mu.Lock()
	snapshot := make(map[signaling.Media]*active, len(m.streams))
	for media, a := range m.streams {
		snapshot[media] = a
	}
	m.mu.Unlock()

	for media, a := range snapshot {
		if _, err := c.AttachTracks(media, a.stream.Tracks()); err != nil {
			m.log.Warn("failed to attach tracks", "peer", c.PeerID, "media", media, "err", err)
		}
	}
}

// Active reports the device feeding media, if any.
func (m *Manager) Active(media signaling.Media) (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.streams[media]
	if !ok {
		return "", false
	}
	return a.device, true
}

// Release stops every stream without notifying anyone. Later starts fail.
func (m *Manager) Release() {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	m.released = true
	streams := make(map[signaling.Media]*active, len(m.streams))
	for media, a := range m.streams {
		streams[media] = a
	}
	m.mu.Unlock()

	for media, a := range streams {
		m.stopLocked(media, a, false)
	}
}

func (m *Manager) notify(media signaling.Media, on bool) error {
	err := m.sender.Send(&signaling.Message{
		Type:   signaling.TypeStreamStatus,
		Sender: m.localID,
		Media:  media,
		Status: on,
	})
	if err != nil {
		return errs.Wrap("send stream status", errs.ErrTransport, err)
	}
	return nil
}
