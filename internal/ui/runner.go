package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/participant"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/room"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Controller is the part of a room session the program drives.
type Controller interface {
	Participants() []participant.Participant
	RemoteStreams() map[string][]room.RemoteStream
	ActiveMedia(kind signaling.Media) (media.Device, bool)
	StartMedia(ctx context.Context, device media.Device) (bool, error)
	Done() <-chan struct{}
	Err() error
}

type (
	refreshMsg   struct{}
	sessionEnded struct{}

	peerStateMsg struct {
		peerID string
		state  peer.State
	}

	errorMsg struct{ err error }

	mediaResultMsg struct {
		device  media.Device
		started bool
		err     error
	}
)

// RoomUI runs the interactive room view. Session callbacks feed it through
// the Refresh, PeerState and ReportError methods, which never block.
type RoomUI struct {
	model  *roomModel
	events chan tea.Msg
	out    io.Writer
}

func NewRoomUI(ctx context.Context, ctrl Controller, info RoomInfo) *RoomUI {
	events := make(chan tea.Msg, 64)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomUI{
		model: &roomModel{
			ctx:     ctx,
			ctrl:    ctrl,
			info:    info,
			events:  events,
			spinner: s,
			states:  make(map[string]peer.State),
			status:  "Connected",
		},
		events: events,
		out:    Output,
	}
}

func (ui *RoomUI) push(msg tea.Msg) {
	select {
	case ui.events <- msg:
	default:
	}
}

// Refresh asks the view to reload the roster and stream table.
func (ui *RoomUI) Refresh() { ui.push(refreshMsg{}) }

func (ui *RoomUI) PeerState(peerID string, state peer.State) {
	ui.push(peerStateMsg{peerID: peerID, state: state})
}

func (ui *RoomUI) ReportError(err error) { ui.push(errorMsg{err: err}) }

// Run blocks until the user quits, ctx is cancelled or the session ends.
func (ui *RoomUI) Run(ctx context.Context) error {
	p := tea.NewProgram(ui.model, tea.WithContext(ctx), tea.WithOutput(ui.out))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("room view: %w", err)
	}
	return nil
}

type roomModel struct {
	ctx     context.Context
	ctrl    Controller
	info    RoomInfo
	events  chan tea.Msg
	spinner spinner.Model

	participants []participant.Participant
	streams      map[string][]room.RemoteStream
	states       map[string]peer.State
	video        media.Device
	audio        media.Device

	status   string
	lastErr  error
	ended    bool
	quitting bool
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listen(),
		func() tea.Msg { return refreshMsg{} },
	)
}

// listen waits for the next session event.
func (m *roomModel) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctrl.Done():
			return sessionEnded{}
		}
	}
}

func (m *roomModel) toggle(device media.Device) tea.Cmd {
	return func() tea.Msg {
		started, err := m.ctrl.StartMedia(m.ctx, device)
		return mediaResultMsg{device: device, started: started, err: err}
	}
}

func (m *roomModel) refresh() {
	m.participants = m.ctrl.Participants()
	m.streams = m.ctrl.RemoteStreams()
	m.video, _ = m.ctrl.ActiveMedia(signaling.MediaVideo)
	m.audio, _ = m.ctrl.ActiveMedia(signaling.MediaAudio)

	known := make(map[string]bool, len(m.participants))
	for _, p := range m.participants {
		known[p.ID] = true
	}
	for id := range m.states {
		if !known[id] {
			delete(m.states, id)
		}
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			return m, m.toggle(media.DeviceCamera)
		case "s":
			return m, m.toggle(media.DeviceScreen)
		case "m":
			return m, m.toggle(media.DeviceMicrophone)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		m.refresh()
		return m, m.listen()

	case peerStateMsg:
		if msg.state == peer.StateClosed {
			delete(m.states, msg.peerID)
		} else {
			m.states[msg.peerID] = msg.state
		}
		return m, m.listen()

	case errorMsg:
		m.lastErr = msg.err
		return m, m.listen()

	case mediaResultMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		if msg.started {
			m.status = fmt.Sprintf("Sharing %s", msg.device)
		} else {
			m.status = fmt.Sprintf("Stopped %s", msg.device)
		}
		m.refresh()

	case sessionEnded:
		m.ended = true
		m.lastErr = m.ctrl.Err()
		return m, tea.Quit
	}

	return m, nil
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.info.Room)))
	b.WriteString("\n")

	if m.ended {
		b.WriteString(WarningStyle.Render("Disconnected from room") + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.status))
	}
	b.WriteString(m.localView() + "\n\n")

	b.WriteString(RosterView(BuildRoster(m.participants, m.states, m.streams)))
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString("\n" + FormatError(m.lastErr) + "\n")
	}

	b.WriteString(FooterStyle.Render(fmt.Sprintf("%s camera  %s screen  %s mic  %s quit",
		KeyStyle.Render("c"), KeyStyle.Render("s"), KeyStyle.Render("m"), KeyStyle.Render("q"))))

	return b.String()
}

func (m *roomModel) localView() string {
	video := MutedStyle.Render("off")
	switch m.video {
	case media.DeviceCamera:
		video = SuccessStyle.Render(IconCamera + " camera")
	case media.DeviceScreen:
		video = SuccessStyle.Render(IconScreen + " screen")
	}
	audio := MutedStyle.Render("off")
	if m.audio != "" {
		audio = SuccessStyle.Render(IconMic + " mic")
	}
	return fmt.Sprintf("You (%s)  video: %s  audio: %s", m.info.Username, video, audio)
}
