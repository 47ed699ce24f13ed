package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/participant"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/room"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

type fakeController struct {
	mu           sync.Mutex
	participants []participant.Participant
	streams      map[string][]room.RemoteStream
	active       map[signaling.Media]media.Device
	started      []media.Device
	startErr     error
	done         chan struct{}
	err          error
}

func newFakeController() *fakeController {
	return &fakeController{
		streams: map[string][]room.RemoteStream{},
		active:  map[signaling.Media]media.Device{},
		done:    make(chan struct{}),
	}
}

func (f *fakeController) Participants() []participant.Participant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]participant.Participant(nil), f.participants...)
}

func (f *fakeController) RemoteStreams() map[string][]room.RemoteStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

func (f *fakeController) ActiveMedia(kind signaling.Media) (media.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.active[kind]
	return d, ok
}

func (f *fakeController) StartMedia(_ context.Context, device media.Device) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, device)
	if f.startErr != nil {
		return false, f.startErr
	}
	kind, _ := device.Media()
	if f.active[kind] == device {
		delete(f.active, kind)
		return false, nil
	}
	f.active[kind] = device
	return true, nil
}

func (f *fakeController) Done() <-chan struct{} { return f.done }
func (f *fakeController) Err() error            { return f.err }

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newModel(ctrl Controller) *roomModel {
	ui := NewRoomUI(context.Background(), ctrl, RoomInfo{Room: "swift-otter-harbor", Username: "ann"})
	return ui.model
}

func TestKeysToggleMedia(t *testing.T) {
	ctrl := newFakeController()
	m := newModel(ctrl)

	_, cmd := m.Update(key('c'))
	require.NotNil(t, cmd)
	_, next := m.Update(cmd())
	require.Nil(t, next)
	require.Equal(t, "Sharing camera", m.status)
	require.Equal(t, media.DeviceCamera, m.video)
	require.Contains(t, m.View(), "camera")

	_, cmd = m.Update(key('m'))
	m.Update(cmd())
	require.Equal(t, media.DeviceMicrophone, m.audio)

	_, cmd = m.Update(key('c'))
	m.Update(cmd())
	require.Equal(t, "Stopped camera", m.status)
	require.Empty(t, m.video)

	_, cmd = m.Update(key('s'))
	m.Update(cmd())
	require.Equal(t, media.DeviceScreen, m.video)

	require.Equal(t, []media.Device{media.DeviceCamera, media.DeviceMicrophone, media.DeviceCamera, media.DeviceScreen}, ctrl.started)
}

func TestMediaFailureIsShown(t *testing.T) {
	ctrl := newFakeController()
	ctrl.startErr = errs.NewError("acquire camera", errs.ErrMediaAcquisition)
	m := newModel(ctrl)

	_, cmd := m.Update(key('c'))
	m.Update(cmd())
	require.ErrorIs(t, m.lastErr, errs.ErrMediaAcquisition)
	require.Contains(t, m.View(), "media acquisition")
}

func TestRefreshShowsRoster(t *testing.T) {
	ctrl := newFakeController()
	m := newModel(ctrl)
	require.Contains(t, m.View(), "Waiting for others")

	ctrl.mu.Lock()
	ctrl.participants = []participant.Participant{
		{ID: "u2", DisplayName: "Bo", VideoOn: true},
		{ID: "u3"},
	}
	ctrl.streams["u2"] = []room.RemoteStream{{PeerID: "u2", Media: signaling.MediaVideo}, {PeerID: "u2", Media: signaling.MediaAudio}}
	ctrl.mu.Unlock()

	_, cmd := m.Update(refreshMsg{})
	require.NotNil(t, cmd)
	m.Update(peerStateMsg{peerID: "u2", state: peer.StateStable})

	view := m.View()
	require.Contains(t, view, "Bo")
	require.Contains(t, view, "u3")
	require.Contains(t, view, "stable")
	require.Contains(t, view, "1v 1a")
}

func TestClosedPeerStateIsForgotten(t *testing.T) {
	m := newModel(newFakeController())
	m.Update(peerStateMsg{peerID: "u2", state: peer.StateStable})
	m.Update(peerStateMsg{peerID: "u2", state: peer.StateClosed})
	require.Empty(t, m.states)
}

func TestSessionEndQuits(t *testing.T) {
	ctrl := newFakeController()
	ctrl.err = errs.NewError("read", errs.ErrTransport)
	close(ctrl.done)
	m := newModel(ctrl)

	msg := m.listen()()
	require.IsType(t, sessionEnded{}, msg)

	_, cmd := m.Update(msg)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.True(t, m.ended)
	require.Contains(t, m.View(), "Disconnected")
}

func TestQuitKey(t *testing.T) {
	m := newModel(newFakeController())
	_, cmd := m.Update(key('q'))
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Empty(t, m.View())
}

func TestEventsDoNotBlock(t *testing.T) {
	ui := NewRoomUI(context.Background(), newFakeController(), RoomInfo{})
	for i := 0; i < 1000; i++ {
		ui.Refresh()
		ui.PeerState("u2", peer.StateStable)
		ui.ReportError(errors.New("boom"))
	}

	msg := ui.model.listen()()
	require.IsType(t, refreshMsg{}, msg)
}

func TestRosterView(t *testing.T) {
	require.Contains(t, RosterView(nil), "Waiting")

	rows := BuildRoster(
		[]participant.Participant{{ID: "u2", DisplayName: strings.Repeat("x", 40), AudioOn: true}},
		map[string]peer.State{},
		nil,
	)
	require.False(t, rows[0].Connected)

	view := RosterView(rows)
	require.Contains(t, view, strings.Repeat("x", 21)+"...")
	require.Contains(t, view, "on")
}

func TestSpinnerStopsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, "connecting", spinner.Dot, 1)
	s.Start()
	s.UpdateMessage("authenticating")
	s.Success("joined")
	s.Stop()

	out := buf.String()
	require.Contains(t, out, "joined")
	require.True(t, strings.HasSuffix(out, "joined\n"))

	idle := newSpinner(&buf, "never started", spinner.Dot, 1)
	idle.Stop()
	idle.Stop()
}

func TestRoomInfoView(t *testing.T) {
	view := RoomInfo{Room: "swift-otter-harbor", Server: "wss://relay", Username: "ann"}.View()
	require.Contains(t, view, "swift-otter-harbor")
	require.Contains(t, view, "wss://relay")
}

func TestPasswordPrompt(t *testing.T) {
	var m tea.Model = newPasswordModel("Wrong password, try again")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("hunter")})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	require.NotContains(t, m.View(), "hunter2")
	require.Contains(t, m.View(), "try again")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())

	pm := m.(passwordModel)
	require.True(t, pm.submitted)
	require.Equal(t, "hunter2", pm.input.Value())
	require.Empty(t, pm.View())

	m, cmd = tea.Model(newPasswordModel("pw")).Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	require.True(t, m.(passwordModel).cancelled)
	require.False(t, m.(passwordModel).submitted)
}
