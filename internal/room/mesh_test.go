package room

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/peer/peertest"
	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

type meshRelay struct {
	url  string
	stop context.CancelFunc
}

func startRelay(t *testing.T) *meshRelay {
	t.Helper()
	srv, err := relay.NewServer(&config.RelayConfig{
		ReadLimit:  64 * 1024,
		PingPeriod: 54 * time.Second,
		Codec:      "json",
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &meshRelay{url: "ws" + strings.TrimPrefix(ts.URL, "http"), stop: cancel}
}

type member struct {
	session *Session
	factory *peertest.Factory
	source  *stubSource
}

func enter(t *testing.T, r *meshRelay, userID, password string) *member {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := signaling.Dial(ctx, r.url+"/ws/rooms/standup/")
	require.NoError(t, err)

	m := &member{factory: &peertest.Factory{}, source: &stubSource{}}
	m.session = New(ch, Config{
		UserID:   userID,
		Username: strings.ToUpper(userID),
		Factory:  m.factory.New,
		Source:   m.source,
	})
	t.Cleanup(func() {
		m.session.Close()
		m.session.engine.Wait()
	})

	require.NoError(t, m.session.Authenticate(ctx, password))
	return m
}

func stable(m *member, peerID string) func() bool {
	return func() bool {
		c := m.session.Connection(peerID)
		return c != nil && c.State() == peer.StateStable
	}
}

func ids(m *member) []string {
	var out []string
	for _, p := range m.session.Participants() {
		out = append(out, p.ID)
	}
	return out
}

func TestMeshJoinReachesStable(t *testing.T) {
	r := startRelay(t)

	u1 := enter(t, r, "u1", "pw")
	require.Empty(t, u1.session.Participants())

	u2 := enter(t, r, "u2", "pw")
	require.Equal(t, []string{"u1"}, ids(u2))

	require.Eventually(t, func() bool { return len(ids(u1)) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "U2", u1.session.Participants()[0].DisplayName)

	require.Eventually(t, stable(u1, "u2"), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, stable(u2, "u1"), 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, u1.factory.Len())
	require.Equal(t, 1, u2.factory.Len())
}

func TestMeshStartMediaRenegotiatesExistingConnection(t *testing.T) {
	r := startRelay(t)
	u1 := enter(t, r, "u1", "pw")
	u2 := enter(t, r, "u2", "pw")
	require.Eventually(t, stable(u1, "u2"), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, stable(u2, "u1"), 2*time.Second, 10*time.Millisecond)

	started, err := u1.session.StartMedia(context.Background(), media.DeviceCamera)
	require.NoError(t, err)
	require.True(t, started)

	remote := u2.factory.Conns()[0]
	require.Eventually(t, func() bool {
		desc := remote.RemoteDescription()
		return desc != nil && strings.Contains(desc.SDP, "a=track:camera")
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, stable(u1, "u2"), 2*time.Second, 10*time.Millisecond)

	// Same connection, renegotiated.
	require.Equal(t, 1, u2.factory.Len())
	require.Eventually(t, func() bool {
		ps := u2.session.Participants()
		return len(ps) == 1 && ps[0].VideoOn
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMeshLateJoinerReceivesActiveMedia(t *testing.T) {
	r := startRelay(t)
	u1 := enter(t, r, "u1", "pw")
	_, err := u1.session.StartMedia(context.Background(), media.DeviceMicrophone)
	require.NoError(t, err)

	u2 := enter(t, r, "u2", "pw")
	require.Eventually(t, func() bool {
		if u2.factory.Len() != 1 {
			return false
		}
		desc := u2.factory.Conns()[0].RemoteDescription()
		return desc != nil && strings.Contains(desc.SDP, "a=track:microphone")
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, u2.session.Participants()[0].AudioOn)
}

func TestMeshDisconnectRemovesPeer(t *testing.T) {
	r := startRelay(t)
	u1 := enter(t, r, "u1", "pw")
	u2 := enter(t, r, "u2", "pw")
	require.Eventually(t, stable(u2, "u1"), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, u1.session.Close())
	require.Equal(t, 1, u1.factory.Conns()[0].CloseCount())

	require.Eventually(t, func() bool {
		return u2.session.Connection("u1") == nil && len(u2.session.Participants()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, u2.factory.Conns()[0].CloseCount())
}

func TestMeshWrongPasswordCanRetry(t *testing.T) {
	r := startRelay(t)
	enter(t, r, "u1", "pw")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := signaling.Dial(ctx, r.url+"/ws/rooms/standup/")
	require.NoError(t, err)

	s := New(ch, Config{UserID: "u2", Username: "U2", Factory: (&peertest.Factory{}).New, Source: &stubSource{}})
	defer s.Close()

	require.ErrorIs(t, s.Authenticate(ctx, "nope"), errs.ErrAuthenticationRejected)
	require.NoError(t, s.Authenticate(ctx, "pw"))
	require.Len(t, s.Participants(), 1)
}

func TestMeshRelayShutdownTearsDown(t *testing.T) {
	r := startRelay(t)
	u1 := enter(t, r, "u1", "pw")
	_, err := u1.session.StartMedia(context.Background(), media.DeviceCamera)
	require.NoError(t, err)

	r.stop()

	select {
	case <-u1.session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session not torn down")
	}
	require.ErrorIs(t, u1.session.Err(), errs.ErrTransport)
	require.EqualValues(t, 1, u1.source.last().stops.Load())
}
