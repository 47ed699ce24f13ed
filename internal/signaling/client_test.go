package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshcall/internal/errs"
)

func serve(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func dial(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := Dial(context.Background(), url)
	require.ErrorIs(t, err, errs.ErrTransport)
}

func TestDeliversKnownMessagesInOrder(t *testing.T) {
	url := serve(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"notifyparticipant","sender":"u2","username":"bob"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","text":"hi"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"streamstatus","sender":"u2","media":"video","status":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"userdisconnected","sender":"u2"}`))
		drain(conn)
	})

	c := dial(t, url)

	var mu sync.Mutex
	var got []string
	c.OnMessage(func(m *Message) {
		mu.Lock()
		got = append(got, m.Type)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{TypeNotifyParticipant, TypeStreamStatus, TypeUserDisconnected}, got)
}

func TestSendUsesCodecFrames(t *testing.T) {
	frames := make(chan []byte, 1)
	kinds := make(chan int, 1)
	url := serve(t, func(conn *websocket.Conn) {
		kind, data, err := conn.ReadMessage()
		if err == nil {
			kinds <- kind
			frames <- data
		}
		drain(conn)
	})

	c := dial(t, url, WithCodec(MsgpackCodec{}))
	mid := "0"
	require.NoError(t, c.Send(&Message{
		Type:      TypeSendCandidate,
		Sender:    "u1",
		Receiver:  "u2",
		Candidate: &Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid},
	}))

	require.Equal(t, websocket.BinaryMessage, <-kinds)
	msg, err := MsgpackCodec{}.Decode(<-frames)
	require.NoError(t, err)
	require.Equal(t, "u2", msg.Receiver)
	require.Equal(t, "0", *msg.Candidate.SDPMid)
}

func TestCloseIsTerminalAndNotifiesOnce(t *testing.T) {
	url := serve(t, drain)
	c := dial(t, url)

	var calls atomic.Int32
	causes := make(chan error, 2)
	c.OnClose(func(err error) {
		calls.Add(1)
		causes <- err
	})
	c.OnMessage(func(*Message) {})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-causes:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not called")
	}

	err := c.Send(&Message{Type: TypeNotifyParticipant})
	require.ErrorIs(t, err, errs.ErrChannelClosed)
	require.ErrorIs(t, err, errs.ErrTransport)

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load())

	// A handler installed after the fact still learns about the close.
	late := make(chan struct{})
	c.OnClose(func(error) { close(late) })
	<-late
}

func TestRemoteCloseReportsTransportError(t *testing.T) {
	url := serve(t, func(conn *websocket.Conn) {})

	c := dial(t, url)
	causes := make(chan error, 1)
	c.OnClose(func(err error) { causes <- err })

	select {
	case err := <-causes:
		require.ErrorIs(t, err, errs.ErrTransport)
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not called")
	}
}

func TestCandidateConversion(t *testing.T) {
	mid, idx := "audio", uint16(1)
	c := &Candidate{Candidate: "candidate:x", SDPMid: &mid, SDPMLineIndex: &idx}

	init := c.ToPion()
	require.Equal(t, "candidate:x", init.Candidate)
	require.Equal(t, uint16(1), *init.SDPMLineIndex)
	require.Equal(t, c, CandidateFromPion(init))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	require.Equal(t, "json", c.Name())

	c, err = CodecByName("msgpack")
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, c.FrameType())

	_, err = CodecByName("cbor")
	require.Error(t, err)
}

func TestRouterDropsUnhandled(t *testing.T) {
	r := NewRouter(nil)
	var seen []string
	r.Handle(TypeSendSDP, func(m *Message) { seen = append(seen, m.SDP) })

	r.Dispatch(&Message{Type: TypeSendSDP, SDP: "v=0"})
	r.Dispatch(&Message{Type: TypeAnswerSDP, SDP: "v=1"})
	r.Dispatch(nil)

	require.Equal(t, []string{"v=0"}, seen)
}
