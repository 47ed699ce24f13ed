package errs

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelClosedIsTransport(t *testing.T) {
	require.ErrorIs(t, ErrChannelClosed, ErrTransport)
	require.NotErrorIs(t, ErrTransport, ErrChannelClosed)
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"op only", NewError("send", ErrChannelClosed), "send: signaling transport error: channel closed"},
		{"with peer", NewPeerError("answer", "u2", ErrNegotiation), "answer u2: negotiation failed"},
		{"with details", WrapError("dial", ErrTransport, "ws://x"), "dial: signaling transport error (ws://x)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapKeepsClassAndCause(t *testing.T) {
	err := WrapPeer("apply answer", "u3", ErrNegotiation, io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, ErrNegotiation)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, "u3", e.Peer)

	require.ErrorIs(t, Wrap("acquire", ErrMediaAcquisition, nil), ErrMediaAcquisition)
}
