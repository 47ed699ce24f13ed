package errs

import (
	"errors"
	"fmt"
)

var (
	ErrTransport              = errors.New("signaling transport error")
	ErrChannelClosed          = fmt.Errorf("%w: channel closed", ErrTransport)
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrNegotiation            = errors.New("negotiation failed")
	ErrMediaAcquisition       = errors.New("media acquisition failed")
	ErrSessionClosed          = errors.New("session closed")
	ErrUnknownKind            = errors.New("unknown media kind")
	ErrTimeout                = errors.New("timeout")
	ErrInvalidFile            = errors.New("invalid file")
)

// Error annotates a failure with the operation and, when relevant, the
// remote participant it concerns.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		if e.Details != "" {
			return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.Peer, e.Err, e.Details)
		}
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Wrap returns an error that matches both class and cause with errors.Is.
func Wrap(op string, class, cause error) *Error {
	if cause == nil {
		return NewError(op, class)
	}
	return &Error{Op: op, Err: errors.Join(class, cause)}
}

// WrapPeer is Wrap scoped to one remote participant.
func WrapPeer(op, peer string, class, cause error) *Error {
	e := Wrap(op, class, cause)
	e.Peer = peer
	return e
}
