package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Device is a local capture source.
type Device string

const (
	DeviceCamera     Device = "camera"
	DeviceScreen     Device = "screen"
	DeviceMicrophone Device = "microphone"
)

var Devices = []Device{DeviceCamera, DeviceScreen, DeviceMicrophone}

// Media returns the media kind the device feeds.
func (d Device) Media() (signaling.Media, error) {
	switch d {
	case DeviceCamera, DeviceScreen:
		return signaling.MediaVideo, nil
	case DeviceMicrophone:
		return signaling.MediaAudio, nil
	}
	return "", fmt.Errorf("%w: %q", errs.ErrUnknownKind, string(d))
}

func ParseDevice(s string) (Device, error) {
	d := Device(s)
	if _, err := d.Media(); err != nil {
		return "", err
	}
	return d, nil
}

// Constraints narrow what a source should deliver.
type Constraints struct {
	// Loop restarts finite sources instead of ending the stream.
	Loop bool
}

// Stream is an acquired capture stream.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the device. It is safe to call more than once.
	Stop()
	// Done is closed once the stream has ended, on its own or by Stop.
	Done() <-chan struct{}
}

// Source acquires capture streams. Acquire fails when the device is
// missing or access is denied.
type Source interface {
	Acquire(ctx context.Context, device Device, c Constraints) (Stream, error)
}
