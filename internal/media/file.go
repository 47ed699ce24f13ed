package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/BioHazard786/meshcall/internal/files"
	"github.com/BioHazard786/meshcall/internal/signaling"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusSampleRate  = 48000
)

var fourCCMime = map[string]string{
	"VP80": webrtc.MimeTypeVP8,
	"VP90": webrtc.MimeTypeVP9,
	"AV01": webrtc.MimeTypeAV1,
}

// FileSource plays media files in real time in place of capture devices:
// IVF for camera and screen, Ogg/Opus for the microphone.
type FileSource struct {
	Files  map[Device]string
	Logger *slog.Logger
}

func (s *FileSource) Acquire(ctx context.Context, device Device, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	media, err := device.Media()
	if err != nil {
		return nil, err
	}
	path := s.Files[device]
	if path == "" {
		return nil, fmt.Errorf("no %s available", device)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	container := files.ContainerIVF
	if media == signaling.MediaAudio {
		container = files.ContainerOgg
	}
	info, err := files.ValidateMediaFile(path, container)
	if err != nil {
		return nil, err
	}

	st := &fileStream{
		path:   info.Path,
		device: device,
		loop:   c.Loop,
		done:   make(chan struct{}),
		log:    logger.With("device", device, "file", info.Name),
	}

	var pump func(ctx context.Context, f *os.File) error
	switch container {
	case files.ContainerIVF:
		pump, err = st.prepareIVF()
	case files.ContainerOgg:
		pump, err = st.prepareOgg()
	}
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	go st.run(runCtx, pump)
	return st, nil
}

type fileStream struct {
	path   string
	device Device
	loop   bool
	track  *webrtc.TrackLocalStaticSample
	log    *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (s *fileStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *fileStream) Done() <-chan struct{} {
	return s.done
}

// Stop ends playback and waits for the file to be closed.
func (s *fileStream) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}

func (s *fileStream) run(ctx context.Context, pump func(context.Context, *os.File) error) {
	defer close(s.done)

	for {
		f, err := os.Open(s.path)
		if err != nil {
			s.log.Error("failed to open media file", "err", err)
			return
		}
		err = pump(ctx, f)
		f.Close()

		switch {
		case errors.Is(err, io.EOF) && s.loop:
			select {
			case <-ctx.Done():
				return
			case <-time.After(oggPageDuration):
			}
			continue
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			return
		case err != nil:
			s.log.Error("media playback failed", "err", err)
			return
		}
	}
}

func (s *fileStream) prepareIVF() (func(context.Context, *os.File) error, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	_, header, err := ivfreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read ivf header: %w", err)
	}

	mime, ok := fourCCMime[header.FourCC]
	if !ok {
		return nil, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}

	s.track, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime}, "video", "meshcall-"+string(s.device))
	if err != nil {
		return nil, err
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	return func(ctx context.Context, f *os.File) error {
		reader, _, err := ivfreader.NewWith(f)
		if err != nil {
			return err
		}

		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			frame, _, err := reader.ParseNextFrame()
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				return err
			}
		}
	}, nil
}

func (s *fileStream) prepareOgg() (func(context.Context, *os.File) error, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	_, _, err = oggreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read ogg header: %w", err)
	}

	s.track, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "meshcall-"+string(s.device))
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, f *os.File) error {
		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			return err
		}

		var lastGranule uint64
		ticker := time.NewTicker(oggPageDuration)
		defer ticker.Stop()
		for {
			page, header, err := reader.ParseNextPage()
			if err != nil {
				return err
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := s.track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				return err
			}
		}
	}, nil
}
