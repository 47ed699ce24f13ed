package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/errs"
	"github.com/BioHazard786/meshcall/internal/files"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/participant"
	"github.com/BioHazard786/meshcall/internal/peer"
	"github.com/BioHazard786/meshcall/internal/room"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
)

const (
	authTimeout     = 15 * time.Second
	maxAuthAttempts = 3
)

type roomOptions struct {
	Room     string
	Password string
	Share    []media.Device
	Loop     bool
	Headless bool
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, errs.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// mediaFiles maps devices to the configured files, validating the ones
// the user asked to share right away.
func mediaFiles(cfg *config.Config, share []media.Device) (map[media.Device]string, error) {
	paths := map[media.Device]string{
		media.DeviceCamera:     cfg.Camera,
		media.DeviceScreen:     cfg.Screen,
		media.DeviceMicrophone: cfg.Microphone,
	}

	check := make(map[string]string)
	want := make(map[string]files.Container)
	for _, d := range share {
		if paths[d] == "" {
			return nil, fmt.Errorf("cannot share %s: no file configured (use --%s)", d, flagName(d))
		}
		check[string(d)] = paths[d]
		want[string(d)] = containerFor(d)
	}
	if len(check) > 0 {
		if _, err := files.ValidateMediaFiles(check, want); err != nil {
			return nil, err
		}
	}

	out := make(map[media.Device]string)
	for d, p := range paths {
		if p != "" {
			out[d] = p
		}
	}
	return out, nil
}

func containerFor(d media.Device) files.Container {
	if d == media.DeviceMicrophone {
		return files.ContainerOgg
	}
	return files.ContainerIVF
}

func flagName(d media.Device) string {
	if d == media.DeviceMicrophone {
		return "mic"
	}
	return string(d)
}

func runRoom(ctx context.Context, cfg *config.Config, opts roomOptions) error {
	paths, err := mediaFiles(cfg, opts.Share)
	if err != nil {
		return err
	}

	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	factory, err := peer.NewPionFactory(cfg, slog.Default())
	if err != nil {
		return err
	}

	fmt.Println()
	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()

	ch, err := signaling.Dial(ctx, cfg.RoomURL(opts.Room),
		signaling.WithCodec(codec),
		signaling.WithLogger(slog.Default()),
	)
	if err != nil {
		sp.Error("Could not reach the relay")
		return errs.NewError("connect to relay", err)
	}

	session := room.New(ch, room.Config{
		UserID:      cfg.UserID,
		Username:    cfg.Username,
		Factory:     factory,
		Source:      &media.FileSource{Files: paths, Logger: slog.Default()},
		Constraints: media.Constraints{Loop: opts.Loop},
		Logger:      slog.Default(),
	})
	defer session.Close()

	sp.UpdateMessage("Authenticating...")
	var prompt func() (string, error)
	if !opts.Headless {
		prompt = func() (string, error) {
			sp.Stop()
			return ui.PromptPassword(ctx, "Wrong password, or your id is already in the room. Try again:")
		}
	}
	err = authenticate(ctx, session, opts.Password, prompt)
	if err != nil {
		if errors.Is(err, errs.ErrAuthenticationRejected) {
			sp.Error("Wrong password, or your id is already in the room")
		} else {
			sp.Error("Authentication failed")
		}
		return err
	}
	sp.Success(fmt.Sprintf("Joined %s", opts.Room))

	info := ui.RoomInfo{Room: opts.Room, Server: cfg.Server, Username: cfg.Username}
	fmt.Println(info.View())

	for _, d := range opts.Share {
		if _, err := session.StartMedia(ctx, d); err != nil {
			ui.PrintWarning(fmt.Sprintf("Could not share %s: %v", d, err))
		}
	}

	if opts.Headless {
		return runHeadless(ctx, session)
	}
	return runInteractive(ctx, session, info)
}

type authenticator interface {
	Authenticate(ctx context.Context, password string) error
}

// authenticate joins the room, asking prompt for another password each time
// the relay rejects one. A nil prompt gives up on the first rejection.
func authenticate(ctx context.Context, s authenticator, password string, prompt func() (string, error)) error {
	for attempt := 1; ; attempt++ {
		authCtx, cancel := context.WithTimeout(ctx, authTimeout)
		err := s.Authenticate(authCtx, password)
		cancel()
		if err == nil || !errors.Is(err, errs.ErrAuthenticationRejected) {
			return err
		}
		if prompt == nil || attempt == maxAuthAttempts {
			return err
		}

		next, perr := prompt()
		if perr != nil {
			return err
		}
		password = next
	}
}

func runInteractive(ctx context.Context, session *room.Session, info ui.RoomInfo) error {
	view := ui.NewRoomUI(ctx, session, info)
	session.OnParticipants(func([]participant.Participant) { view.Refresh() })
	session.OnRemoteStreams(func(map[string][]room.RemoteStream) { view.Refresh() })
	session.OnConnectionState(view.PeerState)
	session.OnError(view.ReportError)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer session.Close()
		return view.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-session.Done():
			return session.Err()
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}

func runHeadless(ctx context.Context, session *room.Session) error {
	session.OnParticipants(func(ps []participant.Participant) {
		ui.PrintInfof("%d other participant(s) in the room", len(ps))
	})
	session.OnConnectionState(func(peerID string, state peer.State) {
		slog.Info("connection state", "peer", peerID, "state", state.String())
	})
	session.OnError(func(err error) {
		ui.PrintWarning(err.Error())
	})

	select {
	case <-ctx.Done():
		return nil
	case <-session.Done():
		return session.Err()
	}
}
