package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/room"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var (
	flagJoinServer     string
	flagJoinSTUN       string
	flagJoinTURN       string
	flagJoinTURNUser   string
	flagJoinTURNPass   string
	flagJoinRelay      bool
	flagJoinUserID     string
	flagJoinName       string
	flagJoinCodec      string
	flagJoinPassword   string
	flagJoinCamera     string
	flagJoinScreen     string
	flagJoinMicrophone string
	flagJoinShare      []string
	flagJoinLoop       bool
	flagJoinHeadless   bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room|url]",
	Aliases: []string{"j"},
	Short:   "Join a room, creating it if nobody is there yet",
	Long: `Join a mesh room through the relay. The first participant sets the
room password; everyone after must use the same one. Without a room name a
memorable one is generated.

Examples:
  meshcall join
  meshcall join swift-otter-harbor -p secret --camera cam.ivf --mic voice.ogg
  meshcall join wss://meshcall.qzz.io/ws/rooms/swift-otter-harbor/ --share camera`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			var err error
			if name, err = parseRoomInput(args[0]); err != nil {
				return err
			}
		} else {
			name = room.GenerateName()
			ui.PrintInfof("Created room name %s", ui.BoldStyle.Render(name))
		}

		share, err := parseDevices(flagJoinShare)
		if err != nil {
			return err
		}

		cfg, err := LoadConfig(config.Options{
			ConfigFile: flagConfigFile,
			Server:     flagJoinServer,
			STUNServer: flagJoinSTUN,
			TURNServer: flagJoinTURN,
			TURNUser:   flagJoinTURNUser,
			TURNPass:   flagJoinTURNPass,
			ForceRelay: flagJoinRelay,
			UserID:     flagJoinUserID,
			Username:   flagJoinName,
			Codec:      flagJoinCodec,
			Camera:     flagJoinCamera,
			Screen:     flagJoinScreen,
			Microphone: flagJoinMicrophone,
		})
		if err != nil {
			return err
		}

		return runRoom(cmd.Context(), cfg, roomOptions{
			Room:     name,
			Password: flagJoinPassword,
			Share:    share,
			Loop:     flagJoinLoop,
			Headless: flagJoinHeadless,
		})
	},
}

// parseRoomInput accepts a bare room name or a relay URL ending in
// /rooms/<name>/.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room name cannot be empty")
	}

	if strings.Contains(input, "://") {
		name, err := extractRoomFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room name: %s", name)
		return name, nil
	}

	if strings.Contains(input, "/") {
		return "", fmt.Errorf("invalid room name %q", input)
	}
	return input, nil
}

func extractRoomFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "rooms" && i+1 < len(parts) && parts[i+1] != "" {
			return url.PathUnescape(parts[i+1])
		}
	}

	return "", fmt.Errorf("could not extract room name from URL: %s", urlStr)
}

func parseDevices(names []string) ([]media.Device, error) {
	var out []media.Device
	seen := make(map[media.Device]bool)
	for _, n := range names {
		if n == "mic" {
			n = string(media.DeviceMicrophone)
		}
		d, err := media.ParseDevice(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		if seen[d] {
			continue
		}
		kind, _ := d.Media()
		for _, prev := range out {
			if k, _ := prev.Media(); k == kind {
				return nil, fmt.Errorf("cannot share %s and %s together: both are %s", prev, d, kind)
			}
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "Relay base URL (ws:// or wss://)")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagJoinRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagJoinUserID, "user-id", "", "Participant id (random by default)")
	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagJoinCodec, "codec", "", "Signaling codec: json or msgpack")
	joinCmd.Flags().StringVarP(&flagJoinPassword, "password", "p", "", "Room password")
	joinCmd.Flags().StringVar(&flagJoinCamera, "camera", "", "IVF file played as the camera")
	joinCmd.Flags().StringVar(&flagJoinScreen, "screen", "", "IVF file played as the screen share")
	joinCmd.Flags().StringVar(&flagJoinMicrophone, "mic", "", "Ogg/Opus file played as the microphone")
	joinCmd.Flags().StringSliceVar(&flagJoinShare, "share", nil, "Devices to share on join (camera, screen, mic)")
	joinCmd.Flags().BoolVar(&flagJoinLoop, "loop", false, "Loop media files instead of stopping at the end")
	joinCmd.Flags().BoolVar(&flagJoinHeadless, "headless", false, "Log room events instead of showing the interactive view")
}
