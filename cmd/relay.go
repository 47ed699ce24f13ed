package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/relay"
)

var (
	flagRelayAddr     string
	flagRelayLogLevel string
	flagRelayCodec    string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay that rooms are joined through. It checks room
passwords, hands out rosters and forwards offers, answers and ICE candidates
between participants of the same room.

Examples:
  meshcall relay
  meshcall relay --addr :9000 --codec msgpack --log-level debug`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRelay(config.RelayOptions{
			ConfigFile: flagConfigFile,
			Addr:       flagRelayAddr,
			LogLevel:   flagRelayLogLevel,
			Codec:      flagRelayCodec,
		})
		if err != nil {
			return err
		}

		srv, err := relay.NewServer(cfg, newRelayLogger(cfg.LogLevel))
		if err != nil {
			return err
		}
		return srv.ListenAndServe(cmd.Context())
	},
}

func newRelayLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "relay").
		Logger()
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", "", "Listen address (default :8080)")
	relayCmd.Flags().StringVar(&flagRelayLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	relayCmd.Flags().StringVar(&flagRelayCodec, "codec", "", "Signaling codec: json or msgpack")
}
