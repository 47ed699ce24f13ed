package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultServer    = "wss://meshcall.qzz.io"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultCodec     = "json"
	DefaultRelayAddr = ":8080"

	EnvPrefix = "MESHCALL"
)

// Config holds client configuration
type Config struct {
	// Server is the relay base URL (ws:// or wss://)
	Server string `mapstructure:"server"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`
	ForceRelay bool   `mapstructure:"force_relay"`

	UserID   string `mapstructure:"user_id"`
	Username string `mapstructure:"username"`
	Codec    string `mapstructure:"codec"`

	// Media files standing in for capture devices
	Camera     string `mapstructure:"camera"`
	Screen     string `mapstructure:"screen"`
	Microphone string `mapstructure:"microphone"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string

	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	UserID   string
	Username string
	Codec    string

	Camera     string
	Screen     string
	Microphone string
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (MESHCALL_*)
// 3. Config file, when one is given
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v, err := newViper(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server", DefaultServer)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("user_id", "")
	v.SetDefault("username", "")
	v.SetDefault("codec", DefaultCodec)
	v.SetDefault("camera", "")
	v.SetDefault("screen", "")
	v.SetDefault("microphone", "")

	override := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	override("server", opts.Server)
	override("stun_server", opts.STUNServer)
	override("turn_server", opts.TURNServer)
	override("turn_user", opts.TURNUser)
	override("turn_pass", opts.TURNPass)
	override("user_id", opts.UserID)
	override("username", opts.Username)
	override("codec", opts.Codec)
	override("camera", opts.Camera)
	override("screen", opts.Screen)
	override("microphone", opts.Microphone)
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if cfg.Username == "" {
		short := cfg.UserID
		if len(short) > 8 {
			short = short[:8]
		}
		cfg.Username = "guest-" + short
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", c.Server, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server URL %q: scheme must be ws or wss", c.Server)
	}
	if c.Codec != "json" && c.Codec != "msgpack" {
		return fmt.Errorf("invalid codec %q: must be json or msgpack", c.Codec)
	}
	if c.TURNServer != "" && (c.TURNUser == "" || c.TURNPass == "") {
		return errors.New("turn server configured without credentials")
	}
	return nil
}

// RoomURL returns the relay endpoint for a room
func (c *Config) RoomURL(room string) string {
	return fmt.Sprintf("%s/ws/rooms/%s/", strings.TrimRight(c.Server, "/"), url.PathEscape(room))
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// RelayConfig holds relay server configuration
type RelayConfig struct {
	Addr       string        `mapstructure:"addr"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	LogLevel   string        `mapstructure:"log_level"`
	Codec      string        `mapstructure:"codec"`
}

// RelayOptions for loading relay config with CLI flag overrides
type RelayOptions struct {
	ConfigFile string
	Addr       string
	LogLevel   string
	Codec      string
}

func LoadRelay(opts RelayOptions) (*RelayConfig, error) {
	v, err := newViper(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	v.SetDefault("addr", DefaultRelayAddr)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("codec", DefaultCodec)

	if opts.Addr != "" {
		v.Set("addr", opts.Addr)
	}
	if opts.LogLevel != "" {
		v.Set("log_level", opts.LogLevel)
	}
	if opts.Codec != "" {
		v.Set("codec", opts.Codec)
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse relay config: %w", err)
	}
	if cfg.Codec != "json" && cfg.Codec != "msgpack" {
		return nil, fmt.Errorf("invalid codec %q: must be json or msgpack", cfg.Codec)
	}
	if cfg.PingPeriod <= 0 {
		return nil, fmt.Errorf("invalid ping period %s", cfg.PingPeriod)
	}
	return &cfg, nil
}
