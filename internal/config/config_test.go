package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	require.Equal(t, DefaultServer, cfg.Server)
	require.Equal(t, DefaultSTUN, cfg.STUNServer)
	require.Equal(t, "json", cfg.Codec)
	require.Len(t, cfg.UserID, 36)
	require.Equal(t, "guest-"+cfg.UserID[:8], cfg.Username)
	require.Nil(t, cfg.GetTURNServers())
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "meshcall.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server: ws://file:1\nusername: from-file\ncodec: msgpack\n"), 0o600))

	t.Setenv("MESHCALL_USERNAME", "from-env")

	cfg, err := Load(Options{ConfigFile: file, Server: "ws://flag:2"})
	require.NoError(t, err)

	require.Equal(t, "ws://flag:2", cfg.Server)
	require.Equal(t, "from-env", cfg.Username)
	require.Equal(t, "msgpack", cfg.Codec)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(Options{Server: "http://example.com"})
	require.Error(t, err)

	_, err = Load(Options{Codec: "xml"})
	require.Error(t, err)

	_, err = Load(Options{TURNServer: "turn.example.com"})
	require.Error(t, err)

	_, err = Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestRoomURL(t *testing.T) {
	cfg := &Config{Server: "wss://relay.example.com/"}
	require.Equal(t, "wss://relay.example.com/ws/rooms/blue-fox/", cfg.RoomURL("blue-fox"))
	require.Equal(t, "wss://relay.example.com/ws/rooms/a%20b/", cfg.RoomURL("a b"))
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn:turn.example.com", TURNUser: "u", TURNPass: "p"}
	require.Equal(t, []string{
		"turn:turn.example.com:3478?transport=udp",
		"turn:turn.example.com:3478?transport=tcp",
		"turns:turn.example.com:5349?transport=tcp",
	}, cfg.GetTURNServers())

	user, pass := cfg.GetTURNCredentials()
	require.Equal(t, "u", user)
	require.Equal(t, "p", pass)
}

func TestLoadRelay(t *testing.T) {
	cfg, err := LoadRelay(RelayOptions{Addr: ":9000"})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, 54*time.Second, cfg.PingPeriod)
	require.EqualValues(t, 65536, cfg.ReadLimit)

	t.Setenv("MESHCALL_CODEC", "yaml")
	_, err = LoadRelay(RelayOptions{})
	require.Error(t, err)
}
