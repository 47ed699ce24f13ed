package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func static(ips ...string) LookupFunc {
	return func(context.Context, string) ([]string, error) { return ips, nil }
}

func failing(context.Context, string) ([]string, error) {
	return nil, errors.New("nxdomain")
}

func TestLookupIPLiteral(t *testing.T) {
	r := &Resolver{Local: failing}
	ip, err := r.Lookup(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", ip)
}

func TestLookupPrefersLocalIPv4(t *testing.T) {
	r := &Resolver{Local: static("::1", "127.0.0.1"), LocalTimeout: time.Second}
	ip, err := r.Lookup(context.Background(), "relay.local")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", ip)
}

func TestLookupFallsBackToRace(t *testing.T) {
	r := &Resolver{
		Local:         failing,
		Remote:        []LookupFunc{failing, static("2001:db8::1")},
		LocalTimeout:  time.Second,
		RemoteTimeout: time.Second,
	}
	ip, err := r.Lookup(context.Background(), "relay.example")
	require.NoError(t, err)
	require.Equal(t, "2001:db8::1", ip)
}

func TestLookupAllFail(t *testing.T) {
	r := &Resolver{
		Local:         failing,
		Remote:        []LookupFunc{failing, failing},
		LocalTimeout:  time.Second,
		RemoteTimeout: time.Second,
	}
	_, err := r.Lookup(context.Background(), "relay.example")
	require.ErrorContains(t, err, "all 2 resolvers failed")
}
