package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// publicDNS are queried when the system resolver fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

// LookupFunc resolves host into its addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver tries the system resolver first and then races public servers.
type Resolver struct {
	Local         LookupFunc
	Remote        []LookupFunc
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
}

func NewResolver() *Resolver {
	remote := make([]LookupFunc, 0, len(publicDNS))
	for _, server := range publicDNS {
		remote = append(remote, serverLookup(server))
	}
	return &Resolver{
		Local:         (&net.Resolver{}).LookupHost,
		Remote:        remote,
		LocalTimeout:  time.Second,
		RemoteTimeout: 2 * time.Second,
	}
}

// Lookup resolves host to a single address, preferring IPv4.
// IP literals are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	if r.Local != nil {
		lctx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
		ips, err := r.Local(lctx, host)
		cancel()
		if err == nil {
			if ip, ok := pick(ips); ok {
				return ip, nil
			}
		}
	}

	return r.race(ctx, host)
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Remote) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no resolvers available", host)
	}

	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	results := make(chan result, len(r.Remote))
	for _, lookup := range r.Remote {
		go func(lookup LookupFunc) {
			ips, err := lookup(ctx, host)
			if err != nil {
				results <- result{err: err}
				return
			}
			ip, ok := pick(ips)
			if !ok {
				results <- result{err: errors.New("no IPs returned")}
				return
			}
			results <- result{ip: ip}
		}(lookup)
	}

	failures := 0
	for range r.Remote {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup for %s timed out during public DNS race", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d resolvers failed", host, failures)
}

// DialContext resolves the host part of addr before dialing, for use as a
// websocket dialer's NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func serverLookup(server string) LookupFunc {
	server = strings.Trim(server, "[]")
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return r.LookupHost
}

func pick(ips []string) (string, bool) {
	if len(ips) == 0 {
		return "", false
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, true
		}
	}
	return ips[0], true
}
