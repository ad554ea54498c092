// Package transport establishes the connection a session owns.  A
// Dialer decides how bytes reach the account service (plain TCP or
// through an SSH gateway); Open wraps the resulting net.Conn into the
// socket and stream handles that session.State holds and releases.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// TCPDialer dials the account service directly.  Only stream networks
// ("tcp", "tcp4", "tcp6") are accepted.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 = OS default, negative disables
	Source    string        // optional local host or host:port to dial from
}

func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("dial %s: unsupported network %q", address, network)
	}

	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	if d.Source != "" {
		src := d.Source
		if _, _, err := net.SplitHostPort(src); err != nil {
			src = net.JoinHostPort(src, "0")
		}
		a, err := net.ResolveTCPAddr(network, src)
		if err != nil {
			return nil, fmt.Errorf("resolve source %q: %w", d.Source, err)
		}
		dialer.LocalAddr = a
	}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op; TCPDialer holds nothing between dials.
func (d *TCPDialer) Close() error { return nil }
