// Package transport provides the network bring-up primitives (DNS
// resolution, TCP dial, optional TLS) the session FSM drives through its
// WAIT_DNS/WAIT_TCP states. It is a thin seam over net/net.Dialer/crypto/tls
// so tests can substitute a fake dialer without touching real sockets.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Dialer abstracts connection establishment so session tests can inject a
// net.Pipe-backed fake without requiring a real listening socket.
type Dialer interface {
	// LookupHost resolves host to a list of IP address literals.
	LookupHost(ctx context.Context, host string) ([]string, error)
	// DialContext establishes a TCP (or TLS, when tlsConfig != nil) connection
	// to addr (host:port, host already resolved to an IP literal by the caller).
	DialContext(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error)
}

// StdDialer is the default Dialer backed by net.DefaultResolver and
// net.Dialer/tls.Client. Standard library use here is deliberate: there is no
// ecosystem replacement for DNS/TCP/TLS dialing in the example corpus, and
// net.Dialer.DialContext + tls.Client is the idiomatic way to do it.
type StdDialer struct {
	Timeout time.Duration
}

// NewStdDialer returns a Dialer with a sane default connect timeout.
func NewStdDialer(timeout time.Duration) *StdDialer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StdDialer{Timeout: timeout}
}

func (d *StdDialer) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

func (d *StdDialer) DialContext(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.Timeout}
	if tlsConfig == nil {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}
