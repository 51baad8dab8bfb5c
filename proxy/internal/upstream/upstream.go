// Package upstream opens server-side connections for the session
// engine: directly to the target, or through an external proxy with
// CONNECT negotiation for HTTPS, or through a SOCKS5 proxy.
package upstream

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/anvilproxy/anvil/proxy/internal/framing"
	"github.com/anvilproxy/anvil/proxy/internal/wire"
)

// ExternalProxy describes an upstream proxy the connection manager may
// relay through.
type ExternalProxy struct {
	Scheme   string // http, https or socks5
	Host     string
	Port     int
	Username string
	Password string
}

func (p *ExternalProxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL renders the descriptor for dialers that want a *url.URL.
func (p *ExternalProxy) URL() *url.URL {
	u := &url.URL{Scheme: p.Scheme, Host: p.Address()}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Connection is one open server-side connection.
type Connection struct {
	Host    string
	Port    int
	HTTPS   bool
	Version wire.Version

	Conn   net.Conn
	Reader *framing.Reader

	// Proxy is the external proxy in use, nil for a direct connection.
	Proxy *ExternalProxy

	// PreAuthUsed records that cached authorization headers were
	// attached before dispatch; the challenge handler uses it to tell
	// a stale credential from a missing one.
	PreAuthUsed bool

	// TLSFallback marks the degraded plain connection handed back
	// after a failed TLS handshake through a proxy tunnel. It cannot
	// serve the HTTPS request it was opened for.
	TLSFallback bool

	LastAccess time.Time
}

// Touch refreshes the idle timestamp.
func (c *Connection) Touch() {
	c.LastAccess = time.Now()
}

// Close releases the socket. Ownership is exclusive, so a double close
// is the only error swallowed here.
func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	if tc, ok := c.Conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	return c.Conn.Close()
}

func (c *Connection) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
