package upstream

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/anvilproxy/anvil/proxy/internal/framing"
	"github.com/anvilproxy/anvil/proxy/internal/hostcache"
	"github.com/anvilproxy/anvil/proxy/internal/httpmsg"
	"github.com/anvilproxy/anvil/proxy/internal/wire"
)

// Config carries the knobs the manager needs from the proxy options.
type Config struct {
	BufferSize     int
	MaxLineSize    int
	ConnectTimeout time.Duration

	TLSMinVersion      uint16
	TLSMaxVersion      uint16
	InsecureSkipVerify bool

	// VerifyConnection and ClientCertificate mirror the tls.Config
	// callbacks of the same name; both may be nil.
	VerifyConnection  func(tls.ConnectionState) error
	ClientCertificate func(*tls.CertificateRequestInfo) (*tls.Certificate, error)

	KeyLogWriter io.Writer
}

// DialFunc opens a raw TCP connection. Tests substitute it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Manager resolves where a request's server connection goes and opens
// it. It is safe for concurrent use.
type Manager struct {
	cfg  Config
	auth *hostcache.AuthHeaderCache
	dial DialFunc
	log  *slog.Logger
}

func NewManager(cfg Config, auth *hostcache.AuthHeaderCache) *Manager {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8192
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:  cfg,
		auth: auth,
		dial: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		log:  slog.Default().With("in", "upstream.Manager"),
	}
}

// SetDial substitutes the raw dialer. Intended for tests.
func (m *Manager) SetDial(dial DialFunc) {
	m.dial = dial
}

// Connect opens a connection able to carry a request for target.
// headers is the outgoing header set; cached authorization headers for
// the target host are injected into it before dispatch. external, when
// non-nil and naming a host other than the target itself, routes the
// connection through that proxy, with a CONNECT tunnel first when
// https is requested.
func (m *Manager) Connect(ctx context.Context, target *url.URL, headers *httpmsg.Headers, version wire.Version, https bool, external *ExternalProxy) (*Connection, error) {
	host := target.Hostname()
	port := targetPort(target, https)

	conn := &Connection{
		Host:       host,
		Port:       port,
		HTTPS:      https,
		Version:    version,
		LastAccess: time.Now(),
	}

	if m.auth != nil && headers != nil {
		if cached, ok := m.auth.Get(host); ok {
			for _, h := range cached {
				headers.Set(h.Name, h.Value)
			}
			conn.PreAuthUsed = true
		}
	}

	proxied := external != nil && !strings.EqualFold(external.Host, host)
	if proxied {
		conn.Proxy = external
	}

	raw, err := m.dialRaw(ctx, host, port, proxied, external)
	if err != nil {
		return nil, err
	}

	if https {
		raw, err = m.negotiateTLS(ctx, raw, conn, host, port, proxied, external)
		if err != nil {
			return nil, err
		}
	}

	conn.Conn = raw
	conn.Reader = framing.NewReader(raw, m.cfg.BufferSize, m.cfg.MaxLineSize)
	return conn, nil
}

// ConnectRaw opens a connection for a byte relay. When tunnel is set
// and an external proxy is in the path, a CONNECT tunnel is negotiated
// first so the bytes still reach the target. When handshake is set the
// target TLS session is established before the relay starts, for
// callers pumping bytes that were already decrypted on the client
// side.
func (m *Manager) ConnectRaw(ctx context.Context, host string, port int, version wire.Version, tunnel, handshake bool, external *ExternalProxy) (*Connection, error) {
	conn := &Connection{
		Host:       host,
		Port:       port,
		Version:    version,
		LastAccess: time.Now(),
	}
	proxied := external != nil && !strings.EqualFold(external.Host, host)
	if proxied {
		conn.Proxy = external
	}

	raw, err := m.dialRaw(ctx, host, port, proxied, external)
	if err != nil {
		return nil, err
	}
	if tunnel && proxied && external.Scheme != "socks5" {
		if err := m.connectThroughProxy(ctx, raw, version, host, port, external); err != nil {
			raw.Close()
			return nil, err
		}
	}
	if handshake {
		tlsConn := tls.Client(raw, m.tlsConfig(host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
		}
		raw = tlsConn
		conn.HTTPS = true
	}

	conn.Conn = raw
	conn.Reader = framing.NewReader(raw, m.cfg.BufferSize, m.cfg.MaxLineSize)
	return conn, nil
}

func (m *Manager) dialRaw(ctx context.Context, host string, port int, proxied bool, external *ExternalProxy) (net.Conn, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	if proxied && external.Scheme == "socks5" {
		return m.dialSOCKS5(ctx, external, address)
	}
	if proxied {
		address = external.Address()
	}
	raw, err := m.dial(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return raw, nil
}

func (m *Manager) dialSOCKS5(ctx context.Context, external *ExternalProxy, address string) (net.Conn, error) {
	var auth *xproxy.Auth
	if external.Username != "" {
		auth = &xproxy.Auth{User: external.Username, Password: external.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", external.Address(), auth, dialerFunc(m.dial))
	if err != nil {
		return nil, err
	}
	dc, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support DialContext")
	}
	return dc.DialContext(ctx, "tcp", address)
}

// negotiateTLS runs the CONNECT handshake through an external proxy if
// needed, then the TLS client handshake. A handshake failure through a
// proxy tunnel hands back a fresh plain connection to the proxy
// instead of an error; TLSFallback marks it and the caller must fail
// the original HTTPS intent itself.
func (m *Manager) negotiateTLS(ctx context.Context, raw net.Conn, conn *Connection, host string, port int, proxied bool, external *ExternalProxy) (net.Conn, error) {
	if proxied && external.Scheme != "socks5" {
		if err := m.connectThroughProxy(ctx, raw, conn.Version, host, port, external); err != nil {
			raw.Close()
			return nil, err
		}
	}

	tlsConn := tls.Client(raw, m.tlsConfig(host))
	raw.SetDeadline(time.Now().Add(m.cfg.ConnectTimeout))
	err := tlsConn.HandshakeContext(ctx)
	raw.SetDeadline(time.Time{})
	if err == nil {
		return tlsConn, nil
	}

	raw.Close()
	if !proxied {
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}

	m.log.Warn("tls handshake through proxy tunnel failed, returning plain proxy connection",
		"host", host, "proxy", external.Address(), "error", err)
	fallback, ferr := m.dial(ctx, "tcp", external.Address())
	if ferr != nil {
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	conn.TLSFallback = true
	return fallback, nil
}

func (m *Manager) connectThroughProxy(ctx context.Context, raw net.Conn, version wire.Version, host string, port int, external *ExternalProxy) error {
	target := net.JoinHostPort(host, strconv.Itoa(port))

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s %s\r\n", target, version.String())
	fmt.Fprintf(&b, "Host: %s\r\n", target)
	b.WriteString("Connection: Keep-Alive\r\n")
	b.WriteString("Proxy-Connection: Keep-Alive\r\n")
	if external.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(external.Username + ":" + external.Password))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	if m.auth != nil {
		for _, h := range m.auth.ProxyAuthorization(external.Host) {
			fmt.Fprintf(&b, "%s\r\n", h.String())
		}
	}
	b.WriteString("\r\n")

	raw.SetDeadline(time.Now().Add(m.cfg.ConnectTimeout))
	defer raw.SetDeadline(time.Time{})

	if _, err := io.WriteString(raw, b.String()); err != nil {
		return fmt.Errorf("proxy connect write: %w", err)
	}

	reader := framing.NewReader(raw, m.cfg.BufferSize, m.cfg.MaxLineSize)
	status, ok := wire.ParseStatusLine(reader.ReadLine(ctx))
	if !ok {
		return fmt.Errorf("proxy connect: unparsable response from %s", external.Address())
	}
	reader.ReadLines(ctx)
	if status.Code != 200 {
		return fmt.Errorf("proxy connect: %d %s", status.Code, status.Reason)
	}
	return nil
}

func (m *Manager) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName:           host,
		MinVersion:           m.cfg.TLSMinVersion,
		MaxVersion:           m.cfg.TLSMaxVersion,
		InsecureSkipVerify:   m.cfg.InsecureSkipVerify,
		VerifyConnection:     m.cfg.VerifyConnection,
		GetClientCertificate: m.cfg.ClientCertificate,
		KeyLogWriter:         m.cfg.KeyLogWriter,
	}
}

func targetPort(target *url.URL, https bool) int {
	if p := target.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if https {
		return 443
	}
	return 80
}

// dialerFunc adapts DialFunc to the x/net/proxy dialer interfaces.
type dialerFunc DialFunc

func (d dialerFunc) Dial(network, address string) (net.Conn, error) {
	return d(context.Background(), network, address)
}

func (d dialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d(ctx, network, address)
}
