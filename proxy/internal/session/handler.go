package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/anvilproxy/anvil/internal/helper"
	"github.com/anvilproxy/anvil/proxy/internal/encoding"
	"github.com/anvilproxy/anvil/proxy/internal/framing"
	"github.com/anvilproxy/anvil/proxy/internal/hostcache"
	"github.com/anvilproxy/anvil/proxy/internal/httpmsg"
	"github.com/anvilproxy/anvil/proxy/internal/upstream"
	"github.com/anvilproxy/anvil/proxy/internal/wire"
)

const acceptedEncodings = "gzip,deflate,zlib"

// CertSource issues the server certificates used to intercept TLS.
type CertSource interface {
	GetOrCreate(host string) (*tls.Certificate, error)
}

// Credentials is a username/password pair handed out by the
// credential provider on an upstream auth challenge.
type Credentials struct {
	Username string
	Password string
}

// Config is the session engine's slice of the proxy options.
type Config struct {
	BufferSize      int
	MaxLineSize     int
	MaxResponseSize int64
	ConnectTimeout  time.Duration

	// TaskTimeout bounds raw byte relays; zero means unbounded.
	TaskTimeout time.Duration

	// Enable100Continue turns on the strict Expect negotiation: the
	// headers go out first and the body waits for the provisional
	// response.
	Enable100Continue bool

	// AuthenticateUser gates explicit endpoints with Basic proxy
	// auth; nil disables the gate. Realm names the 407 challenge.
	AuthenticateUser func(username, password string) bool
	Realm            string

	// CredentialProvider supplies credentials for upstream 401/407
	// challenges; nil disables the replay.
	CredentialProvider func(ctx context.Context) (*Credentials, error)

	// SelectUpstreamProxy overrides the static external proxy choice
	// per session; returning nil keeps the default.
	SelectUpstreamProxy func(s *Session) *upstream.ExternalProxy
	ExternalHTTP        *upstream.ExternalProxy
	ExternalHTTPS       *upstream.ExternalProxy

	// ErrorFunc is the single error reporting surface. Nil is a
	// no-op.
	ErrorFunc func(error)
}

// ExplicitOptions configures one explicit (CONNECT-negotiating)
// endpoint.
type ExplicitOptions struct {
	// ExcludedHosts lists host[:port] patterns whose CONNECT targets
	// are relayed raw instead of intercepted; `*` wildcards allowed.
	ExcludedHosts []string
}

// TransparentOptions configures one transparent endpoint.
type TransparentOptions struct {
	EnableTLS bool
	// GenericCertName names the certificate served before any SNI is
	// known. Defaults to "localhost".
	GenericCertName string
}

// Handler owns the per-connection state machine. One Handler serves
// all connections of a proxy instance; per-connection state lives in
// locals and Sessions.
type Handler struct {
	cfg     Config
	hooks   *Hooks
	manager *upstream.Manager
	certs   CertSource
	auth    *hostcache.AuthHeaderCache
	bodies  *hostcache.BodyCache
	procs   ProcessLookup
	log     *slog.Logger
}

func NewHandler(cfg Config, hooks *Hooks, manager *upstream.Manager, certs CertSource, auth *hostcache.AuthHeaderCache, bodies *hostcache.BodyCache, procs ProcessLookup) *Handler {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8192
	}
	if cfg.Realm == "" {
		cfg.Realm = "AnvilProxy"
	}
	if hooks == nil {
		hooks = NewHooks(0)
	}
	if auth == nil {
		auth = hostcache.NewAuthHeaderCache()
	}
	if bodies == nil {
		bodies = hostcache.NewBodyCache()
	}
	return &Handler{
		cfg:     cfg,
		hooks:   hooks,
		manager: manager,
		certs:   certs,
		auth:    auth,
		bodies:  bodies,
		procs:   procs,
		log:     slog.Default().With("in", "session.Handler"),
	}
}

func (h *Handler) report(err error) {
	if err == nil || h.cfg.ErrorFunc == nil {
		return
	}
	h.cfg.ErrorFunc(err)
}

// HandleExplicit serves one client connection on an explicit endpoint.
// It owns conn and always closes it.
func (h *Handler) HandleExplicit(ctx context.Context, conn net.Conn, opts ExplicitOptions) {
	defer conn.Close()

	logger := h.log.With("client", conn.RemoteAddr().String())
	reader := framing.NewReader(conn, h.cfg.BufferSize, h.cfg.MaxLineSize)

	line := reader.ReadLine(ctx)
	rl := wire.ParseRequestLine(line)
	if rl.Method == "" {
		// nothing parsable to reply to
		return
	}

	if rl.Method != "CONNECT" {
		h.requestLoop(ctx, conn, reader, loopOptions{scheme: "http", authGate: true, firstLine: line})
		return
	}

	host, port := hostPort(rl.Target, 443)
	version := rl.Version
	if version.IsZero() {
		version = wire.Version{Major: 1, Minor: 1}
	}
	connectHeaders := readHeaders(ctx, reader)

	if !h.authorized(connectHeaders) {
		h.writeProxyAuthChallenge(conn, version)
		return
	}

	if err := writeConnectEstablished(conn, version); err != nil {
		h.report(err)
		return
	}

	excluded := helper.MatchHost(rl.Target, opts.ExcludedHosts)
	if excluded || port == 80 {
		logger.Debug("relaying CONNECT target raw", "host", host, "port", port, "excluded", excluded)
		// the bytes stay opaque, so no upstream handshake; but any
		// non-plain-HTTP CONNECT target still needs a tunnel through
		// an external proxy
		h.sendRaw(ctx, conn, reader, host, port, version, nil, port != 80, false)
		return
	}

	tlsConn, err := h.interceptTLS(conn, host)
	if err != nil {
		h.report(fmt.Errorf("tls intercept %s: %w", host, err))
		return
	}
	defer tlsConn.Close()

	tunnelHost := rl.Target
	reader = framing.NewReader(tlsConn, h.cfg.BufferSize, h.cfg.MaxLineSize)
	h.requestLoop(ctx, tlsConn, reader, loopOptions{scheme: "https", tunnelHost: tunnelHost})
}

// HandleTransparent serves one client connection on a transparent
// endpoint. TLS, when enabled, is terminated before the first byte of
// HTTP is read.
func (h *Handler) HandleTransparent(ctx context.Context, conn net.Conn, opts TransparentOptions) {
	defer conn.Close()

	scheme := "http"
	var rw net.Conn = conn
	if opts.EnableTLS {
		// Redirected clients do not always speak TLS even on a TLS
		// endpoint. Sniff before handshaking.
		br := bufio.NewReaderSize(conn, h.cfg.BufferSize)
		rw = &bufferedConn{Conn: conn, r: br}
		peek, err := br.Peek(3)
		if err != nil {
			return
		}
		if helper.IsTLS(peek) {
			name := opts.GenericCertName
			if name == "" {
				name = "localhost"
			}
			tlsConn, err := h.interceptTLS(rw, name)
			if err != nil {
				h.report(fmt.Errorf("tls intercept %s: %w", name, err))
				return
			}
			defer tlsConn.Close()
			rw = tlsConn
			scheme = "https"
		}
	}

	reader := framing.NewReader(rw, h.cfg.BufferSize, h.cfg.MaxLineSize)
	h.requestLoop(ctx, rw, reader, loopOptions{scheme: scheme})
}

// bufferedConn replays bytes peeked off a connection during protocol
// sniffing.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (h *Handler) interceptTLS(conn net.Conn, host string) (*tls.Conn, error) {
	if h.certs == nil {
		return nil, errors.New("no certificate source configured")
	}
	cert, err := h.certs.GetOrCreate(host)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Server(conn, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		KeyLogWriter: helper.GetTLSKeyLogWriter(),
	})
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

type loopOptions struct {
	scheme     string
	tunnelHost string // host[:port] of an intercepted CONNECT tunnel
	authGate   bool
	firstLine  string
}

// requestLoop processes pipelined requests until the connection is
// done. Within one connection requests are strictly sequential.
func (h *Handler) requestLoop(ctx context.Context, conn net.Conn, reader *framing.Reader, opts loopOptions) {
	first := true
	for {
		line := opts.firstLine
		if !first || line == "" {
			line = reader.ReadLine(ctx)
		}
		first = false
		opts.firstLine = ""

		rl := wire.ParseRequestLine(line)
		if rl.Method == "" {
			return
		}

		headers := readHeaders(ctx, reader)
		if opts.authGate && !h.authorized(headers) {
			version := rl.Version
			if version.IsZero() {
				version = wire.Version{Major: 1, Minor: 1}
			}
			h.writeProxyAuthChallenge(conn, version)
			return
		}

		target, err := targetURL(rl, headers, opts.scheme, opts.tunnelHost)
		if err != nil {
			h.report(fmt.Errorf("resolve target of %q: %w", line, err))
			return
		}

		s := h.newSession(ctx, conn, reader, opts.scheme == "https")
		s.Request = h.buildRequest(rl, headers, target)

		keepAlive, err := h.handleExchange(ctx, s, conn, reader, line, headers)
		h.bodies.Remove(s.ID.String())
		if err != nil {
			h.report(err)
			return
		}
		if !keepAlive {
			return
		}
	}
}

func (h *Handler) buildRequest(rl wire.RequestLine, headers *httpmsg.Headers, target *url.URL) *httpmsg.Request {
	req := httpmsg.NewRequest()
	req.Method = rl.Method
	req.RawTarget = rl.Target
	req.URL = target
	req.Headers = headers
	req.Version = rl.Version
	if req.Version.IsZero() {
		req.Version = wire.Version{Major: 1, Minor: 1}
	}
	return req
}

// handleExchange runs one request through hooks, dispatch and relay.
// It reports whether the connection may serve another request.
func (h *Handler) handleExchange(ctx context.Context, s *Session, conn net.Conn, reader *framing.Reader, rawLine string, headers *httpmsg.Headers) (bool, error) {
	if err := h.hooks.RunRequest(ctx, s); err != nil {
		return false, fmt.Errorf("request hooks: %w", err)
	}

	if s.Request.Cancelled {
		if s.Response == nil {
			// cancelled with nothing to say: close without forwarding
			return false, nil
		}
		if err := h.writeResponse(ctx, s, conn); err != nil {
			return false, err
		}
		return s.Response.KeepAlive(), nil
	}

	if s.Request.UpgradesToWebSocket() {
		prefix := headBytes(s.Request.RequestLine(originForm(s.Request)), s.Request.Headers)
		host, port := hostPort(s.Request.URL.Host, schemePort(s.Request.URL.Scheme))
		// inside an intercepted tunnel the relayed bytes are already
		// decrypted, so the upstream side must re-encrypt them
		h.sendRaw(ctx, conn, reader, host, port, s.Request.Version, prefix, s.HTTPS, s.HTTPS)
		return false, nil
	}

	if err := h.dispatch(ctx, s); err != nil {
		return false, err
	}
	if err := h.writeResponse(ctx, s, conn); err != nil {
		return false, err
	}

	if s.Upstream != nil {
		s.Upstream.Touch()
		if !s.Response.KeepAlive() {
			s.Upstream.Close()
		}
	}
	return s.Response.KeepAlive(), nil
}

// dispatch drives steps upstream: connect, send, receive, challenge
// replay. On return s.Response is populated.
func (h *Handler) dispatch(ctx context.Context, s *Session) error {
	external := h.externalProxyFor(s)

	for {
		conn, err := h.manager.Connect(ctx, s.Request.URL, s.Request.Headers, s.Request.Version, s.HTTPS, external)
		if err != nil {
			return fmt.Errorf("upstream connect: %w", err)
		}
		if conn.TLSFallback {
			conn.Close()
			return fmt.Errorf("upstream tls unavailable for %s", s.Request.URL.Host)
		}
		s.Upstream = conn

		// a replay cannot re-stream a consumed body, so buffer it up
		// front whenever a replay or recording might need it
		if (s.Request.RecordBody || h.cfg.CredentialProvider != nil) && s.Request.HasBody() && !s.Request.BodyRead {
			if err := s.readRequestBody(); err != nil && !errors.Is(err, ErrBodyNotFound) {
				conn.Close()
				return fmt.Errorf("read request body: %w", err)
			}
			if s.Request.BodyRead && s.Request.ExpectContinue() {
				// the body goes out eagerly now, so the negotiation no
				// longer applies
				s.Request.Headers.Del("Expect")
			}
			if s.Request.RecordBody && s.Request.BodyRead {
				h.bodies.Put(s.ID.String(), string(s.Request.Body))
			}
		}

		s.Request.Locked = true

		early, err := h.sendRequest(ctx, s)
		if err != nil {
			conn.Close()
			return fmt.Errorf("send request: %w", err)
		}

		resp := early
		if resp == nil {
			resp, err = h.receiveResponse(ctx, s)
			if err != nil {
				conn.Close()
				return fmt.Errorf("receive response: %w", err)
			}
		}
		s.Response = resp

		h.handleChallenge(ctx, s)

		if !s.Response.Locked {
			if err := h.hooks.RunResponse(ctx, s); err != nil {
				conn.Close()
				return fmt.Errorf("response hooks: %w", err)
			}
		}

		if s.reRequest {
			s.reRequest = false
			conn.Close()
			s.Upstream = nil
			s.Request.Locked = false
			continue
		}
		return nil
	}
}

func (h *Handler) externalProxyFor(s *Session) *upstream.ExternalProxy {
	external := h.cfg.ExternalHTTP
	if s.HTTPS {
		external = h.cfg.ExternalHTTPS
	}
	if h.cfg.SelectUpstreamProxy != nil {
		if p := h.cfg.SelectUpstreamProxy(s); p != nil {
			external = p
		}
	}
	return external
}

// sendRequest writes the request head and body upstream. When the
// Expect negotiation intercepts a final response early, it is returned
// and the body is withheld.
func (h *Handler) sendRequest(ctx context.Context, s *Session) (*httpmsg.Response, error) {
	req := s.Request
	w := s.Upstream.Conn

	req.Headers.Set("Accept-Encoding", acceptedEncodings)
	foldProxyConnection(req.Headers)

	var body []byte
	if req.BodyRead {
		encoded, err := recompress(req.Body, req.ContentEncoding())
		if err != nil {
			return nil, err
		}
		body = encoded
		if !req.Chunked() {
			req.SetContentLength(int64(len(body)))
		}
	}

	target := h.requestTarget(s)

	if h.cfg.Enable100Continue && req.ExpectContinue() && !req.BodyRead {
		if err := writeHead(w, req.RequestLine(target), req.Headers); err != nil {
			return nil, err
		}
		status, ok := wire.ParseStatusLine(s.Upstream.Reader.ReadLine(ctx))
		if !ok {
			return nil, errors.New("unparsable provisional response")
		}
		switch status.Code {
		case 100:
			// a provisional head carries no fields, only the blank line
			s.Upstream.Reader.ReadLine(ctx)
			req.Is100Continue = true
			if err := writeBareStatus(s.ClientConn, req.Version, 100, "Continue"); err != nil {
				return nil, err
			}
		case 417:
			s.Upstream.Reader.ReadLine(ctx)
			req.ExpectationFailed = true
			return responseFrom(status), nil
		default:
			// the server skipped the provisional step; this line and
			// the headers after it are the real response
			resp := responseFrom(status)
			resp.Headers = readHeaders(ctx, s.Upstream.Reader)
			return resp, nil
		}
		return nil, h.sendRequestBody(ctx, s, body)
	}

	if err := writeHead(w, req.RequestLine(target), req.Headers); err != nil {
		return nil, err
	}
	return nil, h.sendRequestBody(ctx, s, body)
}

func (h *Handler) sendRequestBody(ctx context.Context, s *Session, buffered []byte) error {
	req := s.Request
	w := s.Upstream.Conn
	if req.BodyRead {
		return framing.WriteBody(w, buffered, req.Chunked())
	}
	if req.HasBody() {
		return s.reader.StreamBody(ctx, w, h.cfg.BufferSize, req.Chunked(), req.ContentLength())
	}
	return nil
}

// requestTarget picks the request-line target token: absolute form
// through a plain-HTTP external proxy, origin form otherwise.
func (h *Handler) requestTarget(s *Session) string {
	if s.Upstream.Proxy != nil && !s.HTTPS {
		return s.Request.URL.String()
	}
	return originForm(s.Request)
}

func originForm(req *httpmsg.Request) string {
	if req.URL == nil {
		return req.RawTarget
	}
	target := req.URL.RequestURI()
	if target == "" {
		target = "/"
	}
	return target
}

func responseFrom(status wire.StatusLine) *httpmsg.Response {
	resp := httpmsg.NewResponse()
	resp.Version = status.Version
	resp.StatusCode = status.Code
	resp.Status = status.Reason
	return resp
}

// receiveResponse parses the status line and headers of the next
// response. An empty first line is retried once; provisional 100 and
// spontaneous 417 responses are skipped through to the real one that
// follows.
func (h *Handler) receiveResponse(ctx context.Context, s *Session) (*httpmsg.Response, error) {
	r := s.Upstream.Reader
	for {
		line := r.ReadLine(ctx)
		if line == "" {
			line = r.ReadLine(ctx)
		}
		status, ok := wire.ParseStatusLine(line)
		if !ok {
			return nil, fmt.Errorf("unparsable response line %q", line)
		}
		if status.Code == 100 || status.Code == 417 {
			if status.Code == 417 {
				s.Request.ExpectationFailed = true
			}
			r.ReadLines(ctx)
			continue
		}
		resp := responseFrom(status)
		resp.Headers = readHeaders(ctx, r)
		return resp, nil
	}
}

// handleChallenge reacts to a 401/407: attach credentials and replay
// once; a repeated identical challenge invalidates the cached
// credential instead of looping.
func (h *Handler) handleChallenge(ctx context.Context, s *Session) {
	code := s.Response.StatusCode
	if code != 401 && code != 407 || h.cfg.CredentialProvider == nil {
		return
	}

	challenge := findAuthenticateHeader(s.Response.Headers)
	if challenge == "" {
		return
	}
	host := s.Request.URL.Hostname()

	if (s.replayed || s.Upstream.PreAuthUsed) && s.lastChallenge == code {
		// the credential we just presented was rejected again
		h.auth.Remove(host)
		s.lastChallenge = code
		return
	}
	s.lastChallenge = code

	creds, err := h.cfg.CredentialProvider(ctx)
	if err != nil || creds == nil {
		return
	}

	attach := "Authorization"
	if strings.HasPrefix(strings.ToLower(challenge), "proxy") {
		attach = "Proxy-Authorization"
	}
	value := "Basic " + base64.StdEncoding.EncodeToString([]byte(creds.Username+":"+creds.Password))
	s.Request.Headers.Set(attach, value)
	s.Request.Headers.Set("Connection", "Keep-Alive")
	h.auth.Put(host, []httpmsg.Header{{Name: attach, Value: value}})

	s.replayed = true
	s.reRequest = true
}

func findAuthenticateHeader(headers *httpmsg.Headers) string {
	for _, hd := range headers.All() {
		if strings.HasSuffix(strings.ToLower(hd.Name), "-authenticate") {
			return hd.Name
		}
	}
	return ""
}

// writeResponse relays s.Response to the client, re-framing the body
// when a hook rewrote it.
func (h *Handler) writeResponse(ctx context.Context, s *Session, w io.Writer) error {
	resp := s.Response
	foldProxyConnection(resp.Headers)

	if resp.BodyRead || resp.Locked {
		body := resp.Body
		if resp.BodyRead && !resp.Locked {
			encoded, err := recompress(resp.Body, resp.ContentEncoding())
			if err != nil {
				return err
			}
			body = encoded
		}
		if !resp.Chunked() {
			resp.SetContentLength(int64(len(body)))
		}
		if err := writeHead(w, resp.StatusLine(), resp.Headers); err != nil {
			return err
		}
		return framing.WriteBody(w, body, resp.Chunked())
	}

	if err := writeHead(w, resp.StatusLine(), resp.Headers); err != nil {
		return err
	}
	hasBody := resp.Chunked() || resp.ContentLength() > 0 || !resp.KeepAlive()
	if !hasBody || s.Upstream == nil {
		return nil
	}
	return s.Upstream.Reader.StreamBody(ctx, w, h.cfg.BufferSize, resp.Chunked(), resp.ContentLength())
}

// sendRaw degrades the connection to a blind byte pump between client
// and target, used for excluded CONNECT hosts and WebSocket upgrades.
func (h *Handler) sendRaw(ctx context.Context, clientConn net.Conn, clientReader *framing.Reader, host string, port int, version wire.Version, prefix []byte, tunnel, handshake bool) {
	external := h.cfg.ExternalHTTP
	if tunnel {
		external = h.cfg.ExternalHTTPS
	}
	conn, err := h.manager.ConnectRaw(ctx, host, port, version, tunnel, handshake, external)
	if err != nil {
		h.report(fmt.Errorf("raw relay connect %s:%d: %w", host, port, err))
		return
	}
	defer conn.Close()

	if len(prefix) > 0 {
		if _, err := conn.Conn.Write(prefix); err != nil {
			h.report(fmt.Errorf("raw relay prefix: %w", err))
			return
		}
	}

	h.relay(ctx, clientConn, clientReader, conn)
}

// relay pumps bytes both ways until either side closes, the context is
// cancelled or the task timeout elapses. Both directions are torn down
// together.
func (h *Handler) relay(ctx context.Context, clientConn net.Conn, clientReader *framing.Reader, conn *upstream.Connection) {
	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn.Conn, clientReader)
		done <- err
	}()
	go func() {
		_, err := io.Copy(clientConn, conn.Reader)
		done <- err
	}()

	var timeout <-chan time.Time
	if h.cfg.TaskTimeout > 0 {
		timer := time.NewTimer(h.cfg.TaskTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
			h.log.Debug("raw relay ended", "error", err)
		}
	case <-ctx.Done():
	case <-timeout:
	}
	conn.Close()
	clientConn.Close()
}

func (h *Handler) authorized(headers *httpmsg.Headers) bool {
	if h.cfg.AuthenticateUser == nil {
		return true
	}
	value := headers.Get("Proxy-Authorization")
	if value == "" {
		return false
	}
	const prefix = "basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value[len(prefix):]))
	if err != nil {
		return false
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	return h.cfg.AuthenticateUser(username, password)
}

func (h *Handler) writeProxyAuthChallenge(w io.Writer, version wire.Version) {
	fmt.Fprintf(w, "%s 407 Proxy Authentication Required\r\n", version.String())
	fmt.Fprintf(w, "Proxy-Authenticate: Basic realm=%q\r\n", h.cfg.Realm)
	io.WriteString(w, "Proxy-Connection: close\r\n\r\n")
}

// writeConnectEstablished emits the tunnel acknowledgment, timestamp
// included.
func writeConnectEstablished(w io.Writer, version wire.Version) error {
	_, err := fmt.Fprintf(w, "%s 200 Connection established\r\nTimestamp: %s\r\n\r\n",
		version.String(), time.Now().UTC().Format(time.RFC1123))
	return err
}

func writeBareStatus(w io.Writer, version wire.Version, code int, reason string) error {
	_, err := fmt.Fprintf(w, "%s %d %s\r\n\r\n", version.String(), code, reason)
	return err
}

func writeHead(w io.Writer, firstLine string, headers *httpmsg.Headers) error {
	_, err := w.Write(headBytes(firstLine, headers))
	return err
}

func headBytes(firstLine string, headers *httpmsg.Headers) []byte {
	var b strings.Builder
	b.WriteString(firstLine)
	b.WriteString("\r\n")
	for _, hd := range headers.All() {
		b.WriteString(hd.String())
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func readHeaders(ctx context.Context, r *framing.Reader) *httpmsg.Headers {
	headers := httpmsg.NewHeaders()
	for _, line := range r.ReadLines(ctx) {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers.Add(name, value)
	}
	return headers
}

// foldProxyConnection hides the nonstandard Proxy-Connection header
// from the other side.
func foldProxyConnection(headers *httpmsg.Headers) {
	if !headers.Has("Proxy-Connection") {
		return
	}
	if !headers.Has("Connection") {
		headers.Set("Connection", headers.Get("Proxy-Connection"))
	}
	headers.Del("Proxy-Connection")
}

// recompress re-encodes a rewritten body with its declared coding.
// Unknown codings pass the bytes through untouched.
func recompress(body []byte, coding string) ([]byte, error) {
	encoded, err := encoding.Compress(body, coding)
	if err != nil {
		if errors.Is(err, encoding.ErrUnsupported) {
			return body, nil
		}
		return nil, err
	}
	return encoded, nil
}

// targetURL resolves the absolute target of a request line read in the
// given context: inside a CONNECT tunnel the tunnel host wins, plain
// origin-form targets resolve against the Host header, and absolute
// targets pass through.
func targetURL(rl wire.RequestLine, headers *httpmsg.Headers, scheme, tunnelHost string) (*url.URL, error) {
	if tunnelHost != "" {
		return url.Parse("https://" + tunnelHost + rl.Target)
	}
	if strings.HasPrefix(rl.Target, "/") {
		host := headers.Get("Host")
		if host == "" {
			return nil, errors.New("origin-form target without Host header")
		}
		return url.Parse(scheme + "://" + host + rl.Target)
	}
	return url.Parse(rl.Target)
}

func schemePort(scheme string) int {
	if scheme == "https" || scheme == "wss" {
		return 443
	}
	return 80
}
