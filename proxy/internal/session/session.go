// Package session drives one client connection through the proxy: it
// parses requests off the raw stream, negotiates CONNECT tunnels and
// TLS interception, dispatches upstream, runs interception hooks and
// relays responses with their framing intact.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/anvilproxy/anvil/proxy/internal/encoding"
	"github.com/anvilproxy/anvil/proxy/internal/framing"
	"github.com/anvilproxy/anvil/proxy/internal/httpmsg"
	"github.com/anvilproxy/anvil/proxy/internal/upstream"
	"github.com/anvilproxy/anvil/proxy/internal/wire"
)

var (
	// ErrBodyNotFound is returned when a hook asks for a body the
	// request cannot carry.
	ErrBodyNotFound = errors.New("request carries no body")

	// ErrMessageLocked is returned on mutation after the message has
	// been sent.
	ErrMessageLocked = errors.New("message already sent")

	// ErrNoResponse is returned when the response is inspected before
	// the upstream dispatch produced one.
	ErrNoResponse = errors.New("response not received yet")
)

// Session is one request/response exchange. Hooks receive it and may
// inspect or rewrite either message, or short-circuit the dispatch by
// responding locally.
type Session struct {
	ID       uuid.UUID
	Request  *httpmsg.Request
	Response *httpmsg.Response

	// ClientConn is the client-facing socket; Upstream the server
	// connection once acquired.
	ClientConn net.Conn
	Upstream   *upstream.Connection

	// HTTPS reports whether this exchange runs inside an intercepted
	// TLS tunnel.
	HTTPS bool

	handler *Handler
	reader  *framing.Reader
	ctx     context.Context

	// auth challenge replay state
	reRequest     bool
	replayed      bool
	lastChallenge int

	pidOnce sync.Once
	pid     int
	pidErr  error
}

func (h *Handler) newSession(ctx context.Context, clientConn net.Conn, reader *framing.Reader, https bool) *Session {
	return &Session{
		ID:         uuid.NewV4(),
		ClientConn: clientConn,
		HTTPS:      https,
		handler:    h,
		reader:     reader,
		ctx:        ctx,
	}
}

// TargetURL is the absolute URL the request resolves to.
func (s *Session) TargetURL() *url.URL {
	return s.Request.URL
}

// RequestBody returns the request body, decompressed per its content
// coding. The first call drains the body from the client stream; the
// proxy then re-sends it upstream with a recomputed length.
func (s *Session) RequestBody() ([]byte, error) {
	if s.Request.BodyRead {
		return s.Request.Body, nil
	}
	if s.Request.Locked {
		// already relayed; a recorded copy may survive in the cache
		if body, ok := s.handler.bodies.Get(s.ID.String()); ok {
			return []byte(body), nil
		}
		return nil, ErrMessageLocked
	}
	if err := s.readRequestBody(); err != nil {
		return nil, err
	}
	return s.Request.Body, nil
}

// SetRequestBody replaces the request body. The declared length is
// recomputed at send time.
func (s *Session) SetRequestBody(body []byte) error {
	if s.Request.Locked {
		return ErrMessageLocked
	}
	if !s.Request.BodyRead && s.Request.HasBody() {
		// drain the original body off the wire first so the stream
		// stays aligned for the next pipelined request
		if err := s.readRequestBody(); err != nil {
			return err
		}
	}
	s.Request.Body = body
	s.Request.BodyRead = true
	if !s.Request.Chunked() {
		s.Request.SetContentLength(int64(len(body)))
	}
	return nil
}

// ResponseBody returns the response body, decompressed per its content
// coding. It is only available to response hooks.
func (s *Session) ResponseBody() ([]byte, error) {
	if s.Response == nil {
		return nil, ErrNoResponse
	}
	if s.Response.BodyRead {
		return s.Response.Body, nil
	}
	if err := s.readResponseBody(); err != nil {
		return nil, err
	}
	return s.Response.Body, nil
}

// SetResponseBody replaces the response body before it is relayed.
func (s *Session) SetResponseBody(body []byte) error {
	if s.Response == nil {
		return ErrNoResponse
	}
	if s.Response.Locked {
		return ErrMessageLocked
	}
	if !s.Response.BodyRead && s.Response.HasBody() {
		if err := s.readResponseBody(); err != nil {
			return err
		}
	}
	s.Response.Body = body
	s.Response.BodyRead = true
	if !s.Response.Chunked() {
		s.Response.SetContentLength(int64(len(body)))
	}
	return nil
}

// Respond short-circuits the upstream dispatch: resp is sent to the
// client instead of the request going anywhere.
func (s *Session) Respond(resp *httpmsg.Response) {
	if resp.Version.IsZero() {
		resp.Version = s.requestVersion()
	}
	resp.Locked = true
	resp.BodyRead = true
	s.Response = resp
	s.Request.Cancelled = true
}

// Ok responds locally with 200 and the given body.
func (s *Session) Ok(body []byte, contentType string) {
	resp := httpmsg.NewResponse()
	resp.StatusCode = 200
	resp.Status = "OK"
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	resp.Headers.Set("Content-Type", contentType)
	resp.Headers.Set("Connection", "close")
	resp.SetContentLength(int64(len(body)))
	resp.Body = body
	s.Respond(resp)
}

// Redirect responds locally with a 302 to location.
func (s *Session) Redirect(location string) {
	resp := httpmsg.NewResponse()
	resp.StatusCode = 302
	resp.Status = "Found"
	resp.Headers.Set("Location", location)
	resp.Headers.Set("Connection", "close")
	resp.SetContentLength(0)
	s.Respond(resp)
}

// ProcessID resolves the client process when the connection is local.
// The OS table walk is deferred until first asked for and memoized.
func (s *Session) ProcessID() (int, error) {
	s.pidOnce.Do(func() {
		lookup := s.handler.procs
		if lookup == nil || !isLoopback(s.ClientConn.RemoteAddr()) {
			s.pidErr = ErrProcessLookupUnavailable
			return
		}
		s.pid, s.pidErr = lookup.PID(s.ClientConn.RemoteAddr())
	})
	return s.pid, s.pidErr
}

func (s *Session) requestVersion() wire.Version {
	if s.Request != nil && !s.Request.Version.IsZero() {
		return s.Request.Version
	}
	return wire.Version{Major: 1, Minor: 1}
}

func (s *Session) readRequestBody() error {
	req := s.Request
	if req.Method != "POST" && req.Method != "PUT" && req.Method != "PATCH" {
		return ErrBodyNotFound
	}

	var body []byte
	switch {
	case req.Chunked():
		var buf writerBuffer
		if err := s.reader.CopyChunked(s.ctx, &buf, s.handler.cfg.BufferSize); err != nil {
			return err
		}
		body = buf.bytes
	case req.ContentLength() > 0:
		body = s.reader.ReadBytes(s.ctx, s.handler.cfg.BufferSize, req.ContentLength(), s.handler.cfg.MaxResponseSize)
	case req.ContentLength() == 0:
		body = nil
	case req.Version == (wire.Version{Major: 1, Minor: 0}):
		var buf writerBuffer
		if _, err := s.reader.CopyFixed(s.ctx, &buf, s.handler.cfg.BufferSize, -1); err != nil {
			return err
		}
		body = buf.bytes
	default:
		body = nil
	}

	decoded, err := encoding.Decompress(body, req.ContentEncoding())
	if err != nil {
		if !errors.Is(err, encoding.ErrUnsupported) {
			return fmt.Errorf("decode request body: %w", err)
		}
		decoded = body
	}
	req.Body = decoded
	req.BodyRead = true
	return nil
}

func (s *Session) readResponseBody() error {
	resp := s.Response
	r := s.Upstream.Reader

	var body []byte
	switch {
	case resp.Chunked():
		var buf writerBuffer
		if err := r.CopyChunked(s.ctx, &buf, s.handler.cfg.BufferSize); err != nil {
			return err
		}
		body = buf.bytes
	case resp.ContentLength() >= 0:
		body = r.ReadBytes(s.ctx, s.handler.cfg.BufferSize, resp.ContentLength(), s.handler.cfg.MaxResponseSize)
	case !resp.KeepAlive():
		var buf writerBuffer
		if _, err := r.CopyFixed(s.ctx, &buf, s.handler.cfg.BufferSize, -1); err != nil {
			return err
		}
		body = buf.bytes
	default:
		body = nil
	}

	decoded, err := encoding.Decompress(body, resp.ContentEncoding())
	if err != nil {
		if !errors.Is(err, encoding.ErrUnsupported) {
			return fmt.Errorf("decode response body: %w", err)
		}
		decoded = body
	}
	resp.Body = decoded
	resp.BodyRead = true
	return nil
}

// writerBuffer is a minimal append sink for the framing copies.
type writerBuffer struct {
	bytes []byte
}

func (b *writerBuffer) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}

func hostPort(target string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return target, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
