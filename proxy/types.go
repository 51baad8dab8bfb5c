package proxy

import (
	"github.com/anvilproxy/anvil/proxy/internal/httpmsg"
	"github.com/anvilproxy/anvil/proxy/internal/session"
	"github.com/anvilproxy/anvil/proxy/internal/upstream"
)

// Re-export types from internal packages for external use.

type (
	// Session is one client request/response exchange as seen by
	// interception hooks.
	Session = session.Session

	// Request is the parsed client request.
	Request = httpmsg.Request

	// Response is the parsed upstream response.
	Response = httpmsg.Response

	// Headers is the unique/repeated header collection used on both
	// messages.
	Headers = httpmsg.Headers

	// RequestHook runs after a request is read and before it is sent
	// upstream.
	RequestHook = session.RequestHook

	// ResponseHook runs after an upstream response is read and before
	// it is relayed to the client.
	ResponseHook = session.ResponseHook

	// Credentials is a username/password pair returned by a
	// CredentialProvider.
	Credentials = session.Credentials

	// ExternalProxy describes an upstream forward proxy.
	ExternalProxy = upstream.ExternalProxy

	// CertSource issues server certificates for TLS interception.
	CertSource = session.CertSource

	// ProcessLookup resolves the client process behind a loopback
	// connection.
	ProcessLookup = session.ProcessLookup
)

// Errors surfaced to hook authors.
var (
	ErrHookTimeout   = session.ErrHookTimeout
	ErrBodyNotFound  = session.ErrBodyNotFound
	ErrMessageLocked = session.ErrMessageLocked
	ErrNoResponse    = session.ErrNoResponse
)
