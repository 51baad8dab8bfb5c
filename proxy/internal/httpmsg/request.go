package httpmsg

import (
	"net/url"
	"strings"
)

// Request is one client request as read off the wire.
type Request struct {
	Message

	Method string
	// URL is the resolved absolute target. RawTarget keeps the token
	// from the request line verbatim, origin-form included.
	URL       *url.URL
	RawTarget string

	// RecordBody opts the body into the session body cache for later
	// inspection by hooks.
	RecordBody bool

	// Cancelled aborts forwarding; a locally produced response is
	// served instead.
	Cancelled bool

	// Outcome of an Expect: 100-continue negotiation.
	Is100Continue     bool
	ExpectationFailed bool
}

func NewRequest() *Request {
	return &Request{Message: NewMessage()}
}

// Host reads the Host header.
func (r *Request) Host() string {
	return r.Headers.Get("Host")
}

// SetHost rewrites the Host header.
func (r *Request) SetHost(host string) {
	r.Headers.Set("Host", host)
}

// ExpectContinue reports whether the client asked permission before
// sending the body.
func (r *Request) ExpectContinue() bool {
	return strings.EqualFold(strings.TrimSpace(r.Headers.Get("Expect")), "100-continue")
}

// UpgradesToWebSocket reports whether the request asks to leave HTTP.
func (r *Request) UpgradesToWebSocket() bool {
	return strings.Contains(strings.ToLower(r.Headers.Get("Upgrade")), "websocket")
}

// RequestLine renders the first line using the given target token.
func (r *Request) RequestLine(target string) string {
	return r.Method + " " + target + " " + r.Version.String()
}
