package httpmsg

import (
	"strconv"
	"strings"

	"github.com/anvilproxy/anvil/proxy/internal/wire"
)

// Message is the shared core of Request and Response. It is embedded by
// value, not inherited: nothing dispatches on Message itself.
type Message struct {
	Headers *Headers
	Version wire.Version

	// Body is populated only after an explicit body read; BodyRead
	// guards re-reads and tells the relay path the body may have been
	// rewritten. Locked rejects further mutation once the message has
	// been sent.
	Body     []byte
	BodyRead bool
	Locked   bool
}

func NewMessage() Message {
	return Message{Headers: NewHeaders()}
}

// ContentLength returns the declared body length, or -1 when the header
// is absent or unparsable.
func (m *Message) ContentLength() int64 {
	v := m.Headers.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// SetContentLength declares a fixed body length. A non-negative value
// removes any chunked transfer coding; a negative value only removes
// the header and leaves the transfer coding untouched.
func (m *Message) SetContentLength(n int64) {
	if n < 0 {
		m.Headers.Del("Content-Length")
		return
	}
	m.Headers.Del("Transfer-Encoding")
	m.Headers.Set("Content-Length", strconv.FormatInt(n, 10))
}

// Chunked reports whether the transfer coding includes "chunked".
func (m *Message) Chunked() bool {
	return strings.Contains(strings.ToLower(m.Headers.Get("Transfer-Encoding")), "chunked")
}

// SetChunked switches the message to or from chunked transfer coding.
// Enabling it removes any declared content length.
func (m *Message) SetChunked(chunked bool) {
	if chunked {
		m.Headers.Del("Content-Length")
		m.Headers.Set("Transfer-Encoding", "chunked")
		return
	}
	m.Headers.Del("Transfer-Encoding")
}

// ContentType returns the media type without parameters, lowercased.
func (m *Message) ContentType() string {
	v := m.Headers.Get("Content-Type")
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// ContentEncoding returns the content coding name, lowercased.
func (m *Message) ContentEncoding() string {
	return strings.ToLower(strings.TrimSpace(m.Headers.Get("Content-Encoding")))
}

// HasBody reports whether the framing headers announce a body.
func (m *Message) HasBody() bool {
	return m.Chunked() || m.ContentLength() > 0
}
