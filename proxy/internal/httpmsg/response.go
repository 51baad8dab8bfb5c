package httpmsg

import (
	"io"
	"strconv"
	"strings"
)

// Response is one upstream response, or a locally produced one.
type Response struct {
	Message

	StatusCode int
	Status     string

	// BodyReader streams the body through without buffering when the
	// response is relayed untouched.
	BodyReader io.Reader
}

func NewResponse() *Response {
	return &Response{Message: NewMessage()}
}

// KeepAlive reports whether the connection survives this exchange. An
// absent Connection header counts as close, matching the conservative
// behavior this proxy has always had.
func (r *Response) KeepAlive() bool {
	v := r.Headers.Get("Connection")
	if v == "" {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(v), "close")
}

// StatusLine renders the first line of the response.
func (r *Response) StatusLine() string {
	return r.Version.String() + " " + strconv.Itoa(r.StatusCode) + " " + r.Status
}
