package httpmsg_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/anvilproxy/anvil/proxy/internal/httpmsg"
)

func TestHeadersSingleOccurrenceStaysUnique(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add("Accept", "text/html")

	c.Assert(hs.InUnique("accept"), qt.IsTrue)
	c.Assert(hs.InRepeated("accept"), qt.IsFalse)
	c.Assert(hs.Get("ACCEPT"), qt.Equals, "text/html")
}

func TestHeadersSecondOccurrenceMovesBothToRepeated(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add("Set-Cookie", "a=1")
	hs.Add("Set-Cookie", "b=2")

	c.Assert(hs.InUnique("set-cookie"), qt.IsFalse)
	c.Assert(hs.InRepeated("set-cookie"), qt.IsTrue)
	c.Assert(hs.Values("Set-Cookie"), qt.DeepEquals, []string{"a=1", "b=2"})
}

func TestHeadersThirdOccurrenceAppendsInOrder(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add("Set-Cookie", "a=1")
	hs.Add("Set-Cookie", "b=2")
	hs.Add("Set-Cookie", "c=3")

	c.Assert(hs.Values("set-cookie"), qt.DeepEquals, []string{"a=1", "b=2", "c=3"})
	c.Assert(hs.InUnique("set-cookie"), qt.IsFalse)
}

func TestHeadersAllPreservesFirstSeenOrder(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add("Host", "example.com")
	hs.Add("Set-Cookie", "a=1")
	hs.Add("Accept", "*/*")
	hs.Add("Set-Cookie", "b=2")

	all := hs.All()
	names := make([]string, 0, len(all))
	for _, h := range all {
		names = append(names, h.Name)
	}

	c.Assert(names, qt.DeepEquals, []string{"Host", "Set-Cookie", "Set-Cookie", "Accept"})
}

func TestHeadersSetCollapsesRepeated(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add("Accept-Encoding", "br")
	hs.Add("Accept-Encoding", "zstd")
	hs.Set("Accept-Encoding", "gzip,deflate,zlib")

	c.Assert(hs.InUnique("accept-encoding"), qt.IsTrue)
	c.Assert(hs.InRepeated("accept-encoding"), qt.IsFalse)
	c.Assert(hs.Values("Accept-Encoding"), qt.DeepEquals, []string{"gzip,deflate,zlib"})
}

func TestHeadersDelRemovesAllOccurrences(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add("Set-Cookie", "a=1")
	hs.Add("Set-Cookie", "b=2")
	hs.Del("set-cookie")

	c.Assert(hs.Has("Set-Cookie"), qt.IsFalse)
	c.Assert(hs.Len(), qt.Equals, 0)
}

func TestHeadersTrimsNameAndValue(t *testing.T) {
	c := qt.New(t)

	hs := httpmsg.NewHeaders()
	hs.Add(" Content-Type ", "  text/plain ")

	c.Assert(hs.Get("Content-Type"), qt.Equals, "text/plain")
}

func TestMessageContentLengthAbsent(t *testing.T) {
	c := qt.New(t)

	m := httpmsg.NewMessage()

	c.Assert(m.ContentLength(), qt.Equals, int64(-1))
}

func TestMessageContentLengthInvalid(t *testing.T) {
	c := qt.New(t)

	m := httpmsg.NewMessage()
	m.Headers.Set("Content-Length", "banana")

	c.Assert(m.ContentLength(), qt.Equals, int64(-1))
}

func TestMessageSetChunkedRemovesContentLength(t *testing.T) {
	c := qt.New(t)

	m := httpmsg.NewMessage()
	m.SetContentLength(42)
	m.SetChunked(true)

	c.Assert(m.Chunked(), qt.IsTrue)
	c.Assert(m.ContentLength(), qt.Equals, int64(-1))
	c.Assert(m.Headers.Has("Content-Length"), qt.IsFalse)
}

func TestMessageSetContentLengthRemovesChunked(t *testing.T) {
	c := qt.New(t)

	m := httpmsg.NewMessage()
	m.SetChunked(true)
	m.SetContentLength(42)

	c.Assert(m.Chunked(), qt.IsFalse)
	c.Assert(m.Headers.Has("Transfer-Encoding"), qt.IsFalse)
	c.Assert(m.ContentLength(), qt.Equals, int64(42))
}

func TestMessageNegativeContentLengthLeavesChunked(t *testing.T) {
	c := qt.New(t)

	m := httpmsg.NewMessage()
	m.SetChunked(true)
	m.SetContentLength(-1)

	c.Assert(m.Chunked(), qt.IsTrue)
	c.Assert(m.Headers.Has("Content-Length"), qt.IsFalse)
}

func TestMessageContentTypeStripsParameters(t *testing.T) {
	c := qt.New(t)

	m := httpmsg.NewMessage()
	m.Headers.Set("Content-Type", "Text/HTML; charset=utf-8")

	c.Assert(m.ContentType(), qt.Equals, "text/html")
}

func TestRequestHostAccessor(t *testing.T) {
	c := qt.New(t)

	req := httpmsg.NewRequest()
	req.SetHost("example.com")

	c.Assert(req.Host(), qt.Equals, "example.com")
	c.Assert(req.Headers.Get("host"), qt.Equals, "example.com")
}

func TestRequestExpectContinue(t *testing.T) {
	c := qt.New(t)

	req := httpmsg.NewRequest()
	req.Headers.Set("Expect", "100-Continue")

	c.Assert(req.ExpectContinue(), qt.IsTrue)
}

func TestRequestUpgradesToWebSocket(t *testing.T) {
	c := qt.New(t)

	req := httpmsg.NewRequest()
	req.Headers.Set("Upgrade", "WebSocket")

	c.Assert(req.UpgradesToWebSocket(), qt.IsTrue)
}

func TestResponseKeepAliveAbsentConnectionHeader(t *testing.T) {
	c := qt.New(t)

	resp := httpmsg.NewResponse()

	c.Assert(resp.KeepAlive(), qt.IsFalse)
}

func TestResponseKeepAliveClose(t *testing.T) {
	c := qt.New(t)

	resp := httpmsg.NewResponse()
	resp.Headers.Set("Connection", "Close")

	c.Assert(resp.KeepAlive(), qt.IsFalse)
}

func TestResponseKeepAliveExplicit(t *testing.T) {
	c := qt.New(t)

	resp := httpmsg.NewResponse()
	resp.Headers.Set("Connection", "keep-alive")

	c.Assert(resp.KeepAlive(), qt.IsTrue)
}
