// Package framing implements the byte-level read/write primitives for
// HTTP/1.x messages: line reads, fixed-length copies and the chunked
// transfer coding. Malformed wire data never produces an error here;
// the affected read ends early with an empty result and the caller's
// loop observes it as a benign end of stream.
package framing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const crlf = "\r\n"

// chunkEnd terminates a chunked body.
const chunkEnd = "0\r\n\r\n"

// Reader wraps a byte stream with the line and body reads the session
// loop needs. It is not safe for concurrent use.
type Reader struct {
	br *bufio.Reader

	// maxLine caps the bytes accumulated by a single ReadLine; going
	// over yields an empty line. Zero means no cap.
	maxLine int
}

func NewReader(r io.Reader, bufferSize, maxLine int) *Reader {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Reader{br: bufio.NewReaderSize(r, bufferSize), maxLine: maxLine}
}

// Read lets the wrapped stream keep draining through this reader, so
// bytes already buffered are not lost when the connection degrades to
// a raw relay.
func (r *Reader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// ReadLine accumulates bytes until a CRLF pair, a NUL byte or the end
// of the stream, and returns them without the terminator. Exceeding the
// line budget, or cancellation, yields an empty string.
func (r *Reader) ReadLine(ctx context.Context) string {
	if cancelled(ctx) {
		return ""
	}
	var buf strings.Builder
	var last byte
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			break
		}
		if b == 0 {
			break
		}
		if b == '\n' && last == '\r' {
			s := buf.String()
			return s[:len(s)-1]
		}
		buf.WriteByte(b)
		last = b
		if r.maxLine > 0 && buf.Len() > r.maxLine {
			return ""
		}
	}
	return buf.String()
}

// ReadLines reads lines until the blank line that ends a header block.
func (r *Reader) ReadLines(ctx context.Context) []string {
	var lines []string
	for {
		line := r.ReadLine(ctx)
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

// ReadBytes collects exactly total bytes in bufferSize chunks. A
// non-positive buffer size, or total exceeding max (when max > 0),
// yields an empty result immediately; nothing is read first.
func (r *Reader) ReadBytes(ctx context.Context, bufferSize int, total, max int64) []byte {
	if bufferSize <= 0 || total < 0 {
		return nil
	}
	if max > 0 && total > max {
		return nil
	}
	out := make([]byte, 0, total)
	buf := make([]byte, bufferSize)
	var read int64
	for read < total {
		if cancelled(ctx) {
			return nil
		}
		want := int64(bufferSize)
		if rem := total - read; rem < want {
			want = rem
		}
		n, err := r.br.Read(buf[:want])
		if n > 0 {
			out = append(out, buf[:n]...)
			read += int64(n)
		}
		if err != nil {
			break
		}
	}
	return out
}

// CopyFixed streams total bytes into w. total == -1 copies until the
// stream is exhausted.
func (r *Reader) CopyFixed(ctx context.Context, w io.Writer, bufferSize int, total int64) (int64, error) {
	if bufferSize <= 0 {
		return 0, nil
	}
	buf := make([]byte, bufferSize)
	var copied int64
	for total < 0 || copied < total {
		if cancelled(ctx) {
			return copied, nil
		}
		want := int64(bufferSize)
		if total >= 0 {
			if rem := total - copied; rem < want {
				want = rem
			}
		}
		n, err := r.br.Read(buf[:want])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return copied, werr
			}
			copied += int64(n)
		}
		if err == io.EOF {
			return copied, nil
		}
		if err != nil {
			return copied, err
		}
	}
	return copied, nil
}

// CopyChunked decodes a chunked body into w. A non-hex size line ends
// the loop silently; the terminal zero chunk and its trailing CRLF are
// consumed.
func (r *Reader) CopyChunked(ctx context.Context, w io.Writer, bufferSize int) error {
	for {
		if cancelled(ctx) {
			return nil
		}
		size, ok := parseChunkSize(r.ReadLine(ctx))
		if !ok {
			return nil
		}
		if size == 0 {
			r.ReadLine(ctx)
			return nil
		}
		if _, err := r.CopyFixed(ctx, w, bufferSize, size); err != nil {
			return err
		}
		r.ReadLine(ctx)
	}
}

// StreamBody relays a message body from the wrapped stream into w with
// its framing intact. Chunked bodies are re-framed chunk by chunk, each
// decoded chunk re-encoded with its own size prefix; otherwise the copy
// is bounded by contentLength, with -1 meaning until end of stream.
func (r *Reader) StreamBody(ctx context.Context, w io.Writer, bufferSize int, chunked bool, contentLength int64) error {
	if !chunked {
		_, err := r.CopyFixed(ctx, w, bufferSize, contentLength)
		return err
	}
	for {
		if cancelled(ctx) {
			return nil
		}
		size, ok := parseChunkSize(r.ReadLine(ctx))
		if !ok {
			return nil
		}
		if size == 0 {
			r.ReadLine(ctx)
			_, err := io.WriteString(w, chunkEnd)
			return err
		}
		if _, err := fmt.Fprintf(w, "%x%s", size, crlf); err != nil {
			return err
		}
		if _, err := r.CopyFixed(ctx, w, bufferSize, size); err != nil {
			return err
		}
		r.ReadLine(ctx)
		if _, err := io.WriteString(w, crlf); err != nil {
			return err
		}
	}
}

func parseChunkSize(line string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// WriteBody writes an already-buffered body to w. When chunked, the
// whole buffer goes out as a single chunk followed by the terminator.
func WriteBody(w io.Writer, body []byte, chunked bool) error {
	if !chunked {
		_, err := w.Write(body)
		return err
	}
	if len(body) > 0 {
		if _, err := fmt.Fprintf(w, "%x%s", len(body), crlf); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
		if _, err := io.WriteString(w, crlf); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, chunkEnd)
	return err
}

// SubArray returns data[index:index+length], clamping an over-long
// length to what remains. Negative arguments or an index past the end
// yield nil.
func SubArray(data []byte, index, length int) []byte {
	if data == nil || index < 0 || length < 0 || index > len(data) {
		return nil
	}
	if index+length > len(data) {
		length = len(data) - index
	}
	out := make([]byte, length)
	copy(out, data[index:index+length])
	return out
}
