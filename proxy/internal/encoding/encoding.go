// Package encoding transforms message bodies between their wire form
// and plain bytes, keyed by the content coding name. Empty input passes
// through as-is on both paths.
package encoding

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupported reports a content coding this proxy cannot transform.
var ErrUnsupported = fmt.Errorf("unsupported content encoding")

// Supported reports whether name can be decoded and re-encoded. The
// empty name and "identity" count as supported pass-throughs.
func Supported(name string) bool {
	switch name {
	case "", "identity", "gzip", "deflate", "zlib", "br", "zstd":
		return true
	}
	return false
}

// Decompress decodes data per the named content coding. Unknown names
// yield ErrUnsupported; the caller on the relay path treats that as
// identity and passes the bytes through untouched.
func Decompress(data []byte, name string) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch name {
	case "", "identity":
		return data, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// Compress encodes data per the named content coding. Unknown names
// yield ErrUnsupported.
func Compress(data []byte, name string) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	var buf bytes.Buffer
	var w io.WriteCloser
	switch name {
	case "", "identity":
		return data, nil
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "deflate":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		w = fw
	case "zlib":
		w = zlib.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		w = zw
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
