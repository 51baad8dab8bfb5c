// Package wire parses HTTP/1.x start lines. All parsers are total:
// malformed input yields zero values, never an error or panic, and the
// caller decides whether an empty result terminates its loop.
package wire

import (
	"strconv"
	"strings"
)

// Direction selects the token position the version literal is expected at.
type Direction int

const (
	Request  Direction = iota // version is the third token of a request line
	Response                  // version is the first token of a status line
)

// Version is an HTTP protocol version. Only 1.0 and 1.1 are ever produced.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// IsZero reports whether v was never parsed from a recognized literal.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// RequestLine is the decoded first line of a request. Method and Target
// are empty when the line was malformed.
type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

// StatusLine is the decoded first line of a response.
type StatusLine struct {
	Version Version
	Code    int
	Reason  string
}

// ParseVersion recognizes the literals "http/1.0" and "http/1.1"
// (case-insensitive) at the position dictated by dir. Anything else,
// including an out-of-range index, yields ok == false.
func ParseVersion(tokens []string, dir Direction) (Version, bool) {
	idx := 0
	if dir == Request {
		idx = 2
	}
	if idx >= len(tokens) {
		return Version{}, false
	}
	switch strings.ToLower(tokens[idx]) {
	case "http/1.0":
		return Version{Major: 1, Minor: 0}, true
	case "http/1.1":
		return Version{Major: 1, Minor: 1}, true
	}
	return Version{}, false
}

// ParseRequestLine splits line into method, target and version. Missing
// tokens leave the corresponding fields empty; an unrecognized version
// token leaves Version zero. Callers must check Method before use.
func ParseRequestLine(line string) RequestLine {
	if line == "" {
		return RequestLine{}
	}
	tokens := strings.SplitN(line, " ", 3)
	var rl RequestLine
	rl.Method = tokens[0]
	if len(tokens) > 1 {
		rl.Target = tokens[1]
	}
	if v, ok := ParseVersion(tokens, Request); ok {
		rl.Version = v
	}
	return rl
}

// ParseStatusLine splits line into version, status code and reason phrase.
// It returns ok == false when the line is empty or the version token is
// not recognized. An unparsable status code yields 0, a missing reason
// phrase yields the empty string.
func ParseStatusLine(line string) (StatusLine, bool) {
	if line == "" {
		return StatusLine{}, false
	}
	tokens := strings.SplitN(line, " ", 3)
	v, ok := ParseVersion(tokens, Response)
	if !ok {
		return StatusLine{}, false
	}
	sl := StatusLine{Version: v}
	if len(tokens) > 1 {
		if code, err := strconv.Atoi(tokens[1]); err == nil {
			sl.Code = code
		}
	}
	if len(tokens) > 2 {
		sl.Reason = tokens[2]
	}
	return sl, true
}
