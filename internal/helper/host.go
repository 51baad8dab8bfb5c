package helper

import (
	"strings"

	"github.com/tidwall/match"
)

// MatchHost reports whether address (host or host:port) matches any of
// the patterns. A pattern without a port matches any port; `*` in a
// pattern matches any run of characters, so `*.example.com` covers all
// subdomains.
func MatchHost(address string, patterns []string) bool {
	host, port := splitHostPort(address)
	for _, pattern := range patterns {
		phost, pport := splitHostPort(pattern)
		if pport != "" && pport != port {
			continue
		}
		if match.Match(host, phost) {
			return true
		}
	}
	return false
}

func splitHostPort(address string) (string, string) {
	if i := strings.LastIndexByte(address, ':'); i >= 0 && !strings.Contains(address[i+1:], "]") {
		return address[:i], address[i+1:]
	}
	return address, ""
}
