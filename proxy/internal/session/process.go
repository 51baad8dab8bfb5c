package session

import (
	"errors"
	"net"
)

// ErrProcessLookupUnavailable is returned when no process lookup
// capability was wired in, or the client is not local.
var ErrProcessLookupUnavailable = errors.New("process lookup unavailable")

// ProcessLookup resolves the OS process owning a local TCP endpoint.
// Reading the TCP table is platform-specific, so the session engine
// only consumes it as a capability.
type ProcessLookup interface {
	PID(localAddr net.Addr) (int, error)
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	return tcp.IP.IsLoopback()
}
