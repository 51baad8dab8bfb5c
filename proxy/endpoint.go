package proxy

import (
	"fmt"
	"net"
)

// EndpointKind selects the protocol spoken on a listener.
type EndpointKind int

const (
	// Explicit endpoints speak the forward-proxy protocol: clients
	// know about the proxy and negotiate tunnels with CONNECT.
	Explicit EndpointKind = iota

	// Transparent endpoints receive redirected traffic from clients
	// unaware of the proxy; TLS is terminated immediately when
	// enabled.
	Transparent
)

func (k EndpointKind) String() string {
	switch k {
	case Explicit:
		return "explicit"
	case Transparent:
		return "transparent"
	default:
		return fmt.Sprintf("EndpointKind(%d)", int(k))
	}
}

// Endpoint describes one listening socket.
type Endpoint struct {
	Kind    EndpointKind
	Address string
	Port    int

	// ExcludedHosts lists host[:port] patterns whose CONNECT targets
	// are relayed raw instead of intercepted; `*` wildcards allowed.
	// Explicit endpoints only.
	ExcludedHosts []string

	// EnableTLS terminates TLS before the first request line.
	// Transparent endpoints only.
	EnableTLS bool

	// GenericCertName names the certificate served before any SNI is
	// known on a transparent TLS endpoint. Defaults to "localhost".
	GenericCertName string
}

func (ep Endpoint) key() string {
	return net.JoinHostPort(ep.Address, fmt.Sprintf("%d", ep.Port))
}

// endpointState pairs a registered endpoint with its live listener.
type endpointState struct {
	endpoint Endpoint
	listener net.Listener
}
