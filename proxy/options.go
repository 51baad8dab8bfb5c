package proxy

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Options is the proxy-wide configuration. The zero value is usable;
// every field has a working default.
type Options struct {
	// BufferSize is the chunk size for all streaming reads and
	// writes. Defaults to 8192.
	BufferSize int

	// MaxLineSize bounds a single header or request line; longer
	// lines read as empty. Zero means unbounded.
	MaxLineSize int

	// MaxResponseSize bounds declared body lengths; larger bodies
	// read as empty. Zero means unbounded.
	MaxResponseSize int64

	// ConnectTimeout applies to upstream dials and socket deadlines.
	// Defaults to 30 seconds.
	ConnectTimeout time.Duration

	// TaskTimeout bounds raw byte relays (excluded CONNECT targets
	// and WebSocket upgrades). Zero means unbounded.
	TaskTimeout time.Duration

	// HookTimeout bounds one joined run of interception hooks.
	// Defaults to 30 seconds.
	HookTimeout time.Duration

	// Enable100Continue sends request headers first and holds the
	// body until the upstream's provisional response.
	Enable100Continue bool

	// CertStorePath is where the root CA is persisted. Empty defaults
	// to ~/.anvilproxy. Ignored when CA is set.
	CertStorePath string

	// CA overrides the default self-signed certificate engine.
	CA CertSource

	// InsecureSkipVerify disables upstream certificate validation.
	InsecureSkipVerify bool

	// TLSMinVersion and TLSMaxVersion bound the upstream handshake;
	// zero keeps the crypto/tls defaults.
	TLSMinVersion uint16
	TLSMaxVersion uint16

	// Realm names the Basic challenge sent by the proxy-auth gate.
	// Defaults to "AnvilProxy".
	Realm string

	// AuthenticateUser gates explicit endpoints with Basic proxy
	// auth; nil disables the gate.
	AuthenticateUser func(username, password string) bool

	// CredentialProvider supplies credentials for upstream 401/407
	// challenges; nil disables the replay.
	CredentialProvider func(ctx context.Context) (*Credentials, error)

	// SelectUpstreamProxy picks an external proxy per session,
	// overriding ExternalHTTP/ExternalHTTPS; returning nil keeps the
	// static choice.
	SelectUpstreamProxy func(s *Session) *ExternalProxy

	// ExternalHTTP and ExternalHTTPS route plain and tunneled traffic
	// through a forward proxy, independently.
	ExternalHTTP  *ExternalProxy
	ExternalHTTPS *ExternalProxy

	// ProcessLookup enables Session.ProcessID for loopback clients.
	ProcessLookup ProcessLookup

	// ErrorFunc is the single error reporting surface. Nil is a
	// no-op.
	ErrorFunc func(error)

	// Metrics, when set, receives the proxy's collectors.
	Metrics prometheus.Registerer
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8192
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.HookTimeout <= 0 {
		opts.HookTimeout = 30 * time.Second
	}
	if opts.Realm == "" {
		opts.Realm = "AnvilProxy"
	}
	return opts
}
