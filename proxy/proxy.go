// Package proxy implements an intercepting HTTP(S) forward proxy.
//
// A Proxy owns a set of endpoints (explicit, where clients negotiate
// CONNECT tunnels, and transparent, where redirected traffic arrives
// unaware of the proxy), accepts client connections on each, and runs
// every connection through the session engine: raw HTTP/1.x framing,
// TLS interception with forged per-host certificates, upstream
// connection management through optional external proxies, and
// registered interception hooks that may observe, rewrite, or answer
// exchanges locally.
package proxy

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/anvilproxy/anvil/cert"
	"github.com/anvilproxy/anvil/internal/helper"
	"github.com/anvilproxy/anvil/proxy/internal/hostcache"
	"github.com/anvilproxy/anvil/proxy/internal/session"
	"github.com/anvilproxy/anvil/proxy/internal/upstream"
)

var (
	ErrAlreadyRunning    = errors.New("proxy is already running")
	ErrNotRunning        = errors.New("proxy is not running")
	ErrDuplicateEndpoint = errors.New("endpoint address already registered")
	ErrUnknownEndpoint   = errors.New("endpoint is not registered")
)

// Proxy is the server orchestrator. Construct with NewProxy, register
// endpoints and hooks, then Start.
type Proxy struct {
	opts    Options
	hooks   *session.Hooks
	auth    *hostcache.AuthHeaderCache
	bodies  *hostcache.BodyCache
	metrics *metrics
	log     *slog.Logger

	running *atomic.Bool

	mu        sync.Mutex
	endpoints map[string]*endpointState
	handler   *session.Handler
	ca        CertSource
	rootCA    cert.CA
	baseCtx   context.Context
	cancel    context.CancelFunc
	acceptWG  sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	connWG sync.WaitGroup
}

func NewProxy(opts Options) *Proxy {
	o := opts.withDefaults()
	return &Proxy{
		opts:      o,
		hooks:     session.NewHooks(o.HookTimeout),
		auth:      hostcache.NewAuthHeaderCache(),
		bodies:    hostcache.NewBodyCache(),
		metrics:   newMetrics(o.Metrics),
		log:       slog.Default().With("in", "proxy.Proxy"),
		running:   atomic.NewBool(false),
		endpoints: make(map[string]*endpointState),
		conns:     make(map[net.Conn]struct{}),
	}
}

// OnRequest registers a hook invoked after each request is read and
// before it is sent upstream. Hooks for one event run concurrently
// and are all awaited.
func (p *Proxy) OnRequest(hook RequestHook) {
	p.hooks.OnRequest(hook)
}

// OnResponse registers a hook invoked after each upstream response is
// read and before it is relayed to the client.
func (p *Proxy) OnResponse(hook ResponseHook) {
	p.hooks.OnResponse(hook)
}

// AddEndpoint registers a listening socket. Duplicate address:port
// pairs are rejected. When the proxy is already running the endpoint
// is bound immediately.
func (p *Proxy) AddEndpoint(ep Endpoint) error {
	if ep.Port < 0 || ep.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", ep.Port)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := ep.key()
	if _, ok := p.endpoints[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, key)
	}
	state := &endpointState{endpoint: ep}
	p.endpoints[key] = state

	if p.running.Load() {
		if err := p.bindLocked(state); err != nil {
			delete(p.endpoints, key)
			return err
		}
	}
	return nil
}

// RemoveEndpoint unregisters an endpoint, closing its listener when
// the proxy is running.
func (p *Proxy) RemoveEndpoint(address string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	state, ok := p.endpoints[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, key)
	}
	delete(p.endpoints, key)
	if state.listener != nil {
		return state.listener.Close()
	}
	return nil
}

// Addresses reports the bound listener addresses. Useful when
// endpoints were registered with port 0.
func (p *Proxy) Addresses() []net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()

	addrs := make([]net.Addr, 0, len(p.endpoints))
	for _, state := range p.endpoints {
		if state.listener != nil {
			addrs = append(addrs, state.listener.Addr())
		}
	}
	return addrs
}

// RootCert returns the certificate clients must trust for TLS
// interception. Nil before Start, and nil when a custom CA was
// supplied through Options.
func (p *Proxy) RootCert() *x509.Certificate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rootCA == nil {
		return nil
	}
	return p.rootCA.RootCert()
}

// Start creates the certificate engine, binds every registered
// endpoint, and begins accepting. It does not block.
func (p *Proxy) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.initLocked(); err != nil {
		p.running.Store(false)
		return err
	}

	bound := make([]*endpointState, 0, len(p.endpoints))
	for _, state := range p.endpoints {
		if err := p.bindLocked(state); err != nil {
			for _, b := range bound {
				b.listener.Close()
				b.listener = nil
			}
			p.running.Store(false)
			p.cancel()
			return err
		}
		bound = append(bound, state)
	}
	return nil
}

// Stop closes every listener and active client connection and waits
// for the accept loops and connection handlers to drain.
func (p *Proxy) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}

	p.mu.Lock()
	p.cancel()
	for _, state := range p.endpoints {
		if state.listener != nil {
			state.listener.Close()
			state.listener = nil
		}
	}
	p.mu.Unlock()

	p.connMu.Lock()
	for c := range p.conns {
		c.Close()
	}
	p.connMu.Unlock()

	p.acceptWG.Wait()
	p.connWG.Wait()
	return nil
}

// Close implements io.Closer. Stopping an already stopped proxy is
// not an error here.
func (p *Proxy) Close() error {
	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

func (p *Proxy) initLocked() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.ca = p.opts.CA
	if p.ca == nil {
		ca, err := cert.NewSelfSignCA(p.opts.CertStorePath)
		if err != nil {
			cancel()
			return fmt.Errorf("certificate engine: %w", err)
		}
		p.rootCA = ca
		p.ca = ca
	}

	manager := upstream.NewManager(upstream.Config{
		BufferSize:         p.opts.BufferSize,
		MaxLineSize:        p.opts.MaxLineSize,
		ConnectTimeout:     p.opts.ConnectTimeout,
		TLSMinVersion:      p.opts.TLSMinVersion,
		TLSMaxVersion:      p.opts.TLSMaxVersion,
		InsecureSkipVerify: p.opts.InsecureSkipVerify,
		KeyLogWriter:       helper.GetTLSKeyLogWriter(),
	}, p.auth)

	p.handler = session.NewHandler(session.Config{
		BufferSize:          p.opts.BufferSize,
		MaxLineSize:         p.opts.MaxLineSize,
		MaxResponseSize:     p.opts.MaxResponseSize,
		ConnectTimeout:      p.opts.ConnectTimeout,
		TaskTimeout:         p.opts.TaskTimeout,
		Enable100Continue:   p.opts.Enable100Continue,
		AuthenticateUser:    p.opts.AuthenticateUser,
		Realm:               p.opts.Realm,
		CredentialProvider:  p.opts.CredentialProvider,
		SelectUpstreamProxy: p.opts.SelectUpstreamProxy,
		ExternalHTTP:        p.opts.ExternalHTTP,
		ExternalHTTPS:       p.opts.ExternalHTTPS,
		ErrorFunc:           p.reportError,
	}, p.hooks, manager, p.ca, p.auth, p.bodies, p.opts.ProcessLookup)

	p.baseCtx = ctx
	return nil
}

func (p *Proxy) bindLocked(state *endpointState) error {
	ln, err := net.Listen("tcp", state.endpoint.key())
	if err != nil {
		return fmt.Errorf("bind %s: %w", state.endpoint.key(), err)
	}
	state.listener = ln
	p.log.Info("endpoint listening", "addr", ln.Addr().String(), "kind", state.endpoint.Kind.String())

	p.acceptWG.Add(1)
	go p.acceptLoop(p.baseCtx, state.endpoint, ln)
	return nil
}

func (p *Proxy) acceptLoop(ctx context.Context, ep Endpoint, ln net.Listener) {
	defer p.acceptWG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !p.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			p.metrics.acceptErrors.Inc()
			p.reportError(fmt.Errorf("accept on %s: %w", ln.Addr(), err))
			continue
		}

		p.metrics.connectionsAccepted.WithLabelValues(ep.Kind.String()).Inc()
		p.track(conn)
		p.connWG.Add(1)
		go func() {
			defer p.connWG.Done()
			defer p.untrack(conn)
			p.metrics.activeConnections.Inc()
			defer p.metrics.activeConnections.Dec()
			p.serve(ctx, ep, conn)
		}()
	}
}

func (p *Proxy) serve(ctx context.Context, ep Endpoint, conn net.Conn) {
	switch ep.Kind {
	case Transparent:
		p.handler.HandleTransparent(ctx, conn, session.TransparentOptions{
			EnableTLS:       ep.EnableTLS,
			GenericCertName: ep.GenericCertName,
		})
	default:
		p.handler.HandleExplicit(ctx, conn, session.ExplicitOptions{
			ExcludedHosts: ep.ExcludedHosts,
		})
	}
}

func (p *Proxy) track(conn net.Conn) {
	p.connMu.Lock()
	p.conns[conn] = struct{}{}
	p.connMu.Unlock()
}

func (p *Proxy) untrack(conn net.Conn) {
	p.connMu.Lock()
	delete(p.conns, conn)
	p.connMu.Unlock()
}

func (p *Proxy) reportError(err error) {
	if err == nil {
		return
	}
	p.metrics.handlerErrors.Inc()
	if p.opts.ErrorFunc != nil {
		p.opts.ErrorFunc(err)
	}
}
