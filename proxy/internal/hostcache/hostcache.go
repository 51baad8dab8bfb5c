// Package hostcache holds the per-process caches the session engine
// shares across connections: upstream authorization headers keyed by
// host, and recorded request bodies keyed by session id. Both are
// plain injected values; callers own their lifetime.
package hostcache

import (
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/anvilproxy/anvil/proxy/internal/httpmsg"
)

// AuthHeaderCache remembers the authorization headers a host last
// accepted, so later requests can pre-authenticate without waiting for
// a challenge. Every mutation is a single-key upsert.
type AuthHeaderCache struct {
	mu    sync.RWMutex
	hosts map[string][]httpmsg.Header
}

func NewAuthHeaderCache() *AuthHeaderCache {
	return &AuthHeaderCache{hosts: make(map[string][]httpmsg.Header)}
}

// Put replaces the cached headers for host.
func (c *AuthHeaderCache) Put(host string, headers []httpmsg.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[strings.ToLower(host)] = append([]httpmsg.Header(nil), headers...)
}

// Get returns the cached headers for host.
func (c *AuthHeaderCache) Get(host string) ([]httpmsg.Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	headers, ok := c.hosts[strings.ToLower(host)]
	if !ok {
		return nil, false
	}
	return append([]httpmsg.Header(nil), headers...), true
}

// Remove drops the cached entry for host, invalidating a credential
// the server stopped accepting.
func (c *AuthHeaderCache) Remove(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hosts, strings.ToLower(host))
}

// Has reports whether host has a cached entry.
func (c *AuthHeaderCache) Has(host string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.hosts[strings.ToLower(host)]
	return ok
}

// ProxyAuthorization returns only the proxy-scoped headers cached for
// host, the subset a CONNECT block through an upstream proxy may carry.
func (c *AuthHeaderCache) ProxyAuthorization(host string) []httpmsg.Header {
	headers, ok := c.Get(host)
	if !ok {
		return nil
	}
	return lo.Filter(headers, func(h httpmsg.Header, _ int) bool {
		return strings.HasPrefix(strings.ToLower(h.Name), "proxy")
	})
}

// BodyCache keeps request bodies recorded for hook inspection, keyed by
// session id. Entries are removed as soon as the exchange completes.
type BodyCache struct {
	mu     sync.RWMutex
	bodies map[string]string
}

func NewBodyCache() *BodyCache {
	return &BodyCache{bodies: make(map[string]string)}
}

func (c *BodyCache) Put(id, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies[id] = body
}

func (c *BodyCache) Get(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	body, ok := c.bodies[id]
	return body, ok
}

func (c *BodyCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bodies, id)
}
