// Package cert implements the certificate capability behind TLS
// interception: a self-signed root CA persisted to a store path, and
// per-host leaf certificates issued on demand.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/singleflight"
)

// CA issues certificates for intercepted hosts.
type CA interface {
	// GetOrCreate returns a leaf certificate for host, issuing and
	// caching one on first use. Idempotent per host and safe under
	// concurrent calls.
	GetOrCreate(host string) (*tls.Certificate, error)

	// RootCert exposes the root so callers can install trust.
	RootCert() *x509.Certificate
}

const caName = "anvilproxy"

// SelfSignCA is the default CA: one root key pair, reused to sign
// every leaf.
type SelfSignCA struct {
	key       *rsa.PrivateKey
	root      *x509.Certificate
	storePath string

	group   *singleflight.Group
	cacheMu sync.RWMutex
	cache   map[string]*tls.Certificate
}

// NewSelfSignCA loads the root CA from the store path, creating and
// persisting a fresh one when none exists. An empty path defaults to
// ~/.anvilproxy.
func NewSelfSignCA(path string) (CA, error) {
	storePath, err := getStorePath(path)
	if err != nil {
		return nil, err
	}

	ca := &SelfSignCA{
		storePath: storePath,
		group:     new(singleflight.Group),
		cache:     make(map[string]*tls.Certificate),
	}

	if err := ca.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		slog.Debug("generating new root certificate", "file", ca.caFile())
		if err := ca.create(); err != nil {
			return nil, err
		}
		if err := ca.save(); err != nil {
			return nil, err
		}
	}
	return ca, nil
}

func (ca *SelfSignCA) RootCert() *x509.Certificate {
	return ca.root
}

func (ca *SelfSignCA) GetOrCreate(host string) (*tls.Certificate, error) {
	host = stripPort(host)
	key := cacheKey(host)

	if cert := ca.lookup(key); cert != nil {
		return cert, nil
	}

	cert, err := ca.group.Do(key, func() (any, error) {
		if cert := ca.lookup(key); cert != nil {
			return cert, nil
		}
		cert, err := ca.issue(host)
		if err != nil {
			return nil, err
		}
		ca.cacheMu.Lock()
		ca.cache[key] = cert
		ca.cacheMu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return cert.(*tls.Certificate), nil
}

// lookup applies the exact-then-suffix cache policy: sub.example.com
// may reuse a certificate cached for example.com.
func (ca *SelfSignCA) lookup(key string) *tls.Certificate {
	ca.cacheMu.RLock()
	defer ca.cacheMu.RUnlock()
	if cert, ok := ca.cache[key]; ok {
		return cert
	}
	for cached, cert := range ca.cache {
		if strings.HasSuffix(key, "."+cached) {
			return cert
		}
	}
	return nil
}

func (ca *SelfSignCA) issue(host string) (*tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(1).Lsh(big.NewInt(1), 120))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host, Organization: []string{caName}},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.root, &ca.key.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("issue certificate for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.root.Raw},
		PrivateKey:  ca.key,
	}, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func cacheKey(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
