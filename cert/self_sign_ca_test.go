package cert_test

import (
	"crypto/x509"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/anvilproxy/anvil/cert"
)

func TestNewSelfSignCAPersistsRootAcrossLoads(t *testing.T) {
	c := qt.New(t)

	dir := c.TempDir()
	first, err := cert.NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)
	second, err := cert.NewSelfSignCA(dir)
	c.Assert(err, qt.IsNil)

	c.Assert(second.RootCert().SerialNumber.Cmp(first.RootCert().SerialNumber), qt.Equals, 0)
	c.Assert(second.RootCert().Raw, qt.DeepEquals, first.RootCert().Raw)
}

func TestGetOrCreateIssuesLeafVerifiableAgainstRoot(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewSelfSignCA(t.TempDir())
	c.Assert(err, qt.IsNil)

	leaf, err := ca.GetOrCreate("example.com:443")
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.Certificate, qt.HasLen, 2)

	parsed, err := x509.ParseCertificate(leaf.Certificate[0])
	c.Assert(err, qt.IsNil)
	c.Assert(parsed.DNSNames, qt.DeepEquals, []string{"example.com"})

	roots := x509.NewCertPool()
	roots.AddCert(ca.RootCert())
	_, err = parsed.Verify(x509.VerifyOptions{
		Roots:       roots,
		DNSName:     "example.com",
		CurrentTime: time.Now(),
	})
	c.Assert(err, qt.IsNil)
}

func TestGetOrCreateReturnsCachedCertificate(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewSelfSignCA(t.TempDir())
	c.Assert(err, qt.IsNil)

	first, err := ca.GetOrCreate("example.com")
	c.Assert(err, qt.IsNil)
	second, err := ca.GetOrCreate("example.com")
	c.Assert(err, qt.IsNil)

	c.Assert(second, qt.Equals, first)
}

func TestGetOrCreateSubdomainReusesParentCertificate(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewSelfSignCA(t.TempDir())
	c.Assert(err, qt.IsNil)

	parent, err := ca.GetOrCreate("example.com")
	c.Assert(err, qt.IsNil)
	sub, err := ca.GetOrCreate("api.example.com")
	c.Assert(err, qt.IsNil)

	c.Assert(sub, qt.Equals, parent)
}

func TestGetOrCreateStripsWWWPrefix(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewSelfSignCA(t.TempDir())
	c.Assert(err, qt.IsNil)

	www, err := ca.GetOrCreate("www.example.com")
	c.Assert(err, qt.IsNil)
	bare, err := ca.GetOrCreate("example.com")
	c.Assert(err, qt.IsNil)

	c.Assert(bare, qt.Equals, www)
}

func TestGetOrCreateForIPAddress(t *testing.T) {
	c := qt.New(t)

	ca, err := cert.NewSelfSignCA(t.TempDir())
	c.Assert(err, qt.IsNil)

	leaf, err := ca.GetOrCreate("127.0.0.1")
	c.Assert(err, qt.IsNil)

	parsed, err := x509.ParseCertificate(leaf.Certificate[0])
	c.Assert(err, qt.IsNil)
	c.Assert(parsed.IPAddresses, qt.HasLen, 1)
	c.Assert(parsed.IPAddresses[0].String(), qt.Equals, "127.0.0.1")
}
