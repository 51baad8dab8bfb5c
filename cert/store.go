package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const caFileName = "anvilproxy-ca.pem"

// getStorePath resolves and prepares the directory holding the root CA
// file. An empty path falls back to ~/.anvilproxy.
func getStorePath(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, ".anvilproxy")
	}

	stat, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	if !stat.IsDir() {
		return "", fmt.Errorf("certificate store path %s is not a directory", path)
	}
	return path, nil
}

func (ca *SelfSignCA) caFile() string {
	return filepath.Join(ca.storePath, caFileName)
}

func (ca *SelfSignCA) load() error {
	data, err := os.ReadFile(ca.caFile())
	if err != nil {
		return err
	}

	var key *rsa.PrivateKey
	var cert *x509.Certificate
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY":
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return fmt.Errorf("parse root key: %w", err)
			}
			rsaKey, ok := parsed.(*rsa.PrivateKey)
			if !ok {
				return fmt.Errorf("root key is %T, want RSA", parsed)
			}
			key = rsaKey
		case "CERTIFICATE":
			parsed, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return fmt.Errorf("parse root certificate: %w", err)
			}
			cert = parsed
		}
	}
	if key == nil || cert == nil {
		return fmt.Errorf("root CA file %s is incomplete", ca.caFile())
	}

	ca.key = key
	ca.root = cert
	return nil
}

func (ca *SelfSignCA) create() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1).Lsh(big.NewInt(1), 120))
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   caName,
			Organization: []string{caName},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}

	ca.key = key
	ca.root = root
	return nil
}

func (ca *SelfSignCA) save() error {
	file, err := os.OpenFile(ca.caFile(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	return ca.saveTo(file)
}

func (ca *SelfSignCA) saveTo(w io.Writer) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(ca.key)
	if err != nil {
		return err
	}
	if err := pem.Encode(w, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: ca.root.Raw})
}
