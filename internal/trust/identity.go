package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultIdentity is the server name agreed between sender and receiver
	// when nothing else is configured.
	DefaultIdentity = "yowshare.local"

	CertFileName = "server.crt"
	KeyFileName  = "server.key"

	demoValidity = 365 * 24 * time.Hour
)

var (
	ErrIdentityRequired = errors.New("trust: identity name required")
	ErrNoCertificate    = errors.New("trust: no certificate in pem data")
)

// Identity is a certificate and key pair plus its PEM encodings.
type Identity struct {
	Name    string
	Cert    tls.Certificate
	Leaf    *x509.Certificate
	CertPEM []byte
	KeyPEM  []byte
}

// GenerateSelfSigned creates a demo identity for name. name becomes the
// common name and the only DNS (or IP) subject alternative name.
func GenerateSelfSigned(name string) (Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Identity{}, ErrIdentityRequired
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("trust: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return Identity{}, fmt.Errorf("trust: generate serial: %w", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(demoValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(name); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{name}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return Identity{}, fmt.Errorf("trust: create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return Identity{}, fmt.Errorf("trust: marshal key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return ParseIdentity(certPEM, keyPEM)
}

// ParseIdentity builds an Identity from PEM-encoded certificate and key.
func ParseIdentity(certPEM, keyPEM []byte) (Identity, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return Identity{}, fmt.Errorf("trust: parse key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return Identity{}, fmt.Errorf("trust: parse leaf: %w", err)
	}
	cert.Leaf = leaf
	return Identity{
		Name:    leaf.Subject.CommonName,
		Cert:    cert,
		Leaf:    leaf,
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
	}, nil
}

// WriteIdentity stores the identity as server.crt / server.key in dir.
func WriteIdentity(dir string, id Identity, overwrite bool) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("trust: create dir: %w", err)
	}
	certPath := filepath.Join(dir, CertFileName)
	keyPath := filepath.Join(dir, KeyFileName)
	if !overwrite {
		for _, p := range []string{certPath, keyPath} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("trust: %s already exists", p)
			}
		}
	}
	if err := os.WriteFile(certPath, id.CertPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("trust: write cert: %w", err)
	}
	if err := os.WriteFile(keyPath, id.KeyPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("trust: write key: %w", err)
	}
	return certPath, keyPath, nil
}

// LoadIdentity reads a certificate/key pair from disk.
func LoadIdentity(certPath, keyPath string) (Identity, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return Identity{}, fmt.Errorf("trust: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return Identity{}, fmt.Errorf("trust: read key: %w", err)
	}
	return ParseIdentity(certPEM, keyPEM)
}

// LoadCertificates parses every CERTIFICATE block in the file at path.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trust: read certificates: %w", err)
	}
	return ParseCertificates(data)
}

func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("trust: parse certificate: %w", err)
		}
		out = append(out, cert)
	}
	if len(out) == 0 {
		return nil, ErrNoCertificate
	}
	return out, nil
}
