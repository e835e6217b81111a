package trust

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoPeerCertificate    = errors.New("trust: peer presented no certificate")
	ErrUntrustedCertificate = errors.New("trust: untrusted certificate")
	ErrNameMismatch         = errors.New("trust: certificate does not match server identity")
	ErrCertificateExpired   = errors.New("trust: certificate outside validity period")
	ErrInvalidFingerprint   = errors.New("trust: invalid sha256 fingerprint")
)

// Policy decides whether a presented certificate chain proves serverName.
type Policy interface {
	Verify(serverName string, chain []*x509.Certificate) error
}

// IsDemo reports whether p trusts a self-signed certificate copied out of
// band, which is not a production posture.
func IsDemo(p Policy) bool {
	d, ok := p.(interface{ Demo() bool })
	return ok && d.Demo()
}

// Fingerprint returns the lowercase hex SHA-256 of the certificate DER.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// Pinned trusts exactly one certificate, identified by its fingerprint.
type Pinned struct {
	fingerprint []byte
	selfSigned  bool
	now         func() time.Time
}

// PinCertificate pins cert itself.
func PinCertificate(cert *x509.Certificate) *Pinned {
	sum := sha256.Sum256(cert.Raw)
	return &Pinned{
		fingerprint: sum[:],
		selfSigned:  SelfSigned(cert),
		now:         time.Now,
	}
}

// PinFingerprint pins a hex SHA-256 fingerprint (colons allowed) obtained
// through a side channel.
func PinFingerprint(fp string) (*Pinned, error) {
	clean := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fp), ":", ""))
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) != sha256.Size {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFingerprint, fp)
	}
	return &Pinned{fingerprint: raw, now: time.Now}, nil
}

func (p *Pinned) Demo() bool {
	return p.selfSigned
}

func (p *Pinned) Verify(serverName string, chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return ErrNoPeerCertificate
	}
	leaf := chain[0]
	sum := sha256.Sum256(leaf.Raw)
	if !bytes.Equal(sum[:], p.fingerprint) {
		return fmt.Errorf("%w: fingerprint %s", ErrUntrustedCertificate, hex.EncodeToString(sum[:]))
	}
	now := p.now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return ErrCertificateExpired
	}
	if err := leaf.VerifyHostname(serverName); err != nil {
		return fmt.Errorf("%w: %v", ErrNameMismatch, err)
	}
	return nil
}

// Authority trusts certificates that chain to one of its roots.
type Authority struct {
	roots *x509.CertPool
}

func NewAuthority(roots ...*x509.Certificate) *Authority {
	pool := x509.NewCertPool()
	for _, c := range roots {
		pool.AddCert(c)
	}
	return &Authority{roots: pool}
}

// LoadAuthority reads a PEM CA bundle.
func LoadAuthority(path string) (*Authority, error) {
	certs, err := LoadCertificates(path)
	if err != nil {
		return nil, err
	}
	return NewAuthority(certs...), nil
}

func (a *Authority) Verify(serverName string, chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return ErrNoPeerCertificate
	}
	inter := x509.NewCertPool()
	for _, c := range chain[1:] {
		inter.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		DNSName:       serverName,
		Roots:         a.roots,
		Intermediates: inter,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err == nil {
		return nil
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return fmt.Errorf("%w: %v", ErrNameMismatch, err)
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		return ErrCertificateExpired
	}
	return fmt.Errorf("%w: %v", ErrUntrustedCertificate, err)
}

// SelfSigned reports whether cert is its own issuer.
func SelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	// CheckSignatureFrom refuses non-CA parents, so verify the raw signature.
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}
