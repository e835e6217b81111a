package trust

import (
	"crypto/x509"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgeshare/internal/testutil/testlog"
	"github.com/danmuck/edgeshare/internal/testutil/tlstest"
)

func TestGenerateSelfSignedIdentity(t *testing.T) {
	testlog.Start(t)
	id, err := GenerateSelfSigned(DefaultIdentity)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if id.Name != DefaultIdentity {
		t.Fatalf("unexpected name=%q", id.Name)
	}
	if err := id.Leaf.VerifyHostname(DefaultIdentity); err != nil {
		t.Fatalf("leaf does not cover identity: %v", err)
	}
	if !SelfSigned(id.Leaf) {
		t.Fatalf("expected self-signed leaf")
	}
	if _, err := GenerateSelfSigned("  "); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestIdentityWriteLoad(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	id, err := GenerateSelfSigned("files.lan")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	certPath, keyPath, err := WriteIdentity(dir, id, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := WriteIdentity(dir, id, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	loaded, err := LoadIdentity(certPath, keyPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if Fingerprint(loaded.Leaf) != Fingerprint(id.Leaf) {
		t.Fatalf("fingerprint changed across write/load")
	}
	certs, err := LoadCertificates(certPath)
	if err != nil || len(certs) != 1 {
		t.Fatalf("load certificates: n=%d err=%v", len(certs), err)
	}
	if _, err := ParseCertificates([]byte("garbage")); !errors.Is(err, ErrNoCertificate) {
		t.Fatalf("expected ErrNoCertificate, got %v", err)
	}
}

func TestPinnedPolicy(t *testing.T) {
	testlog.Start(t)
	id, err := GenerateSelfSigned(DefaultIdentity)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other, err := GenerateSelfSigned(DefaultIdentity)
	if err != nil {
		t.Fatalf("generate other: %v", err)
	}
	p := PinCertificate(id.Leaf)
	if !IsDemo(p) {
		t.Fatalf("pinned self-signed certificate must be flagged as demo")
	}
	if err := p.Verify(DefaultIdentity, []*x509.Certificate{id.Leaf}); err != nil {
		t.Fatalf("verify pinned: %v", err)
	}
	if err := p.Verify("other.local", []*x509.Certificate{id.Leaf}); !errors.Is(err, ErrNameMismatch) {
		t.Fatalf("expected ErrNameMismatch, got %v", err)
	}
	if err := p.Verify(DefaultIdentity, []*x509.Certificate{other.Leaf}); !errors.Is(err, ErrUntrustedCertificate) {
		t.Fatalf("expected ErrUntrustedCertificate, got %v", err)
	}
	if err := p.Verify(DefaultIdentity, nil); !errors.Is(err, ErrNoPeerCertificate) {
		t.Fatalf("expected ErrNoPeerCertificate, got %v", err)
	}

	p.now = func() time.Time { return id.Leaf.NotAfter.Add(time.Hour) }
	if err := p.Verify(DefaultIdentity, []*x509.Certificate{id.Leaf}); !errors.Is(err, ErrCertificateExpired) {
		t.Fatalf("expected ErrCertificateExpired, got %v", err)
	}
}

func TestPinFingerprint(t *testing.T) {
	id, err := GenerateSelfSigned(DefaultIdentity)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	fp := Fingerprint(id.Leaf)
	var colon []string
	for i := 0; i < len(fp); i += 2 {
		colon = append(colon, strings.ToUpper(fp[i:i+2]))
	}
	p, err := PinFingerprint(strings.Join(colon, ":"))
	if err != nil {
		t.Fatalf("pin fingerprint: %v", err)
	}
	if IsDemo(p) {
		t.Fatalf("fingerprint pins are not demo trust")
	}
	if err := p.Verify(DefaultIdentity, []*x509.Certificate{id.Leaf}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := PinFingerprint("abcd"); !errors.Is(err, ErrInvalidFingerprint) {
		t.Fatalf("expected ErrInvalidFingerprint, got %v", err)
	}
}

func TestAuthorityPolicy(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "edgeshare-test-ca")
	leaf := ca.IssueServer(t, dir, "files.lan")
	expired := ca.IssueExpiredServer(t, t.TempDir(), "files.lan")

	policy, err := LoadAuthority(ca.CAFile())
	if err != nil {
		t.Fatalf("load authority: %v", err)
	}
	if IsDemo(policy) {
		t.Fatalf("authority trust is not demo trust")
	}

	good, err := ParseIdentity(leaf.CertPEM, leaf.KeyPEM)
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	if err := policy.Verify("files.lan", []*x509.Certificate{good.Leaf}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := policy.Verify("printer.lan", []*x509.Certificate{good.Leaf}); !errors.Is(err, ErrNameMismatch) {
		t.Fatalf("expected ErrNameMismatch, got %v", err)
	}

	old, err := ParseIdentity(expired.CertPEM, expired.KeyPEM)
	if err != nil {
		t.Fatalf("parse expired: %v", err)
	}
	if err := policy.Verify("files.lan", []*x509.Certificate{old.Leaf}); !errors.Is(err, ErrCertificateExpired) {
		t.Fatalf("expected ErrCertificateExpired, got %v", err)
	}

	self, err := GenerateSelfSigned("files.lan")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := policy.Verify("files.lan", []*x509.Certificate{self.Leaf}); !errors.Is(err, ErrUntrustedCertificate) {
		t.Fatalf("expected ErrUntrustedCertificate, got %v", err)
	}
}
