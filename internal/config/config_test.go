package config

import (
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/danmuck/edgeshare/internal/testutil/testlog"
	"github.com/danmuck/edgeshare/internal/trust"
)

func TestTemplateMatchesDefault(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse([]byte(Template()))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("template and Default diverge:\n%+v\n%+v", cfg, Default())
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "edgeshare.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("load written template: %v", err)
	}
}

func TestLoadKeepsDefaultsForOmittedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeshare.toml")
	doc := `
[session]
drain_timeout = "2m"
security_mode = "Production"

[receiver]
received_dir = "/data/in"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Receiver.ReceivedDir != "/data/in" || cfg.Receiver.Listen != "0.0.0.0:4433" {
		t.Fatalf("unexpected receiver section: %+v", cfg.Receiver)
	}
	sc, err := cfg.Session.Build()
	if err != nil {
		t.Fatalf("build session: %v", err)
	}
	if sc.DrainTimeout != 2*time.Minute || sc.ConnectTimeout != session.DefaultConfig().ConnectTimeout {
		t.Fatalf("unexpected session config: %+v", sc)
	}
	if sc.SecurityMode != session.SecurityModeProduction {
		t.Fatalf("unexpected mode %q", sc.SecurityMode)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*File)
	}{
		{"bad duration", func(f *File) { f.Session.IdleTimeout = "soon" }},
		{"negative duration", func(f *File) { f.Session.WriteTimeout = "-1s" }},
		{"bad mode", func(f *File) { f.Session.SecurityMode = "yolo" }},
		{"negative chunk", func(f *File) { f.Send.ChunkSize = -1 }},
		{"missing identity", func(f *File) { f.Trust.Identity = " " }},
		{"half a keypair", func(f *File) { f.Trust.KeyFile = "" }},
		{"missing listen", func(f *File) { f.Receiver.Listen = "" }},
		{"bad stream timeout", func(f *File) { f.Receiver.StreamTimeout = "x" }},
		{"bad read timeout", func(f *File) { f.Receiver.ReadTimeout = "soon" }},
		{"admin without addr", func(f *File) { f.Admin.Addr = "" }},
		{"history without path", func(f *File) { f.History.Path = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := Validate(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestTrustPolicySelection(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	id, err := trust.GenerateSelfSigned(trust.DefaultIdentity)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	certPath, keyPath, err := trust.WriteIdentity(dir, id, false)
	if err != nil {
		t.Fatalf("write identity: %v", err)
	}

	if _, err := (TrustSection{}).Policy(); !errors.Is(err, ErrNoTrustAnchor) {
		t.Fatalf("expected ErrNoTrustAnchor, got %v", err)
	}

	pinned, err := (TrustSection{PinCertFile: certPath}).Policy()
	if err != nil {
		t.Fatalf("pin cert: %v", err)
	}
	if !trust.IsDemo(pinned) {
		t.Fatalf("pinned self-signed cert must be flagged as demo trust")
	}
	if err := pinned.Verify(trust.DefaultIdentity, []*x509.Certificate{id.Leaf}); err != nil {
		t.Fatalf("pinned verify: %v", err)
	}

	fp, err := (TrustSection{PinSHA256: trust.Fingerprint(id.Leaf), PinCertFile: "ignored"}).Policy()
	if err != nil {
		t.Fatalf("pin sha256: %v", err)
	}
	if trust.IsDemo(fp) {
		t.Fatalf("fingerprint pin is not demo trust")
	}

	loaded, err := (TrustSection{CertFile: certPath, KeyFile: keyPath}).LoadIdentity()
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if !loaded.Leaf.Equal(id.Leaf) {
		t.Fatalf("loaded identity differs")
	}
}

func TestReceiverAndAdminBuild(t *testing.T) {
	cfg := Default()
	cfg.Receiver.MaxHeaderBytes = 4096
	rc, err := cfg.Receiver.Build()
	if err != nil {
		t.Fatalf("build receiver: %v", err)
	}
	if rc.StreamTimeout != 10*time.Second || rc.ReadTimeout != 30*time.Second || rc.Limits.MaxHeaderBytes != 4096 || rc.ReceivedDir != "received" {
		t.Fatalf("unexpected receiver config: %+v", rc)
	}
	ac := cfg.Admin.Build(rc.ReceivedDir)
	if ac.Addr != "127.0.0.1:8080" || ac.ReceivedDir != "received" {
		t.Fatalf("unexpected admin config: %+v", ac)
	}
}
