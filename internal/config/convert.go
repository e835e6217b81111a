package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/edgeshare/internal/admin"
	"github.com/danmuck/edgeshare/internal/protocol/header"
	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/danmuck/edgeshare/internal/receiver"
	"github.com/danmuck/edgeshare/internal/trust"
)

var ErrNoTrustAnchor = errors.New("config: trust needs pin_sha256, pin_cert_file or ca_file")

// Build converts the section into a session config. Empty fields keep the
// session defaults.
func (s SessionSection) Build() (session.Config, error) {
	cfg := session.DefaultConfig()
	if v := strings.TrimSpace(s.SecurityMode); v != "" {
		mode := session.NormalizeSecurityMode(session.SecurityMode(v))
		if mode != session.SecurityModeDevelopment && mode != session.SecurityModeProduction {
			return session.Config{}, fmt.Errorf("%w: %q", session.ErrInvalidSecurityMode, v)
		}
		cfg.SecurityMode = mode
	}
	if v := strings.TrimSpace(s.ALPN); v != "" {
		cfg.ALPN = v
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", s.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", s.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"idle_timeout", s.IdleTimeout, &cfg.IdleTimeout},
		{"keep_alive", s.KeepAlive, &cfg.KeepAlive},
		{"write_timeout", s.WriteTimeout, &cfg.WriteTimeout},
		{"drain_timeout", s.DrainTimeout, &cfg.DrainTimeout},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.raw, *d.dst)
		if err != nil {
			return session.Config{}, err
		}
		*d.dst = v
	}
	return cfg, nil
}

// Policy builds the client trust policy.
func (t TrustSection) Policy() (trust.Policy, error) {
	switch {
	case strings.TrimSpace(t.PinSHA256) != "":
		return trust.PinFingerprint(t.PinSHA256)
	case strings.TrimSpace(t.PinCertFile) != "":
		certs, err := trust.LoadCertificates(t.PinCertFile)
		if err != nil {
			return nil, err
		}
		return trust.PinCertificate(certs[0]), nil
	case strings.TrimSpace(t.CAFile) != "":
		return trust.LoadAuthority(t.CAFile)
	default:
		return nil, ErrNoTrustAnchor
	}
}

// LoadIdentity loads the server identity from CertFile and KeyFile.
func (t TrustSection) LoadIdentity() (trust.Identity, error) {
	if t.CertFile == "" || t.KeyFile == "" {
		return trust.Identity{}, fmt.Errorf("config: trust.cert_file and trust.key_file are required to serve")
	}
	return trust.LoadIdentity(t.CertFile, t.KeyFile)
}

func (r ReceiverSection) Build() (receiver.Config, error) {
	cfg := receiver.DefaultConfig()
	cfg.ReceivedDir = r.ReceivedDir
	cfg.TempDir = r.TempDir
	d, err := parseDuration("stream_timeout", r.StreamTimeout, cfg.StreamTimeout)
	if err != nil {
		return receiver.Config{}, err
	}
	cfg.StreamTimeout = d
	if cfg.ReadTimeout, err = parseDuration("read_timeout", r.ReadTimeout, cfg.ReadTimeout); err != nil {
		return receiver.Config{}, err
	}
	if r.MaxHeaderBytes > 0 {
		cfg.Limits = header.Limits{MaxHeaderBytes: r.MaxHeaderBytes}
	}
	return cfg, nil
}

func (a AdminSection) Build(receivedDir string) admin.Config {
	return admin.Config{
		Addr:        a.Addr,
		DeviceName:  a.DeviceName,
		CORSOrigins: a.CorsOrigins,
		Token:       a.Token,
		ReceivedDir: receivedDir,
	}
}
