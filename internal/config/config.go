// Package config holds the edgeshare TOML document: defaults, loading,
// validation and conversion into the runtime configs of each package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgeshare/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

type File struct {
	Session  SessionSection  `toml:"session"`
	Send     SendSection     `toml:"send"`
	Trust    TrustSection    `toml:"trust"`
	Receiver ReceiverSection `toml:"receiver"`
	Admin    AdminSection    `toml:"admin"`
	History  HistorySection  `toml:"history"`
	Log      LogSection      `toml:"log"`
}

// SessionSection durations use time.ParseDuration syntax.
type SessionSection struct {
	SecurityMode     string `toml:"security_mode"`
	ALPN             string `toml:"alpn"`
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	IdleTimeout      string `toml:"idle_timeout"`
	KeepAlive        string `toml:"keep_alive"`
	WriteTimeout     string `toml:"write_timeout"`
	DrainTimeout     string `toml:"drain_timeout"`
}

type SendSection struct {
	ServerName  string `toml:"server_name"`
	ChunkSize   int    `toml:"chunk_size"`
	MaxAttempts int    `toml:"max_attempts"`
}

// TrustSection names the local identity and how the client trusts servers.
// Exactly one of PinSHA256, PinCertFile or CAFile is used, in that order.
type TrustSection struct {
	Identity    string `toml:"identity"`
	CertFile    string `toml:"cert_file"`
	KeyFile     string `toml:"key_file"`
	PinCertFile string `toml:"pin_cert_file"`
	PinSHA256   string `toml:"pin_sha256"`
	CAFile      string `toml:"ca_file"`
}

type ReceiverSection struct {
	Listen         string `toml:"listen"`
	ReceivedDir    string `toml:"received_dir"`
	TempDir        string `toml:"temp_dir"`
	StreamTimeout  string `toml:"stream_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	MaxHeaderBytes uint32 `toml:"max_header_bytes"`
}

type AdminSection struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	DeviceName  string   `toml:"device_name"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type HistorySection struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type LogSection struct {
	Level string `toml:"level"`
}

// Default returns the document `config init` writes.
func Default() File {
	sc := session.DefaultConfig()
	return File{
		Session: SessionSection{
			SecurityMode:     string(sc.SecurityMode),
			ALPN:             sc.ALPN,
			ConnectTimeout:   sc.ConnectTimeout.String(),
			HandshakeTimeout: sc.HandshakeTimeout.String(),
			IdleTimeout:      sc.IdleTimeout.String(),
			KeepAlive:        sc.KeepAlive.String(),
			WriteTimeout:     sc.WriteTimeout.String(),
			DrainTimeout:     sc.DrainTimeout.String(),
		},
		Send: SendSection{
			ServerName:  "yowshare.local",
			ChunkSize:   1 << 20,
			MaxAttempts: 3,
		},
		Trust: TrustSection{
			Identity:    "yowshare.local",
			CertFile:    "certs/server.crt",
			KeyFile:     "certs/server.key",
			PinCertFile: "certs/server.crt",
		},
		Receiver: ReceiverSection{
			Listen:         "0.0.0.0:4433",
			ReceivedDir:    "received",
			StreamTimeout:  "10s",
			ReadTimeout:    "30s",
			MaxHeaderBytes: 1 << 20,
		},
		Admin: AdminSection{
			Enabled:     true,
			Addr:        "127.0.0.1:8080",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		History: HistorySection{
			Enabled: true,
			Path:    "local/history.db",
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Load reads path over Default, so omitted keys keep their default values.
func Load(path string) (File, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return File{}, err
	}
	if err := Validate(cfg); err != nil {
		return File{}, err
	}
	return cfg, nil
}

func Parse(data []byte) (File, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return File{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg File) error {
	if _, err := cfg.Session.Build(); err != nil {
		return fmt.Errorf("%w: session: %w", ErrInvalidConfig, err)
	}
	if cfg.Send.ChunkSize < 0 {
		return fmt.Errorf("%w: send.chunk_size must not be negative", ErrInvalidConfig)
	}
	if cfg.Send.MaxAttempts < 0 {
		return fmt.Errorf("%w: send.max_attempts must not be negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Trust.Identity) == "" {
		return fmt.Errorf("%w: trust.identity is required", ErrInvalidConfig)
	}
	if (cfg.Trust.CertFile == "") != (cfg.Trust.KeyFile == "") {
		return fmt.Errorf("%w: trust.cert_file and trust.key_file go together", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Receiver.Listen) == "" {
		return fmt.Errorf("%w: receiver.listen is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Receiver.ReceivedDir) == "" {
		return fmt.Errorf("%w: receiver.received_dir is required", ErrInvalidConfig)
	}
	if _, err := parseDuration("receiver.stream_timeout", cfg.Receiver.StreamTimeout, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := parseDuration("receiver.read_timeout", cfg.Receiver.ReadTimeout, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return fmt.Errorf("%w: admin.addr is required when admin is enabled", ErrInvalidConfig)
	}
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return fmt.Errorf("%w: history.path is required when history is enabled", ErrInvalidConfig)
	}
	return nil
}

func parseDuration(key, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration", key)
	}
	return d, nil
}
