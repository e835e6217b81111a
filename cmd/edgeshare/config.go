package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgeshare/internal/config"
)

type fileConfig struct {
	Session  fileSession  `toml:"session"`
	Send     fileSend     `toml:"send"`
	Trust    fileTrust    `toml:"trust"`
	Receiver fileReceiver `toml:"receiver"`
	Admin    fileAdmin    `toml:"admin"`
	History  fileHistory  `toml:"history"`
	Log      fileLog      `toml:"log"`
}

type fileSession struct {
	SecurityMode     string `toml:"security_mode"`
	ALPN             string `toml:"alpn"`
	ConnectTimeout   string `toml:"connect_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	IdleTimeout      string `toml:"idle_timeout"`
	KeepAlive        string `toml:"keep_alive"`
	WriteTimeout     string `toml:"write_timeout"`
	DrainTimeout     string `toml:"drain_timeout"`
}

type fileSend struct {
	ServerName  string `toml:"server_name"`
	ChunkSize   int    `toml:"chunk_size"`
	MaxAttempts int    `toml:"max_attempts"`
}

type fileTrust struct {
	Identity    string `toml:"identity"`
	CertFile    string `toml:"cert_file"`
	KeyFile     string `toml:"key_file"`
	PinCertFile string `toml:"pin_cert_file"`
	PinSHA256   string `toml:"pin_sha256"`
	CAFile      string `toml:"ca_file"`
}

type fileReceiver struct {
	Listen         string `toml:"listen"`
	ReceivedDir    string `toml:"received_dir"`
	TempDir        string `toml:"temp_dir"`
	StreamTimeout  string `toml:"stream_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	MaxHeaderBytes int64  `toml:"max_header_bytes"`
}

type fileAdmin struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	DeviceName  string   `toml:"device_name"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type fileHistory struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type fileLog struct {
	Level string `toml:"level"`
}

// loadConfig overlays the keys defined in path onto the defaults. A missing
// file is only an error when the path was given explicitly.
func loadConfig(path string, explicit bool) (config.File, error) {
	cfg := config.Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return config.File{}, fmt.Errorf("load edgeshare config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.File{}, fmt.Errorf("load edgeshare config: unknown key %q", undecoded[0].String())
	}

	str := func(dst *string, src string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(src)
		}
	}

	str(&cfg.Session.SecurityMode, raw.Session.SecurityMode, "session", "security_mode")
	str(&cfg.Session.ALPN, raw.Session.ALPN, "session", "alpn")
	str(&cfg.Session.ConnectTimeout, raw.Session.ConnectTimeout, "session", "connect_timeout")
	str(&cfg.Session.HandshakeTimeout, raw.Session.HandshakeTimeout, "session", "handshake_timeout")
	str(&cfg.Session.IdleTimeout, raw.Session.IdleTimeout, "session", "idle_timeout")
	str(&cfg.Session.KeepAlive, raw.Session.KeepAlive, "session", "keep_alive")
	str(&cfg.Session.WriteTimeout, raw.Session.WriteTimeout, "session", "write_timeout")
	str(&cfg.Session.DrainTimeout, raw.Session.DrainTimeout, "session", "drain_timeout")

	str(&cfg.Send.ServerName, raw.Send.ServerName, "send", "server_name")
	if meta.IsDefined("send", "chunk_size") {
		cfg.Send.ChunkSize = raw.Send.ChunkSize
	}
	if meta.IsDefined("send", "max_attempts") {
		cfg.Send.MaxAttempts = raw.Send.MaxAttempts
	}

	str(&cfg.Trust.Identity, raw.Trust.Identity, "trust", "identity")
	str(&cfg.Trust.CertFile, raw.Trust.CertFile, "trust", "cert_file")
	str(&cfg.Trust.KeyFile, raw.Trust.KeyFile, "trust", "key_file")
	str(&cfg.Trust.PinCertFile, raw.Trust.PinCertFile, "trust", "pin_cert_file")
	str(&cfg.Trust.PinSHA256, raw.Trust.PinSHA256, "trust", "pin_sha256")
	str(&cfg.Trust.CAFile, raw.Trust.CAFile, "trust", "ca_file")

	str(&cfg.Receiver.Listen, raw.Receiver.Listen, "receiver", "listen")
	str(&cfg.Receiver.ReceivedDir, raw.Receiver.ReceivedDir, "receiver", "received_dir")
	str(&cfg.Receiver.TempDir, raw.Receiver.TempDir, "receiver", "temp_dir")
	str(&cfg.Receiver.StreamTimeout, raw.Receiver.StreamTimeout, "receiver", "stream_timeout")
	str(&cfg.Receiver.ReadTimeout, raw.Receiver.ReadTimeout, "receiver", "read_timeout")
	if meta.IsDefined("receiver", "max_header_bytes") {
		if raw.Receiver.MaxHeaderBytes < 0 || raw.Receiver.MaxHeaderBytes > int64(^uint32(0)) {
			return config.File{}, fmt.Errorf("parse receiver.max_header_bytes: out of range: %d", raw.Receiver.MaxHeaderBytes)
		}
		cfg.Receiver.MaxHeaderBytes = uint32(raw.Receiver.MaxHeaderBytes)
	}

	if meta.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	str(&cfg.Admin.Addr, raw.Admin.Addr, "admin", "addr")
	str(&cfg.Admin.DeviceName, raw.Admin.DeviceName, "admin", "device_name")
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.Admin.CorsOrigins)
	}
	str(&cfg.Admin.Token, raw.Admin.Token, "admin", "token")

	if meta.IsDefined("history", "enabled") {
		cfg.History.Enabled = raw.History.Enabled
	}
	str(&cfg.History.Path, raw.History.Path, "history", "path")

	str(&cfg.Log.Level, raw.Log.Level, "log", "level")

	if token := os.Getenv("EDGESHARE_ADMIN_TOKEN"); token != "" {
		cfg.Admin.Token = token
	}

	if err := config.Validate(cfg); err != nil {
		return config.File{}, err
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
