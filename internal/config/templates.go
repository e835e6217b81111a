package config

import (
	"fmt"
	"os"
	"path/filepath"
)

func Template() string {
	return defaultTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config dir: %w", err)
		}
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o600)
}

const defaultTemplate = `# edgeshare configuration

[session]
security_mode = "development"
alpn = "edgeshare/1"
connect_timeout = "10s"
handshake_timeout = "5s"
idle_timeout = "30s"
keep_alive = "10s"
write_timeout = "15s"
drain_timeout = "30s"

[send]
server_name = "yowshare.local"
chunk_size = 1048576
max_attempts = 3

[trust]
# Identity this node presents when serving; written by "edgeshare certgen".
identity = "yowshare.local"
cert_file = "certs/server.crt"
key_file = "certs/server.key"
# Client trust, first match wins: pin_sha256, pin_cert_file, ca_file.
# Pinning a self-signed certificate is a closed-network demo posture.
pin_cert_file = "certs/server.crt"
pin_sha256 = ""
ca_file = ""

[receiver]
listen = "0.0.0.0:4433"
received_dir = "received"
temp_dir = ""
stream_timeout = "10s"
read_timeout = "30s"
max_header_bytes = 1048576

[admin]
enabled = true
addr = "127.0.0.1:8080"
device_name = ""
cors_origins = ["http://localhost:3000"]
token = ""

[history]
enabled = true
path = "local/history.db"

[log]
level = "info"
`
