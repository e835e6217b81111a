package session

import (
	"strings"
	"time"

	"github.com/quic-go/quic-go"
)

// DefaultALPN is the application protocol negotiated during the handshake.
const DefaultALPN = "edgeshare/1"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	KeepAlive        time.Duration
	WriteTimeout     time.Duration
	// DrainTimeout bounds the wait for the peer to confirm a finished stream.
	DrainTimeout time.Duration
	ALPN         string
	SecurityMode SecurityMode
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		IdleTimeout:      30 * time.Second,
		KeepAlive:        10 * time.Second,
		WriteTimeout:     15 * time.Second,
		DrainTimeout:     30 * time.Second,
		ALPN:             DefaultALPN,
		SecurityMode:     SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.KeepAlive < 0 {
		c.KeepAlive = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if strings.TrimSpace(c.ALPN) == "" {
		c.ALPN = d.ALPN
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}

func (c Config) nextProtos() []string {
	return []string{strings.TrimSpace(c.ALPN)}
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: c.HandshakeTimeout,
		MaxIdleTimeout:       c.IdleTimeout,
		KeepAlivePeriod:      c.KeepAlive,
	}
}
