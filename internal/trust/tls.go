package trust

import (
	"crypto/tls"
	"sync"
)

// Verdict captures the policy decision made during a handshake so callers
// can tell a trust rejection apart from other handshake failures.
type Verdict struct {
	mu  sync.Mutex
	err error
	ran bool
}

func (v *Verdict) set(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
	v.ran = true
}

// Rejected returns the policy error, if the policy ran and refused the peer.
func (v *Verdict) Rejected() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ran {
		return nil
	}
	return v.err
}

// ClientTLS returns a TLS 1.3 client config in which policy is the only
// trust decision. The stdlib chain check is disabled and replaced by
// VerifyConnection, which still runs on every full handshake.
func ClientTLS(policy Policy, serverName string, nextProtos []string) (*tls.Config, *Verdict) {
	v := &Verdict{}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		ServerName:         serverName,
		NextProtos:         nextProtos,
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			err := policy.Verify(serverName, cs.PeerCertificates)
			v.set(err)
			return err
		},
	}
	return cfg, v
}

// ServerTLS returns the listener config presenting id.
func ServerTLS(id Identity, nextProtos []string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{id.Cert},
		NextProtos:   nextProtos,
	}
}
