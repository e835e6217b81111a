package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/edgeshare/internal/trust"
)

var (
	ErrInvalidSecurityMode = errors.New("session: invalid security mode")
	ErrTrustPolicyRequired = errors.New("session: trust policy required")
	ErrServerNameRequired  = errors.New("session: server identity required")
	ErrDemoTrustNotAllowed = errors.New("session: self-signed demo trust not allowed in production")
	ErrServerCertRequired  = errors.New("session: server certificate required")
	ErrALPNRequired        = errors.New("session: alpn required")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func (c Config) validateMode() (SecurityMode, error) {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
}

// ValidateClientTransport checks that a dial with policy is allowed under the
// configured security mode. Production refuses pinned self-signed trust.
func (c Config) ValidateClientTransport(serverName string, policy trust.Policy) error {
	mode, err := c.validateMode()
	if err != nil {
		return err
	}
	if policy == nil {
		return ErrTrustPolicyRequired
	}
	if strings.TrimSpace(serverName) == "" {
		return ErrServerNameRequired
	}
	if strings.TrimSpace(c.ALPN) == "" {
		return ErrALPNRequired
	}
	if mode == SecurityModeProduction && trust.IsDemo(policy) {
		return ErrDemoTrustNotAllowed
	}
	return nil
}

// ValidateServerTransport checks the identity a listener will present.
func (c Config) ValidateServerTransport(id trust.Identity) error {
	mode, err := c.validateMode()
	if err != nil {
		return err
	}
	if id.Leaf == nil || len(id.Cert.Certificate) == 0 {
		return ErrServerCertRequired
	}
	if strings.TrimSpace(c.ALPN) == "" {
		return ErrALPNRequired
	}
	if mode == SecurityModeProduction && trust.SelfSigned(id.Leaf) {
		return ErrDemoTrustNotAllowed
	}
	return nil
}
