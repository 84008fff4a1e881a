package session

import (
	"errors"
	"fmt"
	"strings"
)

// Transport posture faults shared by the dialing (taigactl) and
// listening (taigad) sides of an op session.
var (
	ErrInvalidSecurityMode     = errors.New("session: unknown security mode")
	ErrTLSRequired             = errors.New("session: transport requires tls enabled")
	ErrMTLSRequired            = errors.New("session: production requires mutual tls")
	ErrTLSCertFileRequired     = errors.New("session: tls cert_file not set")
	ErrTLSKeyFileRequired      = errors.New("session: tls key_file not set")
	ErrTLSCAFileRequired       = errors.New("session: tls ca_file not set")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure_skip_verify not allowed in production")
)

// NormalizeSecurityMode folds case and surrounding whitespace; an unset
// mode is development.
func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	m := strings.ToLower(strings.TrimSpace(string(mode)))
	if m == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(m)
}

// TransportLabel names the configured transport posture for log lines.
func (c Config) TransportLabel() string {
	switch {
	case c.TLS.Mutual:
		return "mtls"
	case c.TLS.Enabled:
		return "tls"
	default:
		return "plaintext"
	}
}

// checkMode rejects unknown modes and holds the production floor,
// mutual TLS, no matter which side is asking.
func (c Config) checkMode() (SecurityMode, error) {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return mode, fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	if mode == SecurityModeProduction {
		if !c.TLS.Enabled {
			return mode, ErrTLSRequired
		}
		if !c.TLS.Mutual {
			return mode, ErrMTLSRequired
		}
	}
	// Mutual without TLS is a contradiction in any mode.
	if c.TLS.Mutual && !c.TLS.Enabled {
		return mode, ErrTLSRequired
	}
	return mode, nil
}

func (c Config) checkKeyPair() error {
	if strings.TrimSpace(c.TLS.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.TLS.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}

// ValidateClientTransport checks the dialing side. A verifying client
// needs the CA bundle; a mutual client also presents its key pair.
func (c Config) ValidateClientTransport() error {
	mode, err := c.checkMode()
	if err != nil {
		return err
	}
	if mode == SecurityModeProduction && c.TLS.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.CAFile) == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if c.TLS.Mutual {
		return c.checkKeyPair()
	}
	return nil
}

// ValidateServerTransport checks the listening side. A TLS server
// always presents its key pair; a mutual server needs the CA bundle to
// verify client certificates.
func (c Config) ValidateServerTransport() error {
	if _, err := c.checkMode(); err != nil {
		return err
	}
	if c.TLS.Enabled {
		if err := c.checkKeyPair(); err != nil {
			return err
		}
	}
	if c.TLS.Mutual && strings.TrimSpace(c.TLS.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}
