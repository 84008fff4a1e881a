package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/protocol/session"
)

// EngineOverrides converts the override entries into engine source
// overrides, preserving order.
func (c RunConfig) EngineOverrides() []engine.Override {
	overrides := make([]engine.Override, 0, len(c.Overrides))
	for _, o := range c.Overrides {
		overrides = append(overrides, engine.Override{Key: o.Key, Value: o.Value})
	}
	return overrides
}

// Session converts the section into transport settings. Empty duration
// fields fall back to the session defaults.
func (c SessionConfig) Session() (session.Config, error) {
	cfg := session.Config{
		SecurityMode: session.NormalizeSecurityMode(session.SecurityMode(c.SecurityMode)),
		TLS: session.TLS{
			Enabled:            c.TLS.Enabled,
			Mutual:             c.TLS.Mutual,
			CertFile:           c.TLS.CertFile,
			KeyFile:            c.TLS.KeyFile,
			CAFile:             c.TLS.CAFile,
			ServerName:         c.TLS.ServerName,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
	}
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{c.ConnectTimeout, "connect_timeout", &cfg.ConnectTimeout},
		{c.HandshakeTimeout, "handshake_timeout", &cfg.HandshakeTimeout},
		{c.ReadTimeout, "read_timeout", &cfg.ReadTimeout},
		{c.WriteTimeout, "write_timeout", &cfg.WriteTimeout},
		{c.DeadAfter, "dead_after", &cfg.SessionDeadAfter},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return session.Config{}, fmt.Errorf("session %s invalid: %w", f.name, err)
		}
		*f.dst = d
	}
	return cfg.WithDefaults(), nil
}
