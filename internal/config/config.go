package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// RunConfig drives one taigactl invocation.
type RunConfig struct {
	Project   string           `toml:"project"`
	Years     int              `toml:"years"`
	Hooks     string           `toml:"hooks"`
	Engine    EngineConfig     `toml:"engine"`
	Overrides []OverrideConfig `toml:"overrides"`
	Store     StoreConfig      `toml:"store"`
	Log       LogConfig        `toml:"log"`
}

// OverrideConfig is one parameter override applied to the engine source.
type OverrideConfig struct {
	Key   string `toml:"key"`
	Value string `toml:"value"`
}

// EngineConfig selects and tunes the engine adapter.
type EngineConfig struct {
	Kind    string        `toml:"kind"`
	Proc    ProcConfig    `toml:"proc"`
	Remote  RemoteConfig  `toml:"remote"`
	Session SessionConfig `toml:"session"`
}

// ProcConfig tunes the child-process engine adapter.
type ProcConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Dir     string   `toml:"dir"`
}

// RemoteConfig tunes the networked engine adapter.
type RemoteConfig struct {
	Addr               string `toml:"addr"`
	ClientID           string `toml:"client_id"`
	PeerIdentity       string `toml:"peer_identity"`
	EngineKind         string `toml:"engine_kind"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

// SessionConfig tunes session transport reliability. Durations are
// strings in time.ParseDuration form; empty fields keep the defaults.
type SessionConfig struct {
	SecurityMode     string    `toml:"security_mode"`
	ConnectTimeout   string    `toml:"connect_timeout"`
	HandshakeTimeout string    `toml:"handshake_timeout"`
	ReadTimeout      string    `toml:"read_timeout"`
	WriteTimeout     string    `toml:"write_timeout"`
	DeadAfter        string    `toml:"dead_after"`
	TLS              TLSConfig `toml:"tls"`
}

// TLSConfig configures session transport encryption.
type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// StoreConfig selects the run record store backend.
type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// LogConfig overrides the logging profile defaults.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// HostConfig drives one taigad host.
type HostConfig struct {
	HostID              string        `toml:"host_id"`
	ListenAddr          string        `toml:"listen_addr"`
	AdminAddr           string        `toml:"admin_addr"`
	AdminToken          string        `toml:"admin_token"`
	CorsOrigins         []string      `toml:"cors_origins"`
	Engines             []string      `toml:"engines"`
	SkipIdentityBinding bool          `toml:"skip_identity_binding"`
	Session             SessionConfig `toml:"session"`
	Log                 LogConfig     `toml:"log"`
}

const (
	StoreBackendNone   = "none"
	StoreBackendMemory = "memory"
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// DefaultRunConfig returns the run defaults: ten years against the
// built-in stub engine, no persistence.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Years:  10,
		Engine: EngineConfig{Kind: "engine.stub"},
		Store:  StoreConfig{Backend: StoreBackendNone},
	}
}

// DefaultHostConfig returns the host defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		HostID:     "taigad.local",
		ListenAddr: ":9400",
		Engines:    []string{"engine.stub"},
	}
}

func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if err := loadTOML(path, &cfg); err != nil {
		return RunConfig{}, err
	}
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = "engine.stub"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBackendNone
	}
	if err := ValidateRunConfig(cfg); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func LoadHostConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()
	if err := loadTOML(path, &cfg); err != nil {
		return HostConfig{}, err
	}
	if cfg.HostID == "" {
		cfg.HostID = "taigad.local"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9400"
	}
	if len(cfg.Engines) == 0 {
		cfg.Engines = []string{"engine.stub"}
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func loadTOML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ValidateRunConfig checks structure only. Years is not range-checked
// here: the run pipeline owns that verdict.
func ValidateRunConfig(cfg RunConfig) error {
	if strings.TrimSpace(cfg.Engine.Kind) == "" {
		return fmt.Errorf("run config missing engine kind")
	}
	for i, o := range cfg.Overrides {
		if strings.TrimSpace(o.Key) == "" {
			return fmt.Errorf("override[%d] missing key", i)
		}
	}
	switch cfg.Store.Backend {
	case "", StoreBackendNone, StoreBackendMemory:
	case StoreBackendFile, StoreBackendSQLite:
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return fmt.Errorf("store backend %q requires a path", cfg.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	if _, err := cfg.Engine.Session.Session(); err != nil {
		return err
	}
	return nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.HostID) == "" {
		return fmt.Errorf("host config missing host_id")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("host config missing listen_addr")
	}
	for i, kind := range cfg.Engines {
		if strings.TrimSpace(kind) == "" {
			return fmt.Errorf("engines[%d] is empty", i)
		}
	}
	if _, err := cfg.Session.Session(); err != nil {
		return err
	}
	return nil
}
