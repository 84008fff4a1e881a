package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/taigalab/taigactl/internal/config"
)

// taigactl config.toml key mapping to run settings. Decoded with
// BurntSushi toml so the overlay can tell defined keys from absent ones.
type fileConfig struct {
	Project   string                  `toml:"project"`
	Years     int                     `toml:"years"`
	Hooks     string                  `toml:"hooks"`
	Engine    fileEngineConfig        `toml:"engine"`
	Overrides []config.OverrideConfig `toml:"overrides"`
	Store     config.StoreConfig      `toml:"store"`
	Log       config.LogConfig        `toml:"log"`
}

type fileEngineConfig struct {
	Kind    string               `toml:"kind"`
	Proc    config.ProcConfig    `toml:"proc"`
	Remote  config.RemoteConfig  `toml:"remote"`
	Session config.SessionConfig `toml:"session"`
}

// taigactl loader for TOML config with default overlay.
func loadRunConfig(path string) (config.RunConfig, error) {
	cfg := config.DefaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.RunConfig{}, fmt.Errorf("load run config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.RunConfig{}, fmt.Errorf("load run config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if meta.IsDefined("project") {
		cfg.Project = strings.TrimSpace(raw.Project)
	}
	if meta.IsDefined("years") {
		cfg.Years = raw.Years
	}
	if meta.IsDefined("hooks") {
		cfg.Hooks = strings.TrimSpace(raw.Hooks)
	}
	if meta.IsDefined("engine", "kind") {
		cfg.Engine.Kind = strings.TrimSpace(raw.Engine.Kind)
	}
	if meta.IsDefined("engine", "proc") {
		cfg.Engine.Proc = raw.Engine.Proc
	}
	if meta.IsDefined("engine", "remote") {
		cfg.Engine.Remote = raw.Engine.Remote
	}
	if meta.IsDefined("engine", "session") {
		cfg.Engine.Session = raw.Engine.Session
	}
	if meta.IsDefined("overrides") {
		cfg.Overrides = raw.Overrides
	}
	if meta.IsDefined("store") {
		cfg.Store = raw.Store
	}
	if meta.IsDefined("log") {
		cfg.Log = raw.Log
	}

	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = "engine.stub"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = config.StoreBackendNone
	}

	if err := config.ValidateRunConfig(cfg); err != nil {
		return config.RunConfig{}, fmt.Errorf("load run config: %w", err)
	}
	return cfg, nil
}
