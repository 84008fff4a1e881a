package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigFillsDefaults(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `project = "projects/boreal.toml"

[engine]
kind = "engine.remote"

[engine.remote]
addr = "localhost:9400"

[[overrides]]
key = "climate.warming"
value = "2.4"
`)
	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load run config: %v", err)
	}
	if cfg.Years != 10 {
		t.Fatalf("expected default years 10, got %d", cfg.Years)
	}
	if cfg.Engine.Kind != "engine.remote" {
		t.Fatalf("unexpected engine kind: %q", cfg.Engine.Kind)
	}
	if cfg.Engine.Remote.Addr != "localhost:9400" {
		t.Fatalf("unexpected remote addr: %q", cfg.Engine.Remote.Addr)
	}
	if cfg.Store.Backend != StoreBackendNone {
		t.Fatalf("unexpected store backend: %q", cfg.Store.Backend)
	}
	overrides := cfg.EngineOverrides()
	if len(overrides) != 1 || overrides[0].Key != "climate.warming" || overrides[0].Value != "2.4" {
		t.Fatalf("unexpected overrides: %+v", overrides)
	}
}

func TestLoadRunConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `project = "projects/boreal.toml"
yaers = 3
`)
	if _, err := LoadRunConfig(path); err == nil {
		t.Fatalf("expected error for unknown key")
	} else if !strings.Contains(err.Error(), "config parse failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRunConfigRejectsBadStore(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `[store]
backend = "postgres"
`)
	if _, err := LoadRunConfig(path); err == nil {
		t.Fatalf("expected error for unknown store backend")
	}

	path = writeConfig(t, `[store]
backend = "sqlite"
`)
	if _, err := LoadRunConfig(path); err == nil {
		t.Fatalf("expected error for sqlite store without path")
	}
}

func TestLoadRunConfigAllowsNegativeYears(t *testing.T) {
	testlog.Start(t)

	path := writeConfig(t, `years = -3`)
	cfg, err := LoadRunConfig(path)
	if err != nil {
		t.Fatalf("load run config: %v", err)
	}
	if cfg.Years != -3 {
		t.Fatalf("expected years -3, got %d", cfg.Years)
	}
}

func TestSessionSectionDurations(t *testing.T) {
	testlog.Start(t)

	sc := SessionConfig{ConnectTimeout: "250ms", DeadAfter: "2s"}
	cfg, err := sc.Session()
	if err != nil {
		t.Fatalf("convert session section: %v", err)
	}
	if cfg.ConnectTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected connect timeout: %v", cfg.ConnectTimeout)
	}
	if cfg.SessionDeadAfter != 2*time.Second {
		t.Fatalf("unexpected dead-after: %v", cfg.SessionDeadAfter)
	}
	if cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("expected default read timeout, got %v", cfg.ReadTimeout)
	}

	if _, err := (SessionConfig{ConnectTimeout: "soon"}).Session(); err == nil {
		t.Fatalf("expected error for bad duration")
	} else if !strings.Contains(err.Error(), "connect_timeout") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTemplatesLoadCleanly(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()

	runPath := filepath.Join(dir, "run.toml")
	if err := WriteTemplate(runPath, "run", false); err != nil {
		t.Fatalf("write run template: %v", err)
	}
	runCfg, err := LoadRunConfig(runPath)
	if err != nil {
		t.Fatalf("load run template: %v", err)
	}
	if runCfg.Engine.Kind != "engine.stub" {
		t.Fatalf("unexpected template engine kind: %q", runCfg.Engine.Kind)
	}
	if runCfg.Store.Backend != StoreBackendSQLite {
		t.Fatalf("unexpected template store backend: %q", runCfg.Store.Backend)
	}

	hostPath := filepath.Join(dir, "host.toml")
	if err := WriteTemplate(hostPath, "host", false); err != nil {
		t.Fatalf("write host template: %v", err)
	}
	hostCfg, err := LoadHostConfig(hostPath)
	if err != nil {
		t.Fatalf("load host template: %v", err)
	}
	if hostCfg.HostID != "taigad.local" {
		t.Fatalf("unexpected template host id: %q", hostCfg.HostID)
	}
	if len(hostCfg.Engines) != 1 || hostCfg.Engines[0] != "engine.stub" {
		t.Fatalf("unexpected template engines: %v", hostCfg.Engines)
	}

	if _, err := Template("cluster"); err == nil {
		t.Fatalf("expected error for unknown template kind")
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "run.toml")
	if err := WriteTemplate(path, "run", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "run", false); err == nil {
		t.Fatalf("expected error overwriting existing config")
	}
	if err := WriteTemplate(path, "run", true); err != nil {
		t.Fatalf("overwrite with force: %v", err)
	}
}
