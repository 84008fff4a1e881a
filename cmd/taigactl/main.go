package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taigalab/taigactl/internal/config"
	"github.com/taigalab/taigactl/internal/controller"
	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/engine/proc"
	"github.com/taigalab/taigactl/internal/engine/remote"
	"github.com/taigalab/taigactl/internal/engine/stub"
	"github.com/taigalab/taigactl/internal/hooks"
	"github.com/taigalab/taigactl/internal/logging"
	"github.com/taigalab/taigactl/internal/runstore"
)

// Exit codes mirror the run outcome taxonomy; 64 covers usage and
// configuration mistakes that never reach the pipeline.
const (
	exitSuccess        = 0
	exitEngineError    = 1
	exitInvalidRequest = 2
	exitPanic          = 3
	exitUsage          = 64
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("taigactl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "run config path (TOML)")
	years := fs.Int("years", 10, "number of years to run")
	project := fs.String("project", "", "project file handed to the engine")
	engineKind := fs.String("engine", "", "engine kind: engine.stub|engine.proc|engine.remote")
	hooksPath := fs.String("hooks", "", "run observer script path")
	history := fs.Int("history", 0, "list the N most recent run records and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg := config.DefaultRunConfig()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := loadRunConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "taigactl: %v\n", err)
			return exitUsage
		}
		cfg = loaded
	}

	// Explicit flags beat file values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "years":
			cfg.Years = *years
		case "project":
			cfg.Project = strings.TrimSpace(*project)
		case "engine":
			cfg.Engine.Kind = strings.TrimSpace(*engineKind)
		case "hooks":
			cfg.Hooks = strings.TrimSpace(*hooksPath)
		}
	})

	overrides, err := parseOverrideArgs(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "taigactl: %v\n", err)
		return exitUsage
	}
	cfg.Overrides = append(cfg.Overrides, overrides...)

	logging.ConfigureWith(logging.ProfileRuntime, cfg.Log.Level, cfg.Log.Format)

	store, err := openStore(cfg.Store)
	if err != nil {
		fmt.Fprintf(stderr, "taigactl: %v\n", err)
		return exitUsage
	}
	if store != nil {
		defer store.Close()
	}

	if *history > 0 {
		return listHistory(store, *history, stdout, stderr)
	}

	// A configured project must exist on disk before the run starts. The
	// check stays outside the pipeline: a missing file here is an operator
	// mistake, not an engine verdict.
	if cfg.Project != "" {
		if _, err := os.Stat(cfg.Project); err != nil {
			fmt.Fprintf(stderr, "taigactl: project file %q: %v\n", cfg.Project, err)
			return exitUsage
		}
	}

	runID := uuid.NewString()
	factory, err := buildFactory(cfg, runID)
	if err != nil {
		fmt.Fprintf(stderr, "taigactl: %v\n", err)
		return exitUsage
	}

	var opts []controller.Option
	if store != nil {
		opts = append(opts, controller.WithStore(store))
	}
	if cfg.Hooks != "" {
		runner, err := hooks.Load(cfg.Hooks)
		if err != nil {
			fmt.Fprintf(stderr, "taigactl: %v\n", err)
			return exitUsage
		}
		opts = append(opts, controller.WithListener(runner.EventFunc()))
	}

	ctl, err := controller.New(factory, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "taigactl: %v\n", err)
		return exitUsage
	}

	out := ctl.Run(controller.Request{
		RunID: runID,
		Years: cfg.Years,
		Source: engine.Source{
			Project:   cfg.Project,
			Overrides: cfg.EngineOverrides(),
		},
	})
	return exitCode(out)
}

// parseOverrideArgs converts positional key=value arguments.
func parseOverrideArgs(args []string) ([]config.OverrideConfig, error) {
	var overrides []config.OverrideConfig
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("override %q is not key=value", arg)
		}
		overrides = append(overrides, config.OverrideConfig{
			Key:   strings.TrimSpace(key),
			Value: value,
		})
	}
	return overrides, nil
}

func openStore(cfg config.StoreConfig) (runstore.Store, error) {
	switch cfg.Backend {
	case "", config.StoreBackendNone:
		return nil, nil
	case config.StoreBackendMemory:
		return runstore.NewMemoryStore(), nil
	case config.StoreBackendFile:
		return runstore.NewFileStore(cfg.Path)
	case config.StoreBackendSQLite:
		return runstore.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

func listHistory(store runstore.Store, limit int, stdout, stderr io.Writer) int {
	if store == nil {
		fmt.Fprintln(stderr, "taigactl: history requires a configured store")
		return exitUsage
	}
	records, err := store.List(context.Background(), runstore.Query{Limit: limit})
	if err != nil {
		fmt.Fprintf(stderr, "taigactl: %v\n", err)
		return exitUsage
	}
	for _, rec := range records {
		fmt.Fprintf(stdout, "%s  %s  %-15s  years=%-4d  engine=%s",
			rec.FinishedAt.Format(time.RFC3339), rec.RunID, rec.Outcome, rec.Years, rec.Engine)
		if rec.Message != "" {
			fmt.Fprintf(stdout, "  %s", rec.Message)
		}
		fmt.Fprintln(stdout)
	}
	return exitSuccess
}

// buildFactory selects the engine adapter for the run. The same run id
// flows into the session adapters so host-side registries and the local
// history agree on it.
func buildFactory(cfg config.RunConfig, runID string) (engine.Factory, error) {
	sessionCfg, err := cfg.Engine.Session.Session()
	if err != nil {
		return nil, err
	}

	switch cfg.Engine.Kind {
	case stub.KindID:
		return stub.Factory{}, nil

	case proc.KindID:
		pc := proc.DefaultConfig()
		if strings.TrimSpace(cfg.Engine.Proc.Command) != "" {
			pc.Command = cfg.Engine.Proc.Command
			pc.Args = cfg.Engine.Proc.Args
		}
		if cfg.Engine.Proc.Dir != "" {
			pc.Dir = cfg.Engine.Proc.Dir
		}
		pc.RunID = runID
		pc.Session = sessionCfg
		return proc.Factory{Config: pc}, nil

	case remote.KindID:
		if strings.TrimSpace(cfg.Engine.Remote.Addr) == "" {
			return nil, fmt.Errorf("engine %s requires engine.remote.addr", remote.KindID)
		}
		rc := remote.Config{
			Address:            cfg.Engine.Remote.Addr,
			ClientID:           cfg.Engine.Remote.ClientID,
			PeerIdentity:       cfg.Engine.Remote.PeerIdentity,
			EngineKind:         cfg.Engine.Remote.EngineKind,
			RunID:              runID,
			Session:            sessionCfg,
			MaxConnectAttempts: cfg.Engine.Remote.MaxConnectAttempts,
		}
		if rc.ClientID == "" {
			rc.ClientID = "taigactl.local"
		}
		if rc.EngineKind == "" {
			rc.EngineKind = stub.KindID
		}
		return remote.Factory{Config: rc}, nil

	default:
		return nil, fmt.Errorf("unknown engine kind: %s", cfg.Engine.Kind)
	}
}

func exitCode(out controller.Outcome) int {
	switch out.Kind {
	case controller.OutcomeSuccess:
		return exitSuccess
	case controller.OutcomeInvalidRequest:
		return exitInvalidRequest
	case controller.OutcomePanic:
		return exitPanic
	default:
		return exitEngineError
	}
}
