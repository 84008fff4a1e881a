package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/taigalab/taigactl/internal/config"
	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/engine/stub"
	"github.com/taigalab/taigactl/internal/enginehost"
	"github.com/taigalab/taigactl/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("taigad", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "host config path (TOML)")
	stdio := fs.Bool("stdio", false, "serve one engine session over stdin/stdout")
	if err := fs.Parse(args); err != nil {
		return 64
	}

	cfg := config.DefaultHostConfig()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.LoadHostConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "taigad: %v\n", err)
			return 64
		}
		cfg = loaded
	}

	// Logs go to stderr either way; in stdio mode stdout carries frames.
	logging.ConfigureWith(logging.ProfileService, cfg.Log.Level, cfg.Log.Format)

	svc, err := newService(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "taigad: %v\n", err)
		return 64
	}

	if *stdio {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := svc.ServeStdio(ctx); err != nil {
			fmt.Fprintf(stderr, "taigad: %v\n", err)
			return 1
		}
		return 0
	}

	if err := svc.Run(); err != nil {
		fmt.Fprintf(stderr, "taigad: %v\n", err)
		return 1
	}
	return 0
}

func newService(cfg config.HostConfig) (*enginehost.Service, error) {
	sessionCfg, err := cfg.Session.Session()
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg.Engines)
	if err != nil {
		return nil, err
	}
	svcCfg := enginehost.ServiceConfig{
		ListenAddr:             cfg.ListenAddr,
		HostID:                 cfg.HostID,
		AdminListenAddr:        cfg.AdminAddr,
		AdminToken:             cfg.AdminToken,
		CORSOrigins:            cfg.CorsOrigins,
		RequireIdentityBinding: !cfg.SkipIdentityBinding,
		Session:                sessionCfg,
	}
	return enginehost.NewServiceWithConfig(svcCfg, registry)
}

func buildRegistry(kinds []string) (*engine.Registry, error) {
	registry := engine.NewRegistry()
	for _, kind := range kinds {
		switch strings.TrimSpace(kind) {
		case stub.KindID:
			if err := registry.Register(stub.Factory{}); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown engine kind: %s", kind)
		}
	}
	return registry, nil
}
