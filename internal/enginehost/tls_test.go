package enginehost

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/engine/remote"
	"github.com/taigalab/taigactl/internal/engine/stub"
	"github.com/taigalab/taigactl/internal/protocol/session"
	"github.com/taigalab/taigactl/internal/testutil/testlog"
	"github.com/taigalab/taigactl/internal/testutil/tlstest"
)

func startTLSService(t *testing.T, registry *engine.Registry, serverTLS session.TLS) (string, context.CancelFunc, chan error) {
	t.Helper()
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Session.HandshakeTimeout = 2 * time.Second
	cfg.Session.ReadTimeout = 2 * time.Second
	cfg.Session.WriteTimeout = 2 * time.Second
	cfg.Session.TLS = serverTLS
	svc, err := NewServiceWithConfig(cfg, registry)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ln, err := svc.listen()
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()
	return ln.Addr().String(), cancel, done
}

func mutualClientSession(clientTLS session.TLS) session.Config {
	cfg := testClientSession()
	cfg.TLS = clientTLS
	return cfg
}

func TestServiceMutualTLSLifecycle(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	ca := tlstest.New(t, dir)
	serverTLS := ca.ServerTLS(t, "taigad.test", []string{"taigad.test"}, []net.IP{net.ParseIP("127.0.0.1")})
	clientTLS := ca.ClientTLS(t, "taigactl.alpha", "taigad.test")

	addr, cancel, done := startTLSService(t, testRegistry(t, stub.Script{}), serverTLS)
	defer cancel()

	eng := remote.New(remote.Config{
		Address:    addr,
		ClientID:   "taigactl.alpha",
		EngineKind: stub.KindID,
		RunID:      "run-mtls",
		Session:    mutualClientSession(clientTLS),
	})

	eng.Configure(engine.Source{Project: "projects/boreal.toml"})
	if eng.HasError() {
		t.Fatalf("configure flagged error: %s", eng.LastError())
	}
	eng.Create()
	if eng.HasError() {
		t.Fatalf("create flagged error: %s", eng.LastError())
	}

	var years []int
	eng.SetProgress(func(year int) {
		years = append(years, year)
	})
	eng.Advance(2)
	if eng.HasError() {
		t.Fatalf("advance flagged error: %s", eng.LastError())
	}
	if len(years) != 2 || years[1] != 2 {
		t.Fatalf("unexpected progress years: %v", years)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestServiceMutualTLSRejectsForeignIdentity(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	ca := tlstest.New(t, dir)
	serverTLS := ca.ServerTLS(t, "taigad.test", []string{"taigad.test"}, []net.IP{net.ParseIP("127.0.0.1")})
	clientTLS := ca.ClientTLS(t, "peer.other", "taigad.test")

	addr, cancel, done := startTLSService(t, testRegistry(t, stub.Script{}), serverTLS)
	defer cancel()

	eng := remote.New(remote.Config{
		Address:            addr,
		ClientID:           "taigactl.alpha",
		EngineKind:         stub.KindID,
		RunID:              "run-mtls-reject",
		Session:            mutualClientSession(clientTLS),
		MaxConnectAttempts: 1,
	})

	eng.Configure(engine.Source{Project: "projects/boreal.toml"})
	if !eng.HasError() {
		t.Fatalf("expected configure error state")
	}
	if msg := eng.LastError(); !strings.Contains(msg, "code=1002") {
		t.Fatalf("unexpected error message: %s", msg)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}
