package enginehost

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/logging"
	"github.com/taigalab/taigactl/internal/protocol/session"
)

// ServiceConfig carries the host listener and admin surface settings.
type ServiceConfig struct {
	// ListenAddr is the TCP address the engine session listener binds.
	ListenAddr string
	// HostID names this host in logs and metrics labels.
	HostID string
	// AdminListenAddr enables the HTTP admin surface when non-empty.
	AdminListenAddr string
	// AdminToken guards the /api/v1 admin group when non-empty.
	AdminToken string
	// CORSOrigins lists allowed admin origins. Empty means local dev defaults.
	CORSOrigins []string
	// RequireIdentityBinding rejects sessions whose declared client_id does
	// not match the transport-authenticated peer identity.
	RequireIdentityBinding bool
	// Session holds transport security and timeout settings shared with clients.
	Session session.Config
}

// DefaultServiceConfig returns the development defaults for a local host.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:             ":9400",
		HostID:                 "taigad.local",
		RequireIdentityBinding: true,
		Session:                session.DefaultConfig(),
	}
}

// Service accepts engine sessions and drives one engine instance per session.
type Service struct {
	cfg      ServiceConfig
	registry *engine.Registry
	log      zerolog.Logger

	started time.Time

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	sessionClientCount atomic.Int64
	runs               *RunRegistry
	nextMessageID      atomic.Uint64
}

// NewService builds a host with default config over the given registry.
func NewService(registry *engine.Registry) (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig(), registry)
}

// NewServiceWithConfig builds a host over an explicit registry.
func NewServiceWithConfig(cfg ServiceConfig, registry *engine.Registry) (*Service, error) {
	if registry == nil {
		return nil, errors.New("enginehost: registry is required")
	}
	cfg.Session = cfg.Session.WithDefaults()
	svc := &Service{
		cfg:      cfg,
		registry: registry,
		log:      logging.Component("enginehost"),
		started:  time.Now(),
		conns:    make(map[net.Conn]struct{}),
		runs:     NewRunRegistry(),
	}
	svc.nextMessageID.Store(uint64(time.Now().UnixNano()))
	return svc, nil
}

// Run listens for engine sessions until SIGINT/SIGTERM or a listener failure.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}

	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.log.Info().
		Str("listen_addr", ln.Addr().String()).
		Str("host_id", s.cfg.HostID).
		Str("security_mode", string(session.NormalizeSecurityMode(s.cfg.Session.SecurityMode))).
		Str("transport", s.cfg.Session.TransportLabel()).
		Msg("engine host listening")

	controlErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			controlErr <- s.serveAdmin(ctx, strings.TrimSpace(s.cfg.AdminListenAddr))
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-controlErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Host listener builder for TCP or TLS based on transport policy.
func (s *Service) listen() (net.Listener, error) {
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.serverTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve accepts engine sessions on an existing listener until ctx cancels.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

// peerAuth is the transport-authenticated identity of a session client.
type peerAuth struct {
	PeerIdentity  string
	Authenticated bool
}

// Transport-auth helper enforcing TLS/mTLS policy and extracting peer identity.
func (s *Service) authenticateConn(conn net.Conn) (peerAuth, error) {
	mode := session.NormalizeSecurityMode(s.cfg.Session.SecurityMode)
	if !s.cfg.Session.TLS.Enabled {
		if mode == session.SecurityModeProduction {
			return peerAuth{}, session.ErrTLSRequired
		}
		return peerAuth{}, nil
	}

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return peerAuth{}, fmt.Errorf("enginehost: expected tls connection")
	}
	_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return peerAuth{}, err
	}
	state := tlsConn.ConnectionState()

	needPeer := s.cfg.Session.TLS.Mutual || mode == session.SecurityModeProduction
	if !needPeer && len(state.PeerCertificates) == 0 {
		return peerAuth{}, nil
	}
	if len(state.PeerCertificates) == 0 {
		return peerAuth{}, session.ErrMTLSRequired
	}
	peerID := peerIdentityFromCert(state.PeerCertificates[0])
	if peerID == "" {
		return peerAuth{}, fmt.Errorf("enginehost: empty peer identity from certificate")
	}
	return peerAuth{PeerIdentity: peerID, Authenticated: true}, nil
}

// Certificate identity extractor using CN/URI/DNS preference order.
func peerIdentityFromCert(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if v := strings.TrimSpace(cert.Subject.CommonName); v != "" {
		return v
	}
	if len(cert.URIs) > 0 {
		if v := strings.TrimSpace(cert.URIs[0].String()); v != "" {
			return v
		}
	}
	if len(cert.DNSNames) > 0 {
		if v := strings.TrimSpace(cert.DNSNames[0]); v != "" {
			return v
		}
	}
	return ""
}

// TLS server-config builder for listener transport enforcement.
func (s *Service) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.Session.TLS.CertFile, s.cfg.Session.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}

	mode := session.NormalizeSecurityMode(s.cfg.Session.SecurityMode)
	if s.cfg.Session.TLS.Mutual || mode == session.SecurityModeProduction {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		caPEM, err := os.ReadFile(s.cfg.Session.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("enginehost: parse tls ca bundle: %s", s.cfg.Session.TLS.CAFile)
		}
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// Connection-tracking add operation for coordinated shutdown.
func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

// Connection-tracking remove operation after connection teardown.
func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// Shutdown helper that closes and drains tracked active connections.
func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[net.Conn]struct{})
}

// ActiveSessions reports the number of connected engine clients.
func (s *Service) ActiveSessions() int64 {
	return s.sessionClientCount.Load()
}

// Runs exposes the active-run registry for the admin surface and tests.
func (s *Service) Runs() *RunRegistry {
	return s.runs
}
