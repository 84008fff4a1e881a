// Package remote adapts a hosted engine behind the framed session protocol
// into the local Engine contract. Transport failures never panic; they set
// the engine error flag so the run pipeline attributes them to the stage
// that hit them. A panicked result from the host re-panics locally with a
// structured fault carrying the host's recovered message.
package remote

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/logging"
	"github.com/taigalab/taigactl/internal/protocol/frame"
	"github.com/taigalab/taigactl/internal/protocol/schema"
	"github.com/taigalab/taigactl/internal/protocol/session"
)

// KindID is the canonical engine kind identifier for the remote adapter.
const KindID = "engine.remote"

var (
	ErrAddressRequired    = errors.New("remote: engine host address required")
	ErrClientIDRequired   = errors.New("remote: client_id required")
	ErrEngineKindRequired = errors.New("remote: engine_kind required")
	ErrRunIDRequired      = errors.New("remote: run_id required")
	ErrSessionRejected    = errors.New("remote: session rejected")
	ErrSessionClosed      = errors.New("remote: engine session closed")
)

// Config holds the dial target and session identity for one remote engine.
type Config struct {
	Address            string
	ClientID           string
	PeerIdentity       string
	EngineKind         string
	RunID              string
	Session            session.Config
	MaxConnectAttempts int
}

// DefaultConfig returns a config with session reliability defaults applied.
func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
	}
}

// Engine drives a hosted engine instance over one framed TCP session.
// The session is acquired at Configure time, not construction time.
type Engine struct {
	cfg Config
	log zerolog.Logger
	rng *rand.Rand

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	progress engine.ProgressFunc

	nextMessageID atomic.Uint64

	hasErr  bool
	lastErr string
}

var (
	_ engine.Engine           = (*Engine)(nil)
	_ engine.ProgressReporter = (*Engine)(nil)
	_ io.Closer               = (*Engine)(nil)
)

// New allocates a disconnected remote engine.
func New(cfg Config) *Engine {
	if strings.TrimSpace(cfg.PeerIdentity) == "" {
		cfg.PeerIdentity = cfg.ClientID
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Engine{
		cfg: cfg,
		log: logging.Component("engine.remote"),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Configure dials the host, performs the hello handshake, and forwards the
// configure operation. Any failure on the way lands in the error flag.
func (e *Engine) Configure(src engine.Source) {
	if err := e.validateConfig(); err != nil {
		e.fail(err.Error())
		return
	}
	if err := e.connect(context.Background()); err != nil {
		e.fail(fmt.Sprintf("connect %s: %v", e.cfg.Address, err))
		return
	}

	overrides := make([]session.Override, 0, len(src.Overrides))
	for _, ov := range src.Overrides {
		overrides = append(overrides, session.Override{Key: ov.Key, Value: ov.Value})
	}
	payload, err := session.EncodeConfigureFrame(e.nextMessageID.Add(1), session.ConfigureRequest{
		RunID:     e.cfg.RunID,
		Project:   src.Project,
		Overrides: overrides,
	})
	if err != nil {
		e.fail(fmt.Sprintf("%s: %v", schema.OpConfigure, err))
		return
	}
	e.roundTrip(schema.OpConfigure, payload)
}

// Create forwards the model-construction operation.
func (e *Engine) Create() {
	payload, err := session.EncodeCreateFrame(e.nextMessageID.Add(1), session.CreateRequest{RunID: e.cfg.RunID})
	if err != nil {
		e.fail(fmt.Sprintf("%s: %v", schema.OpCreate, err))
		return
	}
	e.roundTrip(schema.OpCreate, payload)
}

// Advance forwards the step operation, delivering per-year progress frames
// to the installed progress sink until the result arrives.
func (e *Engine) Advance(steps int) {
	payload, err := session.EncodeAdvanceFrame(e.nextMessageID.Add(1), session.AdvanceRequest{
		RunID: e.cfg.RunID,
		Steps: uint32(steps),
	})
	if err != nil {
		e.fail(fmt.Sprintf("%s: %v", schema.OpAdvance, err))
		return
	}
	e.roundTrip(schema.OpAdvance, payload)
}

// HasError reports whether the last operation flagged a failure.
func (e *Engine) HasError() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasErr
}

// LastError returns the message flagged by the last failing operation.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// SetProgress installs the per-year progress sink.
func (e *Engine) SetProgress(fn engine.ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

// Close sends a best-effort shutdown and releases the session.
func (e *Engine) Close() error {
	e.mu.Lock()
	conn, reader := e.conn, e.reader
	e.conn, e.reader = nil, nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}

	payload, err := session.EncodeShutdownFrame(e.nextMessageID.Add(1), session.ShutdownRequest{RunID: e.cfg.RunID})
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.Session.WriteTimeout))
		if _, err := conn.Write(payload); err == nil {
			_ = conn.SetReadDeadline(time.Now().Add(e.cfg.Session.ReadTimeout))
			_, _ = session.ReadFrame(reader, frame.DefaultLimits())
		}
	}
	return conn.Close()
}

func (e *Engine) validateConfig() error {
	if strings.TrimSpace(e.cfg.Address) == "" {
		return ErrAddressRequired
	}
	if strings.TrimSpace(e.cfg.ClientID) == "" {
		return ErrClientIDRequired
	}
	if strings.TrimSpace(e.cfg.EngineKind) == "" {
		return ErrEngineKindRequired
	}
	if strings.TrimSpace(e.cfg.RunID) == "" {
		return ErrRunIDRequired
	}
	return nil
}

// connect dials with backoff and performs the hello handshake. A rejected
// hello is terminal; transport errors retry until the attempt budget runs out.
func (e *Engine) connect(ctx context.Context) error {
	var attempt int
	for {
		attempt++
		conn, err := e.dial(ctx)
		if err != nil {
			e.log.Warn().Err(err).Int("attempt", attempt).Str("addr", e.cfg.Address).Msg("dial failed")
			if !e.shouldRetry(attempt) {
				return err
			}
			if err := e.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		err = e.handshake(conn)
		if err == nil {
			return nil
		}
		_ = conn.Close()
		if errors.Is(err, ErrSessionRejected) || !e.shouldRetry(attempt) {
			return err
		}
		if err := e.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (e *Engine) dial(ctx context.Context) (net.Conn, error) {
	if err := e.cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: e.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", e.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !e.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := e.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, e.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (e *Engine) clientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: e.cfg.Session.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(e.cfg.Session.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(e.cfg.Address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(e.cfg.Session.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("remote: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if e.cfg.Session.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(e.cfg.Session.TLS.CertFile, e.cfg.Session.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (e *Engine) shouldRetry(attempt int) bool {
	if e.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < e.cfg.MaxConnectAttempts
}

func (e *Engine) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(e.cfg.Session.Backoff, attempt, e.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) handshake(conn net.Conn) error {
	_ = conn.SetDeadline(time.Now().Add(e.cfg.Session.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	hello := session.Hello{
		ClientID:        e.cfg.ClientID,
		PeerIdentity:    e.cfg.PeerIdentity,
		EngineKind:      e.cfg.EngineKind,
		RunID:           e.cfg.RunID,
		ProtocolVersion: schema.Version,
	}
	if err := session.WriteHello(conn, hello); err != nil {
		return err
	}
	ack, err := session.ReadHelloAck(reader)
	if err != nil {
		return err
	}
	if ack.Status != session.AckStatusAccepted {
		return fmt.Errorf("%w: code=%d message=%q", ErrSessionRejected, ack.Code, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})

	e.mu.Lock()
	e.conn = conn
	e.reader = reader
	e.mu.Unlock()
	e.nextMessageID.Store(uint64(time.Now().UnixNano()))
	e.log.Info().
		Str("run_id", e.cfg.RunID).
		Str("engine_kind", e.cfg.EngineKind).
		Str("addr", e.cfg.Address).
		Str("transport", e.cfg.Session.TransportLabel()).
		Msg("engine session established")
	return nil
}

// roundTrip writes one op frame and consumes frames until the matching
// result, forwarding progress along the way.
func (e *Engine) roundTrip(op string, payload []byte) {
	e.mu.Lock()
	conn, reader := e.conn, e.reader
	e.mu.Unlock()
	if conn == nil {
		e.fail(fmt.Sprintf("%s: %v", op, ErrSessionClosed))
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(e.cfg.Session.WriteTimeout))
	if _, err := conn.Write(payload); err != nil {
		e.teardown()
		e.fail(fmt.Sprintf("%s: write: %v", op, err))
		return
	}

	result, err := e.readResult(conn, reader, op)
	if err != nil {
		e.teardown()
		e.fail(fmt.Sprintf("%s: %v", op, err))
		return
	}
	e.applyResult(result)
}

func (e *Engine) readResult(conn net.Conn, reader *bufio.Reader, op string) (session.OpResult, error) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(e.cfg.Session.SessionDeadAfter))
		fr, err := session.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			return session.OpResult{}, err
		}
		if err := fr.Header.Verify(schema.Magic, schema.Version); err != nil {
			return session.OpResult{}, err
		}
		switch fr.Header.MessageType {
		case schema.MsgProgress:
			progress, err := session.DecodeProgressFrame(fr)
			if err != nil {
				return session.OpResult{}, err
			}
			e.deliverProgress(progress)
		case schema.MsgResult:
			result, err := session.DecodeResultFrame(fr)
			if err != nil {
				return session.OpResult{}, err
			}
			if result.Op != op {
				return session.OpResult{}, fmt.Errorf("result op mismatch: got=%q want=%q", result.Op, op)
			}
			return result, nil
		default:
			return session.OpResult{}, fmt.Errorf("unexpected message_type: %d", fr.Header.MessageType)
		}
	}
}

func (e *Engine) deliverProgress(progress session.Progress) {
	e.mu.Lock()
	fn := e.progress
	e.mu.Unlock()
	if fn == nil || progress.RunID != e.cfg.RunID {
		return
	}
	fn(int(progress.Year))
}

// applyResult mirrors the host engine's error flag. A panicked result
// re-panics with a structured fault so the caller's recover boundary sees
// the same taxonomy an in-process engine produces.
func (e *Engine) applyResult(result session.OpResult) {
	if result.Panicked {
		panic(engine.NewError(result.Op, result.LastError))
	}
	e.mu.Lock()
	e.hasErr = result.HasError
	e.lastErr = result.LastError
	e.mu.Unlock()
}

func (e *Engine) teardown() {
	e.mu.Lock()
	conn := e.conn
	e.conn, e.reader = nil, nil
	e.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (e *Engine) fail(message string) {
	e.log.Warn().Str("run_id", e.cfg.RunID).Str("reason", message).Msg("remote engine fault")
	e.mu.Lock()
	e.hasErr = true
	e.lastErr = message
	e.mu.Unlock()
}

// Factory provides remote engines for registry registration.
type Factory struct {
	Config Config
}

// Metadata returns stable engine kind identity.
func (f Factory) Metadata() engine.Metadata {
	return engine.Metadata{
		ID:          KindID,
		Name:        "Remote",
		Description: "Hosted engine driven over a framed TCP session",
	}
}

// New allocates a disconnected instance; the session is dialed at configure.
func (f Factory) New() engine.Engine {
	return New(f.Config)
}
