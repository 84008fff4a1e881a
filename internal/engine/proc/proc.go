// Package proc hosts an engine in a child process speaking the framed
// session protocol over its standard streams. The child is typically
// taigad in stdio mode, but any binary honoring the protocol works.
// Launch and handshake failures land in the engine error flag so the run
// pipeline attributes them to the configure stage.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
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

// KindID is the canonical engine kind identifier for the child-process adapter.
const KindID = "engine.proc"

var (
	ErrCommandRequired    = errors.New("proc: engine command required")
	ErrRunIDRequired      = errors.New("proc: run_id required")
	ErrEngineKindRequired = errors.New("proc: engine_kind required")
	ErrSessionRejected    = errors.New("proc: session rejected")
	ErrSessionClosed      = errors.New("proc: engine session closed")
)

// Config describes the child engine process and the kind requested from it.
type Config struct {
	Command    string
	Args       []string
	Dir        string
	Env        []string
	ClientID   string
	RunID      string
	EngineKind string
	Session    session.Config
	// StopGrace bounds how long Close waits for the child after shutdown
	// before killing it.
	StopGrace time.Duration
}

// DefaultConfig launches our own daemon in stdio mode serving the stub kind.
func DefaultConfig() Config {
	return Config{
		Command:    "taigad",
		Args:       []string{"-stdio"},
		ClientID:   "taigactl.proc",
		EngineKind: "engine.stub",
		Session:    session.DefaultConfig(),
		StopGrace:  3 * time.Second,
	}
}

// Engine drives a hosted engine inside a child process over pipe frames.
type Engine struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	in       *os.File
	out      *os.File
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

// New allocates an unlaunched child-process engine.
func New(cfg Config) *Engine {
	if strings.TrimSpace(cfg.ClientID) == "" {
		cfg.ClientID = "taigactl.proc"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 3 * time.Second
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Engine{
		cfg: cfg,
		log: logging.Component("engine.proc"),
	}
}

// Configure launches the child, performs the hello handshake, and forwards
// the configure operation.
func (e *Engine) Configure(src engine.Source) {
	if err := e.validateConfig(); err != nil {
		e.fail(err.Error())
		return
	}
	if err := e.launch(); err != nil {
		e.fail(fmt.Sprintf("launch %s: %v", e.cfg.Command, err))
		return
	}
	if err := e.handshake(); err != nil {
		e.stop()
		e.fail(fmt.Sprintf("handshake %s: %v", e.cfg.Command, err))
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

// Close sends a best-effort shutdown, releases the pipes, and reaps the
// child, killing it after the stop grace period.
func (e *Engine) Close() error {
	e.mu.Lock()
	cmd, in, out, reader := e.cmd, e.in, e.out, e.reader
	e.cmd, e.in, e.out, e.reader = nil, nil, nil, nil
	e.mu.Unlock()
	if cmd == nil {
		return nil
	}

	if in != nil && reader != nil {
		payload, err := session.EncodeShutdownFrame(e.nextMessageID.Add(1), session.ShutdownRequest{RunID: e.cfg.RunID})
		if err == nil {
			_ = in.SetWriteDeadline(time.Now().Add(e.cfg.Session.WriteTimeout))
			if _, err := in.Write(payload); err == nil {
				_ = out.SetReadDeadline(time.Now().Add(e.cfg.Session.ReadTimeout))
				_, _ = session.ReadFrame(reader, frame.DefaultLimits())
			}
		}
	}
	if in != nil {
		_ = in.Close()
	}
	if out != nil {
		_ = out.Close()
	}

	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
	}()
	select {
	case err := <-waited:
		return err
	case <-time.After(e.cfg.StopGrace):
		e.log.Warn().Str("command", e.cfg.Command).Msg("engine child did not exit, killing")
		_ = cmd.Process.Kill()
		return <-waited
	}
}

func (e *Engine) validateConfig() error {
	if strings.TrimSpace(e.cfg.Command) == "" {
		return ErrCommandRequired
	}
	if strings.TrimSpace(e.cfg.RunID) == "" {
		return ErrRunIDRequired
	}
	if strings.TrimSpace(e.cfg.EngineKind) == "" {
		return ErrEngineKindRequired
	}
	return nil
}

// launch starts the child with pipe pairs wired to its standard streams.
// The parent keeps file ends so pipe reads honor deadlines.
func (e *Engine) launch() error {
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return err
	}
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		return err
	}

	cmd := exec.Command(e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = os.Stderr
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}

	if err := cmd.Start(); err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		_ = parentIn.Close()
		_ = childOut.Close()
		return err
	}
	_ = childIn.Close()
	_ = childOut.Close()

	e.mu.Lock()
	e.cmd = cmd
	e.in = parentOut
	e.out = parentIn
	e.reader = bufio.NewReader(parentIn)
	e.mu.Unlock()

	e.log.Info().
		Str("command", e.cfg.Command).
		Int("pid", cmd.Process.Pid).
		Str("run_id", e.cfg.RunID).
		Msg("engine child started")
	return nil
}

func (e *Engine) handshake() error {
	e.mu.Lock()
	in, out, reader := e.in, e.out, e.reader
	e.mu.Unlock()

	_ = in.SetWriteDeadline(time.Now().Add(e.cfg.Session.HandshakeTimeout))
	_ = out.SetReadDeadline(time.Now().Add(e.cfg.Session.HandshakeTimeout))
	hello := session.Hello{
		ClientID:        e.cfg.ClientID,
		PeerIdentity:    e.cfg.ClientID,
		EngineKind:      e.cfg.EngineKind,
		RunID:           e.cfg.RunID,
		ProtocolVersion: schema.Version,
	}
	if err := session.WriteHello(in, hello); err != nil {
		return err
	}
	ack, err := session.ReadHelloAck(reader)
	if err != nil {
		return err
	}
	if ack.Status != session.AckStatusAccepted {
		return fmt.Errorf("%w: code=%d message=%q", ErrSessionRejected, ack.Code, ack.Message)
	}
	_ = in.SetWriteDeadline(time.Time{})
	_ = out.SetReadDeadline(time.Time{})
	e.nextMessageID.Store(uint64(time.Now().UnixNano()))
	return nil
}

// roundTrip writes one op frame and consumes frames until the matching
// result, forwarding progress along the way.
func (e *Engine) roundTrip(op string, payload []byte) {
	e.mu.Lock()
	in, out, reader := e.in, e.out, e.reader
	e.mu.Unlock()
	if in == nil || out == nil {
		e.fail(fmt.Sprintf("%s: %v", op, ErrSessionClosed))
		return
	}

	_ = in.SetWriteDeadline(time.Now().Add(e.cfg.Session.WriteTimeout))
	if _, err := in.Write(payload); err != nil {
		e.stop()
		e.fail(fmt.Sprintf("%s: write: %v", op, err))
		return
	}

	result, err := e.readResult(out, reader, op)
	if err != nil {
		e.stop()
		e.fail(fmt.Sprintf("%s: %v", op, err))
		return
	}
	e.applyResult(result)
}

func (e *Engine) readResult(out *os.File, reader *bufio.Reader, op string) (session.OpResult, error) {
	for {
		_ = out.SetReadDeadline(time.Now().Add(e.cfg.Session.SessionDeadAfter))
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

// applyResult mirrors the child engine's error flag. A panicked result
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

// stop tears down the pipes and kills the child after a transport fault.
func (e *Engine) stop() {
	e.mu.Lock()
	cmd, in, out := e.cmd, e.in, e.out
	e.cmd, e.in, e.out, e.reader = nil, nil, nil, nil
	e.mu.Unlock()
	if in != nil {
		_ = in.Close()
	}
	if out != nil {
		_ = out.Close()
	}
	if cmd == nil {
		return
	}
	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
	}()
	select {
	case <-waited:
	case <-time.After(e.cfg.StopGrace):
		_ = cmd.Process.Kill()
		<-waited
	}
}

func (e *Engine) fail(message string) {
	e.log.Warn().Str("run_id", e.cfg.RunID).Str("reason", message).Msg("proc engine fault")
	e.mu.Lock()
	e.hasErr = true
	e.lastErr = message
	e.mu.Unlock()
}

// Factory provides child-process engines for registry registration.
type Factory struct {
	Config Config
}

// Metadata returns stable engine kind identity.
func (f Factory) Metadata() engine.Metadata {
	return engine.Metadata{
		ID:          KindID,
		Name:        "Process",
		Description: "Engine hosted in a child process over its standard streams",
	}
}

// New allocates an unlaunched instance; the child starts at configure.
func (f Factory) New() engine.Engine {
	return New(f.Config)
}
