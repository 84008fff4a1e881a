package enginehost

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	"github.com/taigalab/taigactl/internal/engine"
	"github.com/taigalab/taigactl/internal/observability"
	"github.com/taigalab/taigactl/internal/protocol/frame"
	"github.com/taigalab/taigactl/internal/protocol/schema"
	"github.com/taigalab/taigactl/internal/protocol/session"
)

// Connection handler for one hello handshake plus the framed op loop.
// The session owns exactly one engine instance; it is released on every
// exit path, clean or not.
func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.sessionClientCount.Add(1)
	s.log.Warn().Str("remote", remote).Int64("active_clients", active).Msg("session client connected")
	observability.RecordSessionStart()
	defer func() {
		remaining := s.sessionClientCount.Add(-1)
		observability.RecordSessionEnd()
		s.log.Warn().Str("remote", remote).Int64("active_clients", remaining).Msg("session client disconnected")
	}()
	reader := bufio.NewReader(conn)

	auth, err := s.authenticateConn(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("session transport auth failed")
		return
	}

	hello, factory, ack := s.handleHello(conn, reader, auth)
	if ack.Status != session.AckStatusAccepted {
		_ = session.WriteHelloAck(conn, ack)
		return
	}
	if err := session.WriteHelloAck(conn, ack); err != nil {
		s.log.Error().Err(err).Str("remote", remote).Msg("session write hello ack failed")
		return
	}
	s.log.Warn().
		Str("run_id", hello.RunID).
		Str("client_id", hello.ClientID).
		Str("engine_kind", hello.EngineKind).
		Str("remote", remote).
		Msg("session accepted")

	eng := factory.New()
	defer func() {
		if closer, ok := eng.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	s.runs.Upsert(ActiveRun{
		RunID:      hello.RunID,
		ClientID:   hello.ClientID,
		EngineKind: hello.EngineKind,
		RemoteAddr: remote,
		StartedAt:  time.Now(),
	})
	defer s.runs.Remove(hello.RunID)

	if err := conn.SetDeadline(time.Time{}); err != nil {
		s.log.Warn().Err(err).Str("run_id", hello.RunID).Msg("session clear deadline failed")
	}

	s.opLoop(conn, reader, hello, eng)
}

// Hello handshake handler. Rejection codes: 1001 invalid payload, 1002
// identity binding failure, 1003 declared peer mismatch, 1004 protocol
// version mismatch, 1005 unknown engine kind.
func (s *Service) handleHello(
	conn net.Conn,
	reader *bufio.Reader,
	auth peerAuth,
) (session.Hello, engine.Factory, session.HelloAck) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	now := uint64(time.Now().UnixMilli())

	hello, err := session.ReadHello(reader)
	if err != nil {
		s.log.Warn().Err(err).Msg("session read hello failed")
		return session.Hello{}, nil, session.HelloAck{
			Status:      session.AckStatusRejected,
			Code:        1001,
			Message:     "invalid hello payload",
			RunID:       "unknown",
			TimestampMS: now,
		}
	}

	if hello.ProtocolVersion != schema.Version {
		s.log.Warn().
			Str("run_id", hello.RunID).
			Uint16("got", hello.ProtocolVersion).
			Uint16("want", schema.Version).
			Msg("session protocol version mismatch")
		return hello, nil, session.HelloAck{
			Status:      session.AckStatusRejected,
			Code:        1004,
			Message:     "protocol version mismatch",
			RunID:       hello.RunID,
			TimestampMS: now,
		}
	}

	if s.cfg.RequireIdentityBinding {
		if auth.Authenticated {
			if auth.PeerIdentity != hello.ClientID {
				s.log.Warn().
					Str("client_id", hello.ClientID).
					Str("peer_identity", auth.PeerIdentity).
					Msg("session tls identity mismatch")
				return hello, nil, session.HelloAck{
					Status:      session.AckStatusRejected,
					Code:        1002,
					Message:     "identity binding failure",
					RunID:       hello.RunID,
					TimestampMS: now,
				}
			}
			if peer := strings.TrimSpace(hello.PeerIdentity); peer != "" && peer != auth.PeerIdentity {
				s.log.Warn().
					Str("client_id", hello.ClientID).
					Str("declared_peer", peer).
					Str("tls_peer", auth.PeerIdentity).
					Msg("session declared peer mismatch")
				return hello, nil, session.HelloAck{
					Status:      session.AckStatusRejected,
					Code:        1003,
					Message:     "declared peer mismatch",
					RunID:       hello.RunID,
					TimestampMS: now,
				}
			}
		} else if hello.PeerIdentity != hello.ClientID {
			s.log.Warn().
				Str("client_id", hello.ClientID).
				Str("peer_identity", hello.PeerIdentity).
				Msg("session identity bind mismatch")
			return hello, nil, session.HelloAck{
				Status:      session.AckStatusRejected,
				Code:        1002,
				Message:     "identity binding failure",
				RunID:       hello.RunID,
				TimestampMS: now,
			}
		}
	}

	factory, err := s.registry.Resolve(hello.EngineKind)
	if err != nil {
		s.log.Warn().Err(err).Str("engine_kind", hello.EngineKind).Msg("session engine kind unknown")
		return hello, nil, session.HelloAck{
			Status:      session.AckStatusRejected,
			Code:        1005,
			Message:     "unknown engine kind",
			RunID:       hello.RunID,
			TimestampMS: now,
		}
	}

	return hello, factory, session.HelloAck{
		Status:      session.AckStatusAccepted,
		Code:        0,
		Message:     "session accepted",
		RunID:       hello.RunID,
		EngineKind:  hello.EngineKind,
		TimestampMS: now,
	}
}

// Framed op loop. Protocol violations close the session; engine faults do
// not, they come back as result frames so the client decides what is next.
func (s *Service) opLoop(conn net.Conn, reader *bufio.Reader, hello session.Hello, eng engine.Engine) {
	if reporter, ok := eng.(engine.ProgressReporter); ok {
		reporter.SetProgress(func(year int) {
			s.runs.MarkYear(hello.RunID, uint32(year))
			observability.RecordYearAdvanced()
			payload, err := session.EncodeProgressFrame(s.nextMessageID.Add(1), session.Progress{
				RunID:       hello.RunID,
				Year:        uint32(year),
				TimestampMS: uint64(time.Now().UnixMilli()),
			})
			if err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
			_, _ = conn.Write(payload)
		})
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.SessionDeadAfter))
		fr, err := session.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			return
		}
		if err := fr.Header.Verify(schema.Magic, schema.Version); err != nil {
			s.log.Warn().Err(err).Str("run_id", hello.RunID).Msg("session frame verify failed")
			return
		}

		var (
			op    string
			runID string
		)
		switch fr.Header.MessageType {
		case schema.MsgConfigure:
			req, err := session.DecodeConfigureFrame(fr)
			if err != nil {
				s.log.Warn().Err(err).Str("run_id", hello.RunID).Msg("session decode configure failed")
				return
			}
			op, runID = schema.OpConfigure, req.RunID
			if runID != hello.RunID {
				break
			}
			overrides := make([]engine.Override, 0, len(req.Overrides))
			for _, ov := range req.Overrides {
				overrides = append(overrides, engine.Override{Key: ov.Key, Value: ov.Value})
			}
			src := engine.Source{Project: req.Project, Overrides: overrides}
			if !s.finishOp(conn, fr, hello, eng, op, func() { eng.Configure(src) }) {
				return
			}
			continue
		case schema.MsgCreate:
			req, err := session.DecodeCreateFrame(fr)
			if err != nil {
				s.log.Warn().Err(err).Str("run_id", hello.RunID).Msg("session decode create failed")
				return
			}
			op, runID = schema.OpCreate, req.RunID
			if runID != hello.RunID {
				break
			}
			if !s.finishOp(conn, fr, hello, eng, op, func() { eng.Create() }) {
				return
			}
			continue
		case schema.MsgAdvance:
			req, err := session.DecodeAdvanceFrame(fr)
			if err != nil {
				s.log.Warn().Err(err).Str("run_id", hello.RunID).Msg("session decode advance failed")
				return
			}
			op, runID = schema.OpAdvance, req.RunID
			if runID != hello.RunID {
				break
			}
			steps := int(req.Steps)
			if !s.finishOp(conn, fr, hello, eng, op, func() { eng.Advance(steps) }) {
				return
			}
			continue
		case schema.MsgShutdown:
			req, err := session.DecodeShutdownFrame(fr)
			if err != nil {
				s.log.Warn().Err(err).Str("run_id", hello.RunID).Msg("session decode shutdown failed")
				return
			}
			op, runID = schema.OpShutdown, req.RunID
			if runID != hello.RunID {
				break
			}
			s.finishOp(conn, fr, hello, eng, op, func() {})
			return
		default:
			s.log.Warn().
				Uint32("message_type", fr.Header.MessageType).
				Str("run_id", hello.RunID).
				Msg("session unexpected message_type")
			return
		}

		s.log.Warn().
			Str("op", op).
			Str("got_run_id", runID).
			Str("want_run_id", hello.RunID).
			Msg("session run_id mismatch")
		return
	}
}

// finishOp runs one engine call, records it, and writes the result frame
// echoing the request's message id. Returns false when the session must end.
func (s *Service) finishOp(
	conn net.Conn,
	fr frame.Frame,
	hello session.Hello,
	eng engine.Engine,
	op string,
	call func(),
) bool {
	result := callEngine(hello.RunID, op, eng, call)
	s.runs.MarkOp(hello.RunID, op, time.Now())
	observability.RecordOp(op, opOutcome(result))

	payload, err := session.EncodeResultFrame(fr.Header.MessageID, result)
	if err != nil {
		s.log.Warn().Err(err).Str("op", op).Str("run_id", hello.RunID).Msg("session encode result failed")
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
	if _, err := conn.Write(payload); err != nil {
		s.log.Warn().Err(err).Str("op", op).Str("run_id", hello.RunID).Msg("session write result failed")
		return false
	}
	return true
}

// callEngine isolates one engine call: a panic becomes a panicked result,
// otherwise the engine's own error flag decides the result state.
func callEngine(runID, op string, eng engine.Engine, call func()) (result session.OpResult) {
	result = session.OpResult{RunID: runID, Op: op}
	defer func() {
		result.TimestampMS = uint64(time.Now().UnixMilli())
		if r := recover(); r != nil {
			result.Panicked = true
			result.HasError = false
			result.LastError = engine.PanicMessage(r)
			return
		}
		if eng.HasError() {
			result.HasError = true
			result.LastError = eng.LastError()
		}
	}()
	call()
	return
}

func opOutcome(result session.OpResult) string {
	switch {
	case result.Panicked:
		return observability.OpOutcomePanic
	case result.HasError:
		return observability.OpOutcomeError
	default:
		return observability.OpOutcomeOK
	}
}
