package enginehost

import (
	"context"
	"net"
	"os"
	"time"
)

// StdioConn adapts a read/write file pair into a net.Conn so one engine
// session can run over a parent process's pipes instead of a socket.
// Deadlines work wherever the underlying descriptors are pollable.
type StdioConn struct {
	in  *os.File
	out *os.File
}

var _ net.Conn = (*StdioConn)(nil)

// NewStdioConn wraps the given read and write files.
func NewStdioConn(in, out *os.File) *StdioConn {
	return &StdioConn{in: in, out: out}
}

func (c *StdioConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *StdioConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *StdioConn) Close() error {
	inErr := c.in.Close()
	outErr := c.out.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}

func (c *StdioConn) LocalAddr() net.Addr  { return stdioAddr{} }
func (c *StdioConn) RemoteAddr() net.Addr { return stdioAddr{} }

func (c *StdioConn) SetDeadline(t time.Time) error {
	if err := c.in.SetReadDeadline(t); err != nil {
		return err
	}
	return c.out.SetWriteDeadline(t)
}

func (c *StdioConn) SetReadDeadline(t time.Time) error  { return c.in.SetReadDeadline(t) }
func (c *StdioConn) SetWriteDeadline(t time.Time) error { return c.out.SetWriteDeadline(t) }

type stdioAddr struct{}

func (stdioAddr) Network() string { return "stdio" }
func (stdioAddr) String() string  { return "stdio" }

// ServeStdio serves exactly one engine session over the process's standard
// streams and returns when it ends. TLS settings are ignored here; the
// parent process owns the transport.
func (s *Service) ServeStdio(ctx context.Context) error {
	return s.ServeConn(ctx, NewStdioConn(os.Stdin, os.Stdout))
}

// ServeConn serves exactly one engine session on an established connection.
func (s *Service) ServeConn(ctx context.Context, conn net.Conn) error {
	s.trackConn(conn)
	go func() {
		<-ctx.Done()
		s.closeAllConns()
	}()
	s.handleConn(conn)
	return nil
}
