// Package nettransport provides the single blocking TCP connection the
// session engine speaks the wire protocol over (spec §4.6). One logical
// connection per session, held open from the first request to process
// exit; no internal buffering beyond what the OS provides.
package nettransport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// ErrTransport wraps every connect/send/recv failure this package returns
// (spec §7's TransportError).
var ErrTransport = errors.New("nettransport: transport error")

// DialOptions controls how Connect dials the server.
type DialOptions struct {
	// Timeout bounds the TCP handshake. Zero means no deadline.
	Timeout time.Duration
}

// DefaultDialOptions returns sensible defaults.
func DefaultDialOptions() DialOptions {
	return DialOptions{Timeout: 30 * time.Second}
}

// Conn is a single blocking byte-stream connection to the server.
type Conn struct {
	nc net.Conn
}

// Wrap adapts an already-established net.Conn (typically one half of a
// net.Pipe in tests) to the Send/RecvExact surface the session engine
// uses, without dialing.
func Wrap(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Connect opens a TCP connection to host:port. Failure is fatal per spec
// §4.6/§7.
func Connect(host string, port int, opts DialOptions) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: opts.Timeout}
	nc, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	return &Conn{nc: nc}, nil
}

// Send writes all of b or fails.
func (c *Conn) Send(b []byte) error {
	if _, err := c.nc.Write(b); err != nil {
		return fmt.Errorf("%w: send: %v", ErrTransport, err)
	}
	return nil
}

// RecvExact reads exactly n bytes or fails, including on EOF before n
// bytes are available.
func (c *Conn) RecvExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return nil, fmt.Errorf("%w: recv %d bytes: %v", ErrTransport, n, err)
	}
	return buf, nil
}

// Close closes the underlying connection. Safe to call on every exit path,
// including after a fault (spec §5's resource discipline).
func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Close()
}

// LocalAddr and RemoteAddr expose the connection endpoints, mainly for
// logging.
func (c *Conn) LocalAddr() net.Addr  { return c.nc.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }
