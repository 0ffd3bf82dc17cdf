package irc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// maxLineLen bounds an inbound protocol line, per RFC 2812.
const maxLineLen = 512

// dialTimeout bounds the TCP connect to one server.
const dialTimeout = 30 * time.Second

// Dialer opens the transport to an IRC server. Tests substitute a
// net.Pipe-backed implementation.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

func defaultDialer(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// conn frames Messages over one TCP connection. Reads and writes may
// run concurrently; writes are serialised by a mutex.
type conn struct {
	nc net.Conn
	r  *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

func newConn(nc net.Conn) *conn {
	return &conn{
		nc: nc,
		r:  bufio.NewReaderSize(nc, maxLineLen*2),
		w:  bufio.NewWriterSize(nc, maxLineLen*2),
	}
}

// readMessage blocks for the next protocol line. Oversized or
// unparseable lines are returned as errors; the session drops the
// connection on any of them.
func (c *conn) readMessage() (*Message, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > maxLineLen*2 {
		return nil, fmt.Errorf("oversized message (%d bytes)", len(line))
	}
	return ParseMessage(line)
}

// send writes one message and flushes.
func (c *conn) send(m *Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.WriteString(m.String()); err != nil {
		return err
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// setWriteDeadline bounds in-flight writes during shutdown.
func (c *conn) setWriteDeadline(t time.Time) {
	c.nc.SetWriteDeadline(t)
}

func (c *conn) close() error {
	return c.nc.Close()
}
