package goftp

import (
	"context"
	"net"
	"sync"
	"time"
)

// commandClock bounds network I/O while a session command is running.
// Connections dialed through it carry a deadline of timeout past their
// last read or write during a command, and none while the session is idle,
// so a quiet session is not torn down by its own background reader.
//
// A nil *commandClock imposes no deadlines.
type commandClock struct {
	timeout time.Duration

	mu     sync.Mutex
	active int
	conns  map[*deadlineConn]struct{}
}

func newCommandClock(timeout time.Duration) *commandClock {
	return &commandClock{
		timeout: timeout,
		conns:   make(map[*deadlineConn]struct{}),
	}
}

// begin arms the deadline on every tracked connection, including reads
// that are already blocked, and returns the matching end call.
func (c *commandClock) begin() (end func()) {
	if c == nil || c.timeout <= 0 {
		return func() {}
	}

	c.mu.Lock()
	c.active++
	if c.active == 1 {
		deadline := time.Now().Add(c.timeout)
		for dc := range c.conns {
			_ = dc.Conn.SetDeadline(deadline)
		}
	}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.active--
		if c.active == 0 {
			for dc := range c.conns {
				_ = dc.Conn.SetDeadline(time.Time{})
			}
		}
	}
}

// wrap tracks conn so commands bound its I/O.
func (c *commandClock) wrap(conn net.Conn) net.Conn {
	if c == nil || c.timeout <= 0 {
		return conn
	}
	dc := &deadlineConn{Conn: conn, clock: c}

	c.mu.Lock()
	c.conns[dc] = struct{}{}
	if c.active > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	c.mu.Unlock()
	return dc
}

// dialer returns a dial function whose connections are bound by c. ctx
// only applies to the first dial; later data connections outlive it.
func (c *commandClock) dialer(ctx context.Context, timeout time.Duration) func(network, address string) (net.Conn, error) {
	var once sync.Once
	return func(network, address string) (net.Conn, error) {
		dialCtx := context.Background()
		once.Do(func() { dialCtx = ctx })

		d := &net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(dialCtx, network, address)
		if err != nil {
			return nil, err
		}
		return c.wrap(conn), nil
	}
}

// extend pushes the deadline out after progress on dc.
func (c *commandClock) extend(dc *deadlineConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active > 0 {
		_ = dc.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *commandClock) forget(dc *deadlineConn) {
	c.mu.Lock()
	delete(c.conns, dc)
	c.mu.Unlock()
}

type deadlineConn struct {
	net.Conn
	clock *commandClock
}

func (dc *deadlineConn) Read(p []byte) (int, error) {
	n, err := dc.Conn.Read(p)
	if n > 0 {
		dc.clock.extend(dc)
	}
	return n, err
}

func (dc *deadlineConn) Write(p []byte) (int, error) {
	n, err := dc.Conn.Write(p)
	if n > 0 {
		dc.clock.extend(dc)
	}
	return n, err
}

func (dc *deadlineConn) Close() error {
	dc.clock.forget(dc)
	return dc.Conn.Close()
}
