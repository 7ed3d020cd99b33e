package throttle

import (
	"context"
	"net"
	"time"
)

// Conn is a net.Conn whose reads and writes are throttled by a Set and bound
// by per-operation timeouts. Zero timeouts disable the deadline.
type Conn struct {
	net.Conn

	ctx          context.Context
	throttles    *Set
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps c. Throttle waits are abandoned when ctx is done.
func NewConn(ctx context.Context, c net.Conn, throttles *Set, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		Conn:         c,
		ctx:          ctx,
		throttles:    throttles,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Throttles returns the set applied to this connection.
func (c *Conn) Throttles() *Set {
	return c.throttles
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(p)
	if n > 0 {
		if werr := c.throttles.WaitRead(c.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

// Write implements io.Writer.
func (c *Conn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(p)
	if n > 0 {
		if werr := c.throttles.WaitWrite(c.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
