package ftp

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubListener struct {
	net.Listener
	port int
}

func TestPortPool_OrderAndRelease(t *testing.T) {
	p := newPortPool([]int{2001, 2002, 2003})
	require.Equal(t, 3, p.Len())

	listen := func(port int) (net.Listener, error) { return stubListener{port: port}, nil }

	_, port, err := p.acquire(listen)
	require.NoError(t, err)
	assert.Equal(t, 2001, port)

	_, port, err = p.acquire(listen)
	require.NoError(t, err)
	assert.Equal(t, 2002, port)

	p.release(2001)
	_, port, err = p.acquire(listen)
	require.NoError(t, err)
	assert.Equal(t, 2003, port)

	_, port, err = p.acquire(listen)
	require.NoError(t, err)
	assert.Equal(t, 2001, port)

	_, _, err = p.acquire(listen)
	assert.ErrorIs(t, err, ErrNoAvailablePort)
}

func TestPortPool_BusyPortsAreDeprioritized(t *testing.T) {
	p := newPortPool([]int{3001, 3002})
	busy := map[int]bool{3001: true}
	listen := func(port int) (net.Listener, error) {
		if busy[port] {
			return nil, syscall.EADDRINUSE
		}
		return stubListener{port: port}, nil
	}

	_, port, err := p.acquire(listen)
	require.NoError(t, err)
	assert.Equal(t, 3002, port)

	// Only the busy port is left. Trying it twice means exhaustion and the
	// port stays in the pool.
	_, _, err = p.acquire(listen)
	assert.ErrorIs(t, err, ErrNoAvailablePort)
	assert.Equal(t, 1, p.Len())

	// A released port beats the busy one.
	p.release(3002)
	_, port, err = p.acquire(listen)
	require.NoError(t, err)
	assert.Equal(t, 3002, port)
}

func TestPortPool_OtherErrorsAreReturned(t *testing.T) {
	p := newPortPool([]int{4001})
	boom := errors.New("boom")
	_, _, err := p.acquire(func(int) (net.Listener, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.Len())
}

func TestPasv_UsesDataPorts(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	ts := startServer(t, nil, func(o *Options) { o.DataPorts = []int{port} })
	c := ts.login(t)

	msg := c.cmd(227, "PASV")
	m := pasvReply.FindStringSubmatch(msg)
	require.NotNil(t, m)
	assert.Equal(t, pasvNumbers(port), m[5]+","+m[6])

	// The only port is taken by the first session.
	other := ts.login(t)
	assert.Equal(t, "no free ports", other.cmd(421, "PASV"))
	other.expectClosed()
}

func pasvNumbers(port int) string {
	return fmt.Sprintf("%d,%d", port>>8, port&0xff)
}
