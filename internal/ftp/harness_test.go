package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/vk/ftpgo/internal/auth"
	"github.com/vk/ftpgo/internal/ctxlog"
	"github.com/vk/ftpgo/internal/pathio"
)

const testBase = "/srv"

// safeBuffer is a thread-safe buffer for capturing log output in tests.
type safeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

type testServer struct {
	srv  *Server
	fs   afero.Fs
	addr string
	logs *safeBuffer
}

func anonymousUser(t *testing.T) *auth.User {
	t.Helper()
	u, err := auth.NewUser(auth.User{BasePath: testBase})
	require.NoError(t, err)
	return u
}

// startServer runs a server on a loopback port backed by an in-memory
// filesystem. With no users an anonymous user rooted at testBase is served.
func startServer(t *testing.T, users []*auth.User, mutate func(*Options)) *testServer {
	t.Helper()
	return startServerOn(t, "127.0.0.1", users, mutate)
}

// startServerOn is startServer listening on host.
func startServerOn(t *testing.T, host string, users []*auth.User, mutate func(*Options)) *testServer {
	t.Helper()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(testBase, 0o755))

	if len(users) == 0 {
		users = []*auth.User{anonymousUser(t)}
	}
	mgr, err := auth.NewMemoryManager(users)
	require.NoError(t, err)

	opts := Options{
		PathIO:            pathio.MemoryFactory(fsys),
		SocketTimeout:     5 * time.Second,
		IdleTimeout:       5 * time.Second,
		WaitFutureTimeout: 2 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := New(mgr, opts)
	require.NoError(t, err)

	logs := &safeBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))

	require.NoError(t, srv.Start(ctx, host, 0))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, srv.Close())
		require.NoError(t, <-done)
		if os.Getenv("FTPGO_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})

	host, port := srv.Addr()
	return &testServer{srv: srv, fs: fsys, addr: net.JoinHostPort(host, strconv.Itoa(port)), logs: logs}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	tp   *textproto.Conn
}

// dial connects without reading the greeting.
func (ts *testServer) dial(t *testing.T) *testClient {
	t.Helper()
	nc, err := net.DialTimeout("tcp", ts.addr, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, nc.SetDeadline(time.Now().Add(10*time.Second)))
	c := &testClient{t: t, conn: nc, tp: textproto.NewConn(nc)}
	t.Cleanup(func() { c.tp.Close() })
	return c
}

// login connects, reads the greeting and logs in anonymously.
func (ts *testServer) login(t *testing.T) *testClient {
	t.Helper()
	c := ts.dial(t)
	c.expect(220, "welcome")
	c.cmd(230, "USER anonymous")
	return c
}

// read returns the next reply.
func (c *testClient) read() (int, string) {
	c.t.Helper()
	code, msg, err := c.tp.ReadResponse(0)
	require.NoError(c.t, err)
	return code, msg
}

func (c *testClient) expect(code int, msg string) {
	c.t.Helper()
	gotCode, gotMsg := c.read()
	require.Equal(c.t, code, gotCode, "message: %q", gotMsg)
	require.Equal(c.t, msg, gotMsg)
}

// send writes a command line without reading the reply.
func (c *testClient) send(format string, args ...any) {
	c.t.Helper()
	require.NoError(c.t, c.tp.PrintfLine(format, args...))
}

// cmd sends a command and checks the reply code. It returns the message.
func (c *testClient) cmd(code int, format string, args ...any) string {
	c.t.Helper()
	c.send(format, args...)
	gotCode, msg := c.read()
	require.Equal(c.t, code, gotCode, "message: %q", msg)
	return msg
}

var pasvReply = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// pasv enters passive mode and opens a data connection.
func (c *testClient) pasv() net.Conn {
	c.t.Helper()
	msg := c.cmd(227, "PASV")
	m := pasvReply.FindStringSubmatch(msg)
	require.NotNil(c.t, m, "unexpected PASV reply %q", msg)

	nums := make([]int, 6)
	for i := range nums {
		n, err := strconv.Atoi(m[i+1])
		require.NoError(c.t, err)
		nums[i] = n
	}
	addr := net.JoinHostPort(fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3]), strconv.Itoa(nums[4]<<8|nums[5]))
	data, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(c.t, err)
	require.NoError(c.t, data.SetDeadline(time.Now().Add(10*time.Second)))
	c.t.Cleanup(func() { data.Close() })
	return data
}

// retrieve runs a download style command and returns the data it produced.
func (c *testClient) retrieve(startCode, doneCode int, format string, args ...any) string {
	c.t.Helper()
	data := c.pasv()
	c.cmd(startCode, format, args...)
	b, err := io.ReadAll(data)
	require.NoError(c.t, err)
	gotCode, msg := c.read()
	require.Equal(c.t, doneCode, gotCode, "message: %q", msg)
	return string(b)
}

// upload runs a STOR style command with payload.
func (c *testClient) upload(payload string, format string, args ...any) {
	c.t.Helper()
	data := c.pasv()
	c.cmd(150, format, args...)
	_, err := io.WriteString(data, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, data.Close())
	c.expect(226, "data transfer done")
}

// expectClosed asserts the server closed the control connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	_, err := c.tp.ReadLine()
	require.ErrorIs(c.t, err, io.EOF)
}

// slowFs delays every Stat call.
type slowFs struct {
	afero.Fs
	delay time.Duration
}

func (s slowFs) Stat(name string) (fs.FileInfo, error) {
	time.Sleep(s.delay)
	return s.Fs.Stat(name)
}

func writeFile(t *testing.T, fsys afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, name, []byte(content), 0o644))
}

func readFile(t *testing.T, fsys afero.Fs, name string) string {
	t.Helper()
	b, err := afero.ReadFile(fsys, name)
	require.NoError(t, err)
	return string(b)
}
