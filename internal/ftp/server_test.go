package ftp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vk/ftpgo/internal/auth"
)

func strPtr(s string) *string { return &s }

// testContext stands in for testing.T.Context (Go 1.24+): the context is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RequiresUserManager(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	mgr, err := auth.NewMemoryManager(nil)
	require.NoError(t, err)

	_, err = New(mgr, Options{Encoding: "no-such-encoding"})
	assert.Error(t, err)

	_, err = New(mgr, Options{PassiveAddress: "::1"})
	assert.Error(t, err)
}

func TestServe_BeforeStartFails(t *testing.T) {
	mgr, err := auth.NewMemoryManager(nil)
	require.NoError(t, err)
	srv, err := New(mgr, Options{})
	require.NoError(t, err)
	require.Error(t, srv.Serve(testContext(t)))
}

func TestGreetingAndQuit(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := ts.dial(t)
	c.expect(220, "welcome")
	c.cmd(221, "QUIT")
	c.expectClosed()
}

func TestTooManyConnections(t *testing.T) {
	ts := startServer(t, nil, func(o *Options) { o.MaximumConnections = 1 })

	first := ts.dial(t)
	first.expect(220, "welcome")

	second := ts.dial(t)
	second.expect(421, "Too many connections")
	second.expectClosed()

	// The slot comes back once the first session ends.
	first.cmd(221, "QUIT")
	first.expectClosed()
	require.Eventually(t, func() bool { return ts.srv.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)

	third := ts.dial(t)
	third.expect(220, "welcome")
}

func TestUnknownCommand(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := ts.dial(t)
	c.expect(220, "welcome")
	assert.Equal(t, "'feat' not implemented", c.cmd(502, "FEAT"))
	// The session stays usable.
	c.cmd(230, "USER anonymous")
}

func TestCommandsAreCaseInsensitive(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := ts.dial(t)
	c.expect(220, "welcome")
	c.cmd(230, "user anonymous")
	assert.Equal(t, "UNIX Type: L8", c.cmd(215, "sYsT"))
}

func TestConditions(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := ts.dial(t)
	c.expect(220, "welcome")

	assert.Equal(t, "no user (use USER firstly)", c.cmd(503, "PASS secret"))
	assert.Equal(t, "not logged in", c.cmd(503, "PWD"))
	assert.Equal(t, "not logged in", c.cmd(503, "LIST"))

	c.cmd(230, "USER anonymous")
	assert.Equal(t, "no listen socket created (use PASV firstly)", c.cmd(503, "LIST"))
	assert.Equal(t, "no listen socket created (use PASV firstly)", c.cmd(503, "RETR missing"))
	assert.Equal(t, "no filename (use RNFR firstly)", c.cmd(503, "RNTO b"))
}

func TestLogin_Password(t *testing.T) {
	u, err := auth.NewUser(auth.User{Login: strPtr("alice"), Password: strPtr("secret"), BasePath: testBase})
	require.NoError(t, err)
	ts := startServer(t, []*auth.User{u}, nil)

	c := ts.dial(t)
	c.expect(220, "welcome")
	assert.Equal(t, "no such username", c.cmd(530, "USER bob"))
	assert.Equal(t, "password required", c.cmd(331, "USER alice"))
	assert.Equal(t, "not logged in", c.cmd(503, "PWD"))
	assert.Equal(t, "wrong password", c.cmd(530, "PASS nope"))
	assert.Equal(t, "normal login", c.cmd(230, "PASS secret"))
	assert.Equal(t, "already logged in", c.cmd(503, "PASS secret"))
	assert.Equal(t, `"/"`, c.cmd(257, "PWD"))
}

func TestLogin_PasswordHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := auth.NewUser(auth.User{Login: strPtr("carol"), PasswordHash: string(hash), BasePath: testBase})
	require.NoError(t, err)
	ts := startServer(t, []*auth.User{u}, nil)

	c := ts.dial(t)
	c.expect(220, "welcome")
	c.cmd(331, "USER carol")
	c.cmd(530, "PASS hunter3")
	c.cmd(230, "PASS hunter2")
}

func TestLogin_UserConnectionLimit(t *testing.T) {
	u, err := auth.NewUser(auth.User{Login: strPtr("dave"), BasePath: testBase, MaximumConnections: 1})
	require.NoError(t, err)
	ts := startServer(t, []*auth.User{u}, nil)

	first := ts.dial(t)
	first.expect(220, "welcome")
	assert.Equal(t, "login without password", first.cmd(230, "USER dave"))

	second := ts.dial(t)
	second.expect(220, "welcome")
	assert.Equal(t, "too much connections for 'dave'", second.cmd(530, "USER dave"))

	first.cmd(221, "QUIT")
	first.expectClosed()
	require.Eventually(t, func() bool { return ts.srv.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)
	second.cmd(230, "USER dave")
}

func TestHomePath(t *testing.T) {
	u, err := auth.NewUser(auth.User{BasePath: testBase, HomePath: "/home"})
	require.NoError(t, err)
	ts := startServer(t, []*auth.User{u}, nil)
	require.NoError(t, ts.fs.MkdirAll(testBase+"/home", 0o755))

	c := ts.login(t)
	assert.Equal(t, `"/home"`, c.cmd(257, "PWD"))
}

func TestClose_EndsSessions(t *testing.T) {
	ts := startServer(t, nil, nil)
	c := ts.login(t)
	require.Eventually(t, func() bool { return ts.srv.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.srv.Close())
	c.expectClosed()
	assert.Equal(t, 0, ts.srv.Sessions())
}

func TestClose_SessionAcceptedDuringClose(t *testing.T) {
	mgr, err := auth.NewMemoryManager(nil)
	require.NoError(t, err)
	srv, err := New(mgr, Options{})
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	// A connection handed over after Close ranged over the sessions must not
	// outlive the server. A net.Pipe write blocks until read, so a greeting
	// would hang here.
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.serveConn(testContext(t), serverSide)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session kept running after Close")
	}
	assert.Equal(t, 0, srv.Sessions())
}

func TestIdleTimeout(t *testing.T) {
	ts := startServer(t, nil, func(o *Options) { o.IdleTimeout = 100 * time.Millisecond })
	c := ts.login(t)
	c.expectClosed()
}

func TestObserver_SeesSessionEvents(t *testing.T) {
	obs := &recordingObserver{}
	ts := startServer(t, nil, func(o *Options) { o.Observer = obs })

	c := ts.login(t)
	c.cmd(502, "FEAT")
	c.cmd(221, "QUIT")
	c.expectClosed()

	require.Eventually(t, func() bool { return obs.snapshot().closed == 1 }, 2*time.Second, 10*time.Millisecond)
	got := obs.snapshot()
	assert.Equal(t, 1, got.opened)
	assert.Equal(t, 1, got.logins)
	assert.Equal(t, []string{"user", "feat", "quit"}, got.commands)
	assert.Equal(t, []string{"feat"}, got.unknown)
}
