package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/vk/ftpgo/internal/auth"
	"github.com/vk/ftpgo/internal/ctxlog"
	"github.com/vk/ftpgo/internal/pathio"
	"github.com/vk/ftpgo/internal/throttle"
)

// conn is the state of one FTP session.
//
// Fields below the session state marker are owned by the session goroutine.
// Data connection and worker bookkeeping are shared with the passive
// listener and transfer workers and have their own locks.
type conn struct {
	ctx    context.Context
	cancel context.CancelFunc
	srv    *Server
	logger *slog.Logger

	control *throttle.Conn
	reader  *textproto.Reader
	writeMu sync.Mutex

	serverHost string
	pathIO     pathio.PathIO
	closeOnce  sync.Once

	// session state
	user          *auth.User
	loggedIn      bool
	cwd           string
	acquired      bool
	restartOffset int64
	transferType  string
	renameFrom    string
	renameFromSet bool
	passive       *passiveListener

	dataMu     sync.Mutex
	data       *throttle.Conn
	dataNotify chan struct{}

	workersMu sync.Mutex
	workers   map[*worker]struct{}
	workersWG sync.WaitGroup
}

func newConn(ctx context.Context, cancel context.CancelFunc, srv *Server, control *throttle.Conn) *conn {
	serverHost := ""
	if addr, ok := control.LocalAddr().(*net.TCPAddr); ok {
		serverHost = addr.IP.String()
	}
	return &conn{
		ctx:        ctx,
		cancel:     cancel,
		srv:        srv,
		logger:     ctxlog.FromContext(ctx),
		control:    control,
		reader:     textproto.NewReader(bufio.NewReader(control)),
		serverHost: serverHost,
		pathIO:     srv.opts.PathIO(srv.opts.PathTimeout),
		cwd:        "/",
		dataNotify: make(chan struct{}),
		workers:    make(map[*worker]struct{}),
	}
}

// Close aborts the session from outside. The session goroutine notices the
// closed control connection and cleans up.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.control.Close()
	})
	return err
}

// serve is the main loop of a session.
func (c *conn) serve() {
	defer c.cleanup()
	c.logger.Info("New connection.")

	if !c.greet() {
		return
	}

	for {
		line, err := c.reader.ReadLineBytes()
		if err != nil {
			c.logReadError(err)
			return
		}

		text, err := c.srv.codec.decode(line)
		if err != nil {
			c.logger.Warn("Failed to decode command line.", "error", err)
			c.respond("501", "syntax error")
			continue
		}
		cmd, arg := parseCommand(text)
		c.logger.Debug("Command received.", "command", cmd, "argument", logArgument(cmd, arg))

		keepOpen, err := c.dispatch(cmd, arg)
		if err != nil {
			var pathErr *pathio.Error
			if errors.As(err, &pathErr) {
				c.logger.Warn("File system error.", "command", cmd, "error", err)
				c.respond("451", "file system error")
				continue
			}
			c.logger.Error("Command failed, closing connection.", "command", cmd, "error", err)
			return
		}
		if !keepOpen {
			return
		}
	}
}

func (c *conn) logReadError(err error) {
	var netErr net.Error
	switch {
	case c.ctx.Err() != nil:
		c.logger.Debug("Session cancelled.")
	case errors.Is(err, io.EOF):
		c.logger.Debug("Client closed the control connection.")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info("Idle timeout reached.", "idle_timeout", c.srv.opts.IdleTimeout)
	default:
		c.logger.Warn("Failed to read command.", "error", err)
	}
}

// greet takes a server connection slot or refuses the client.
func (c *conn) greet() bool {
	if !c.srv.available.TryAcquire() {
		c.respond("421", "Too many connections")
		return false
	}
	c.acquired = true
	c.respond("220", "welcome")
	return true
}

// restartExempt commands keep the REST offset of the previous command.
var restartExempt = map[string]bool{"retr": true, "stor": true, "appe": true, "rest": true}

func (c *conn) dispatch(cmd, arg string) (bool, error) {
	command, ok := c.srv.commands[cmd]
	c.srv.opts.Observer.Command(cmd, ok)
	if !ok {
		c.respond("502", fmt.Sprintf("'%s' not implemented", cmd))
		return true, nil
	}
	if !restartExempt[cmd] {
		c.restartOffset = 0
	}
	return command.run(c, arg)
}

func (c *conn) cleanup() {
	c.logger.Info("Closing connection.")
	c.cancel()

	c.abortWorkers(false)
	c.workersWG.Wait()

	if c.passive != nil {
		c.passive.close()
		c.passive = nil
	}
	c.dataMu.Lock()
	if c.data != nil {
		c.data.Close()
		c.data = nil
	}
	c.dataMu.Unlock()

	c.closeOnce.Do(func() { c.control.Close() })

	if c.acquired {
		if err := c.srv.available.Release(); err != nil {
			c.logger.Warn("Server connection slot release failed.", "error", err)
		}
	}
	if c.user != nil {
		c.srv.users.NotifyLogout(context.WithoutCancel(c.ctx), c.user)
	}
}

// respond sends a reply. All but the last line are sent as "code-line".
func (c *conn) respond(code string, lines ...string) {
	if len(lines) == 0 {
		lines = []string{""}
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines[:len(lines)-1] {
		out = append(out, code+"-"+line)
	}
	out = append(out, code+" "+lines[len(lines)-1])
	c.writeLines(out)
}

// respondList sends a listing reply: "code-head", " body"..., "code tail".
func (c *conn) respondList(code, head string, body []string, tail string) {
	out := make([]string, 0, len(body)+2)
	out = append(out, code+"-"+head)
	for _, line := range body {
		out = append(out, " "+line)
	}
	out = append(out, code+" "+tail)
	c.writeLines(out)
}

func (c *conn) writeLines(lines []string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, line := range lines {
		c.logger.Debug("Reply sent.", "line", line)
		b, err := c.srv.codec.encode(line + endOfLine)
		if err != nil {
			c.logger.Warn("Failed to encode reply.", "line", line, "error", err)
			continue
		}
		if _, err := c.control.Write(b); err != nil {
			c.logger.Debug("Failed to write reply.", "error", err)
			return
		}
	}
}

// setData stores an accepted data connection. It refuses a second one while
// the first has not been consumed.
func (c *conn) setData(d *throttle.Conn) bool {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.data != nil {
		return false
	}
	c.data = d
	close(c.dataNotify)
	c.dataNotify = make(chan struct{})
	return true
}

// dropData closes a pending, unconsumed data connection.
func (c *conn) dropData() {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if c.data != nil {
		c.data.Close()
		c.data = nil
	}
}

// takeData consumes the pending data connection, waiting up to timeout for
// the client to open one. It returns nil when none arrived.
func (c *conn) takeData(ctx context.Context, timeout time.Duration) *throttle.Conn {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.dataMu.Lock()
		if d := c.data; d != nil {
			c.data = nil
			c.dataMu.Unlock()
			return d
		}
		notify := c.dataNotify
		c.dataMu.Unlock()

		select {
		case <-notify:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
