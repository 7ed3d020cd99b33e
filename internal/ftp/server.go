package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/vk/ftpgo/internal/auth"
	"github.com/vk/ftpgo/internal/ctxlog"
	"github.com/vk/ftpgo/internal/pathio"
	"github.com/vk/ftpgo/internal/sessionstore"
	"github.com/vk/ftpgo/internal/throttle"
)

const (
	// DefaultBlockSize is the read size of data transfers.
	DefaultBlockSize = 8192
	// DefaultMaximumConnections is the server-wide session limit.
	DefaultMaximumConnections = 512
	// DefaultWaitFutureTimeout is how long a transfer waits for the client
	// to open the data connection.
	DefaultWaitFutureTimeout = time.Second
	// DefaultEncoding is used for command and reply lines.
	DefaultEncoding = "utf-8"
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	BlockSize int

	// SocketTimeout bounds every write on control and data connections and
	// every read on data connections.
	SocketTimeout time.Duration
	// IdleTimeout is how long a client may stay silent on the control
	// connection.
	IdleTimeout time.Duration
	// WaitFutureTimeout is how long a transfer waits for its data connection.
	WaitFutureTimeout time.Duration
	// PathTimeout bounds filesystem operations.
	PathTimeout time.Duration

	PathIO pathio.Factory

	MaximumConnections int

	ReadSpeedLimit               int64
	WriteSpeedLimit              int64
	ReadSpeedLimitPerConnection  int64
	WriteSpeedLimitPerConnection int64

	// PassiveAddress is the IPv4 address announced in PASV replies, for
	// servers behind NAT.
	PassiveAddress string
	// DataPorts restricts passive listeners to these ports.
	DataPorts []int

	Encoding  string
	TLSConfig *tls.Config
	Observer  Observer
}

func (o *Options) setDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.WaitFutureTimeout <= 0 {
		o.WaitFutureTimeout = DefaultWaitFutureTimeout
	}
	if o.PathIO == nil {
		o.PathIO = pathio.OSFactory()
	}
	if o.MaximumConnections == 0 {
		o.MaximumConnections = DefaultMaximumConnections
	}
	if o.Encoding == "" {
		o.Encoding = DefaultEncoding
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
}

// Server is an FTP server. Create it with New.
type Server struct {
	opts  Options
	users auth.Manager
	codec *codec

	available             *auth.AvailableConnections
	throttle              throttle.StreamThrottle
	throttlePerConnection throttle.StreamThrottle
	throttlePerUserMu     sync.Mutex
	throttlePerUser       map[*auth.User]throttle.StreamThrottle
	dataPorts             *portPool
	commands              map[string]*command

	mu       sync.Mutex
	closed   bool
	listener net.Listener
	host     string
	port     int
	sessions *sessionstore.Store
	wg       sync.WaitGroup
}

// New creates a server for users.
func New(users auth.Manager, opts Options) (*Server, error) {
	if users == nil {
		return nil, errors.New("ftp: user manager is required")
	}
	opts.setDefaults()
	if opts.PassiveAddress != "" && net.ParseIP(opts.PassiveAddress).To4() == nil {
		return nil, fmt.Errorf("ftp: passive address %q is not an IPv4 address", opts.PassiveAddress)
	}

	c, err := newCodec(opts.Encoding)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:                  opts,
		users:                 users,
		codec:                 c,
		available:             auth.NewAvailableConnections(opts.MaximumConnections),
		throttle:              throttle.FromLimits(opts.ReadSpeedLimit, opts.WriteSpeedLimit),
		throttlePerConnection: throttle.FromLimits(opts.ReadSpeedLimitPerConnection, opts.WriteSpeedLimitPerConnection),
		throttlePerUser:       make(map[*auth.User]throttle.StreamThrottle),
		sessions:              sessionstore.New(),
	}
	if opts.DataPorts != nil {
		s.dataPorts = newPortPool(opts.DataPorts)
	}
	s.commands = s.commandTable()
	return s, nil
}

// Start binds the control listener. A zero port picks a free one.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	logger := ctxlog.FromContext(ctx)

	ln, err := s.listen(host, port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
	}

	s.mu.Lock()
	s.closed = false
	s.listener = ln
	s.host, s.port = host, port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		if s.port == 0 {
			s.port = addr.Port
		}
		if s.host == "" {
			s.host = addr.IP.String()
		}
	}
	s.mu.Unlock()

	logger.Info("📂 FTP server listening.", "address", ln.Addr().String(), "tls", s.opts.TLSConfig != nil)
	return nil
}

func (s *Server) listen(host string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if s.opts.TLSConfig != nil {
		ln = tls.NewListener(ln, s.opts.TLSConfig)
	}
	return ln, nil
}

// Serve accepts control connections until the listener is closed. It
// returns nil after Close.
func (s *Server) Serve(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("ftp: server not started")
	}

	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("Listener closed, accept loop finished.")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Temporary accept error.", "error", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, nc)
		}()
	}
}

// Run starts the server, serves until ctx is done and then closes it.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	if err := s.Start(ctx, host, port); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		if err := s.Close(); err != nil {
			ctxlog.FromContext(ctx).Error("Server shutdown failed.", "error", err)
		}
	})
	defer stop()

	return s.Serve(ctx)
}

// Addr returns the host and port the server listens on.
func (s *Server) Addr() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.port
}

// Sessions returns the number of open control connections.
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// Close stops listening, closes every session and waits for them to end.
func (s *Server) Close() error {
	var result *multierror.Error

	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing listener: %w", err))
		}
	}

	s.sessions.Range(func(id string, sess sessionstore.Session) {
		if err := sess.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing session %s: %w", id, err))
		}
	})
	s.wg.Wait()

	return result.ErrorOrNil()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// userThrottle returns the throttle shared by all sessions of u.
func (s *Server) userThrottle(u *auth.User) throttle.StreamThrottle {
	s.throttlePerUserMu.Lock()
	defer s.throttlePerUserMu.Unlock()
	st, ok := s.throttlePerUser[u]
	if !ok {
		st = throttle.FromLimits(u.ReadSpeedLimit, u.WriteSpeedLimit)
		s.throttlePerUser[u] = st
	}
	return st
}

// serveConn runs one session on nc.
func (s *Server) serveConn(parent context.Context, nc net.Conn) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx = ctxlog.With(ctx, "session", id, "client", nc.RemoteAddr().String())

	throttles := throttle.NewSet(map[string]throttle.StreamThrottle{
		throttle.ServerGlobal:        s.throttle,
		throttle.ServerPerConnection: s.throttlePerConnection.Clone(),
	})
	control := throttle.NewConn(ctx, nc, throttles, s.opts.IdleTimeout, s.opts.SocketTimeout)

	c := newConn(ctx, cancel, s, control)
	s.sessions.Add(id, c)
	defer s.sessions.Remove(id)
	if s.isClosed() {
		// Close may have ranged over the sessions before this one was added.
		_ = c.Close()
		return
	}

	s.opts.Observer.SessionOpened()
	defer s.opts.Observer.SessionClosed()

	c.serve()
}
