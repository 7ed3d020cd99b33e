package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/vk/ftpgo/internal/auth"
	"github.com/vk/ftpgo/internal/config"
	"github.com/vk/ftpgo/internal/ctxlog"
	"github.com/vk/ftpgo/internal/ftp"
	"github.com/vk/ftpgo/internal/metrics"
	"github.com/vk/ftpgo/internal/pathio"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	host     string
	port     int
	server   *ftp.Server
	registry *prometheus.Registry
	// fs is the in-memory filesystem when one is served.
	fs afero.Fs

	httpServer *http.Server
	ready      chan struct{}
}

// NewApp is the constructor for the main application. It loads the
// configuration files, builds the user manager and prepares the FTP server
// without binding any socket.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	var configPaths []string
	if appConfig.ConfigPath != "" {
		configPaths = append(configPaths, appConfig.ConfigPath)
	}
	model, err := loader.Load(ctx, configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "users", len(model.Users))

	a := &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		host:     model.Server.Host,
		port:     model.Server.Port,
		registry: prometheus.NewRegistry(),
		ready:    make(chan struct{}),
	}
	if appConfig.Host != "" {
		a.host = appConfig.Host
	}
	if appConfig.Port != 0 {
		a.port = appConfig.Port
	}
	if a.port == 0 {
		a.port = DefaultPort
	}
	memory := appConfig.Memory || model.Server.Memory

	users, err := model.AuthUsers()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(users) == 0 {
		logger.Warn("No users configured, serving an anonymous read/write user.")
		anonymous, err := auth.NewUser(auth.User{})
		if err != nil {
			return nil, err
		}
		users = []*auth.User{anonymous}
	}
	for _, u := range users {
		if memory {
			u.BasePath = filepath.Join(string(filepath.Separator), u.BasePath)
			continue
		}
		if u.BasePath, err = filepath.Abs(u.BasePath); err != nil {
			return nil, fmt.Errorf("user %q: resolving base path: %w", u.Name(), err)
		}
	}
	manager, err := auth.NewMemoryManager(users)
	if err != nil {
		return nil, err
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	opts, err := serverOptions(model.Server, observer)
	if err != nil {
		return nil, err
	}
	if memory {
		a.fs = afero.NewMemMapFs()
		opts.PathIO = pathio.MemoryFactory(a.fs)
		logger.Info("Serving an in-memory filesystem.")
	}

	a.server, err = ftp.New(manager, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	logger.Debug("Server created.", "users", len(users), "memory", memory)
	return a, nil
}

// serverOptions maps the server block onto ftp.Options.
func serverOptions(s config.Server, observer ftp.Observer) (ftp.Options, error) {
	opts := ftp.Options{
		BlockSize:                    s.BlockSize,
		SocketTimeout:                s.SocketTimeout,
		IdleTimeout:                  s.IdleTimeout,
		WaitFutureTimeout:            s.WaitFutureTimeout,
		PathTimeout:                  s.PathTimeout,
		MaximumConnections:           s.MaximumConnections,
		ReadSpeedLimit:               s.ReadSpeedLimit,
		WriteSpeedLimit:              s.WriteSpeedLimit,
		ReadSpeedLimitPerConnection:  s.ReadSpeedLimitPerConnection,
		WriteSpeedLimitPerConnection: s.WriteSpeedLimitPerConnection,
		PassiveAddress:               s.PassiveAddress,
		DataPorts:                    s.DataPorts,
		Encoding:                     s.Encoding,
		Observer:                     observer,
	}
	if s.TLS != nil {
		cert, err := tls.LoadX509KeyPair(s.TLS.CertFile, s.TLS.KeyFile)
		if err != nil {
			return ftp.Options{}, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		opts.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return opts, nil
}

// Server returns the application's FTP server. This is primarily for testing.
func (a *App) Server() *ftp.Server {
	return a.server
}

// Fs returns the in-memory filesystem, or nil when the host filesystem is
// served. This is primarily for testing.
func (a *App) Fs() afero.Fs {
	return a.fs
}

// Ready is closed once every listener of a running App is bound.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}
