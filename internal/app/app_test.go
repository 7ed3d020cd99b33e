package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/ftpgo/internal/hcl_adapter"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(Config{Port: 21, LogFormat: "json", LogLevel: "warn"})
	require.NoError(t, err)
	assert.Equal(t, 21, cfg.Port)

	for _, bad := range []Config{
		{Port: -1},
		{Port: 70000},
		{HealthcheckPort: 70000},
		{LogFormat: "xml"},
		{LogLevel: "trace"},
	} {
		_, err := NewConfig(bad)
		assert.Error(t, err, "%+v", bad)
	}
}

func TestNewApp_ListenAddress(t *testing.T) {
	a, _ := SetupAppTest(t, &Config{Memory: true})
	assert.Equal(t, DefaultPort, a.port)
	assert.Equal(t, "", a.host)

	path := writeConfig(t, `server {
  host = "127.0.0.1"
  port = 2200
}`)
	a, _ = SetupAppTest(t, &Config{ConfigPath: path, Memory: true})
	assert.Equal(t, "127.0.0.1", a.host)
	assert.Equal(t, 2200, a.port)

	a, _ = SetupAppTest(t, &Config{ConfigPath: path, Host: "::1", Port: 2300, Memory: true})
	assert.Equal(t, "::1", a.host)
	assert.Equal(t, 2300, a.port)
}

func TestNewApp_MemoryFromConfig(t *testing.T) {
	path := writeConfig(t, `server {
  memory = true
}

user "*" {
  base_path = "/pub"
}`)
	a, _ := SetupAppTest(t, &Config{ConfigPath: path})
	require.NotNil(t, a.Fs())
}

func TestNewApp_HostFilesystem(t *testing.T) {
	a, _ := SetupAppTest(t, &Config{})
	assert.Nil(t, a.Fs())
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{"syntax", `server {`, "failed to load configuration"},
		{"home path", `user "bob" { home_path = "relative" }`, "invalid configuration"},
		{"tls", `server {
  tls {
    cert_file = "/nonexistent/cert.pem"
    key_file  = "/nonexistent/key.pem"
  }
}`, "failed to load TLS key pair"},
		{"passive address", `server { passive_address = "::1" }`, "failed to create server"},
		{"encoding", `server { encoding = "klingon" }`, "failed to create server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewApp(io.Discard, &Config{ConfigPath: writeConfig(t, tt.config)}, hcl_adapter.NewLoader())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApp_Run(t *testing.T) {
	port, healthPort := freePort(t), freePort(t)
	a, logs := SetupAppTest(t, &Config{
		Host:            "127.0.0.1",
		Port:            port,
		Memory:          true,
		HealthcheckPort: healthPort,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("app stopped early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("app did not become ready")
	}

	nc, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	client := textproto.NewConn(nc)
	defer client.Close()

	_, _, err = client.ReadResponse(220)
	require.NoError(t, err)
	require.NoError(t, client.PrintfLine("USER anonymous"))
	_, msg, err := client.ReadResponse(230)
	require.NoError(t, err)
	assert.Equal(t, "anonymous login", msg)
	require.NoError(t, client.PrintfLine("MKD incoming"))
	_, _, err = client.ReadResponse(257)
	require.NoError(t, err)

	isDir, err := afero.IsDir(a.Fs(), "/incoming")
	require.NoError(t, err)
	assert.True(t, isDir)

	base := "http://127.0.0.1:" + strconv.Itoa(healthPort)
	body := httpGet(t, base+"/health")
	assert.Equal(t, "OK\n", body)

	body = httpGet(t, base+"/metrics")
	assert.Contains(t, body, "ftpgo_sessions_total 1")
	assert.Contains(t, body, `ftpgo_commands_total{command="mkd",known="true"} 1`)
	assert.Contains(t, body, `ftpgo_logins_total{success="true"} 1`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Contains(t, logs.String(), "Server stopped.")
}

func TestApp_Run_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	a, _ := SetupAppTest(t, &Config{Host: "127.0.0.1", Port: port, Memory: true})
	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
