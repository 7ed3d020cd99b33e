package hcl_adapter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/vk/ftpgo/internal/config"
)

// anonymousLogin is the user block label for the anonymous user.
const anonymousLogin = "*"

func translateServer(b *serverBlock) (config.Server, error) {
	var (
		s      config.Server
		result *multierror.Error
	)
	check := func(err error) {
		result = multierror.Append(result, err)
	}

	s.Host = deref(b.Host)
	s.Port = deref(b.Port)
	s.MaximumConnections = deref(b.MaximumConnections)
	s.PassiveAddress = deref(b.PassiveAddress)
	s.Encoding = deref(b.Encoding)
	s.Memory = deref(b.Memory)

	blockSize, err := parseBytes("block_size", b.BlockSize)
	check(err)
	s.BlockSize = int(blockSize)

	s.SocketTimeout, err = parseDuration("socket_timeout", b.SocketTimeout)
	check(err)
	s.IdleTimeout, err = parseDuration("idle_timeout", b.IdleTimeout)
	check(err)
	s.WaitFutureTimeout, err = parseDuration("wait_future_timeout", b.WaitFutureTimeout)
	check(err)
	s.PathTimeout, err = parseDuration("path_timeout", b.PathTimeout)
	check(err)

	s.ReadSpeedLimit, err = parseBytes("read_speed_limit", b.ReadSpeedLimit)
	check(err)
	s.WriteSpeedLimit, err = parseBytes("write_speed_limit", b.WriteSpeedLimit)
	check(err)
	s.ReadSpeedLimitPerConnection, err = parseBytes("read_speed_limit_per_connection", b.ReadSpeedLimitPerConnection)
	check(err)
	s.WriteSpeedLimitPerConnection, err = parseBytes("write_speed_limit_per_connection", b.WriteSpeedLimitPerConnection)
	check(err)

	if b.DataPorts != nil {
		s.DataPorts, err = parseDataPorts(*b.DataPorts)
		check(err)
	}
	if b.TLS != nil {
		s.TLS = &config.TLS{CertFile: b.TLS.CertFile, KeyFile: b.TLS.KeyFile}
	}
	if s.Port < 0 || s.Port > 65535 {
		check(fmt.Errorf("port %d is out of range", s.Port))
	}

	if err := result.ErrorOrNil(); err != nil {
		return config.Server{}, fmt.Errorf("server block: %w", err)
	}
	return s, nil
}

func translateUser(b *userBlock) (*config.User, error) {
	u := &config.User{
		Password:           b.Password,
		PasswordHash:       deref(b.PasswordHash),
		BasePath:           deref(b.BasePath),
		HomePath:           deref(b.HomePath),
		MaximumConnections: deref(b.MaximumConnections),
	}
	if b.Login != anonymousLogin {
		login := b.Login
		u.Login = &login
	}

	var err error
	if u.ReadSpeedLimit, err = parseBytes("read_speed_limit", b.ReadSpeedLimit); err != nil {
		return nil, fmt.Errorf("user %q: %w", b.Login, err)
	}
	if u.WriteSpeedLimit, err = parseBytes("write_speed_limit", b.WriteSpeedLimit); err != nil {
		return nil, fmt.Errorf("user %q: %w", b.Login, err)
	}
	if u.ReadSpeedLimitPerConnection, err = parseBytes("read_speed_limit_per_connection", b.ReadSpeedLimitPerConnection); err != nil {
		return nil, fmt.Errorf("user %q: %w", b.Login, err)
	}
	if u.WriteSpeedLimitPerConnection, err = parseBytes("write_speed_limit_per_connection", b.WriteSpeedLimitPerConnection); err != nil {
		return nil, fmt.Errorf("user %q: %w", b.Login, err)
	}

	for _, p := range b.Permissions {
		u.Permissions = append(u.Permissions, config.Permission{
			Path:     p.Path,
			Readable: p.Readable == nil || *p.Readable,
			Writable: p.Writable == nil || *p.Writable,
		})
	}
	return u, nil
}

// parseBytes accepts humanized sizes ("64 KiB", "1MB") and plain numbers.
func parseBytes(attr string, v *string) (int64, error) {
	if v == nil {
		return 0, nil
	}
	n, err := humanize.ParseBytes(*v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", attr, *v, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid %s %q: too large", attr, *v)
	}
	return int64(n), nil
}

func parseDuration(attr string, v *string) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", attr, *v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative duration", attr, *v)
	}
	return d, nil
}

// parseDataPorts parses a list such as "30000-30009,30020".
func parseDataPorts(s string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		loStr, hiStr, isRange := strings.Cut(part, "-")
		lo, err := parsePort(loStr)
		if err != nil {
			return nil, fmt.Errorf("invalid data_ports %q: %w", s, err)
		}
		hi := lo
		if isRange {
			if hi, err = parsePort(hiStr); err != nil {
				return nil, fmt.Errorf("invalid data_ports %q: %w", s, err)
			}
		}
		if hi < lo {
			return nil, fmt.Errorf("invalid data_ports %q: range %d-%d is reversed", s, lo, hi)
		}
		for p := lo; p <= hi; p++ {
			ports = append(ports, p)
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("invalid data_ports %q: no ports", s)
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d is out of range", p)
	}
	return p, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
