package config

import (
	"fmt"
	"time"

	"github.com/vk/ftpgo/internal/auth"
)

// Model is the unified, format-agnostic representation of the server
// configuration.
type Model struct {
	Server Server
	Users  []*User
}

// Server holds the listener and session settings. Zero values mean "use the
// server default".
type Server struct {
	Host string
	Port int

	BlockSize          int
	SocketTimeout      time.Duration
	IdleTimeout        time.Duration
	WaitFutureTimeout  time.Duration
	PathTimeout        time.Duration
	MaximumConnections int

	ReadSpeedLimit               int64
	WriteSpeedLimit              int64
	ReadSpeedLimitPerConnection  int64
	WriteSpeedLimitPerConnection int64

	PassiveAddress string
	DataPorts      []int
	Encoding       string

	// Memory serves an in-memory filesystem instead of the host's.
	Memory bool
	TLS    *TLS
}

// TLS enables implicit TLS on control and data connections.
type TLS struct {
	CertFile string
	KeyFile  string
}

// User is the format-agnostic representation of a `user` block. A nil Login
// is the anonymous user.
type User struct {
	Login        *string
	Password     *string
	PasswordHash string
	BasePath     string
	HomePath     string
	Permissions  []Permission

	MaximumConnections int

	ReadSpeedLimit               int64
	WriteSpeedLimit              int64
	ReadSpeedLimitPerConnection  int64
	WriteSpeedLimitPerConnection int64
}

// Permission grants access to a virtual path and everything below it.
type Permission struct {
	Path     string
	Readable bool
	Writable bool
}

// AuthUsers validates the configured users and converts them for the user
// manager.
func (m *Model) AuthUsers() ([]*auth.User, error) {
	users := make([]*auth.User, 0, len(m.Users))
	for _, u := range m.Users {
		perms := make([]auth.Permission, 0, len(u.Permissions))
		for _, p := range u.Permissions {
			perms = append(perms, auth.NewPermission(p.Path, p.Readable, p.Writable))
		}
		au, err := auth.NewUser(auth.User{
			Login:                        u.Login,
			Password:                     u.Password,
			PasswordHash:                 u.PasswordHash,
			BasePath:                     u.BasePath,
			HomePath:                     u.HomePath,
			Permissions:                  perms,
			MaximumConnections:           u.MaximumConnections,
			ReadSpeedLimit:               u.ReadSpeedLimit,
			WriteSpeedLimit:              u.WriteSpeedLimit,
			ReadSpeedLimitPerConnection:  u.ReadSpeedLimitPerConnection,
			WriteSpeedLimitPerConnection: u.WriteSpeedLimitPerConnection,
		})
		if err != nil {
			name := "anonymous"
			if u.Login != nil {
				name = *u.Login
			}
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		users = append(users, au)
	}
	return users, nil
}
