package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Servers []*serverBlock `hcl:"server,block"`
	Users   []*userBlock   `hcl:"user,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

// serverBlock is the `server { ... }` block. Byte sizes are strings such as
// "1 MiB" and durations are Go duration strings such as "30s".
type serverBlock struct {
	Host               *string `hcl:"host,optional"`
	Port               *int    `hcl:"port,optional"`
	BlockSize          *string `hcl:"block_size,optional"`
	SocketTimeout      *string `hcl:"socket_timeout,optional"`
	IdleTimeout        *string `hcl:"idle_timeout,optional"`
	WaitFutureTimeout  *string `hcl:"wait_future_timeout,optional"`
	PathTimeout        *string `hcl:"path_timeout,optional"`
	MaximumConnections *int    `hcl:"maximum_connections,optional"`

	ReadSpeedLimit               *string `hcl:"read_speed_limit,optional"`
	WriteSpeedLimit              *string `hcl:"write_speed_limit,optional"`
	ReadSpeedLimitPerConnection  *string `hcl:"read_speed_limit_per_connection,optional"`
	WriteSpeedLimitPerConnection *string `hcl:"write_speed_limit_per_connection,optional"`

	PassiveAddress *string `hcl:"passive_address,optional"`
	DataPorts      *string `hcl:"data_ports,optional"`
	Encoding       *string `hcl:"encoding,optional"`
	Memory         *bool   `hcl:"memory,optional"`

	TLS *tlsBlock `hcl:"tls,block"`
}

type tlsBlock struct {
	CertFile string `hcl:"cert_file"`
	KeyFile  string `hcl:"key_file"`
}

// userBlock is a `user "<login>" { ... }` block. The login "*" declares the
// anonymous user.
type userBlock struct {
	Login              string  `hcl:"login,label"`
	Password           *string `hcl:"password,optional"`
	PasswordHash       *string `hcl:"password_hash,optional"`
	BasePath           *string `hcl:"base_path,optional"`
	HomePath           *string `hcl:"home_path,optional"`
	MaximumConnections *int    `hcl:"maximum_connections,optional"`

	ReadSpeedLimit               *string `hcl:"read_speed_limit,optional"`
	WriteSpeedLimit              *string `hcl:"write_speed_limit,optional"`
	ReadSpeedLimitPerConnection  *string `hcl:"read_speed_limit_per_connection,optional"`
	WriteSpeedLimitPerConnection *string `hcl:"write_speed_limit_per_connection,optional"`

	Permissions []*permissionBlock `hcl:"permission,block"`
}

// permissionBlock is a `permission "<virtual path>" { ... }` block. Both
// flags default to true.
type permissionBlock struct {
	Path     string `hcl:"path,label"`
	Readable *bool  `hcl:"readable,optional"`
	Writable *bool  `hcl:"writable,optional"`
}
