package auth

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// DefaultMaximumConnectionsPerUser is used when a user does not set a limit.
const DefaultMaximumConnectionsPerUser = 10

// ErrPathIsNotAbsolute is returned when a user's home path is relative.
var ErrPathIsNotAbsolute = errors.New("path is not absolute")

// Permission grants read and write access to a virtual path and everything
// below it.
type Permission struct {
	Path     string
	Readable bool
	Writable bool
}

// NewPermission returns a permission for p with the given access.
func NewPermission(p string, readable, writable bool) Permission {
	return Permission{Path: path.Clean("/" + p), Readable: readable, Writable: writable}
}

// IsParent reports whether virtualPath is Path or lies below it.
func (p Permission) IsParent(virtualPath string) bool {
	_, ok := relativeParts(p.Path, virtualPath)
	return ok
}

func (p Permission) String() string {
	return fmt.Sprintf("Permission(%q, readable=%t, writable=%t)", p.Path, p.Readable, p.Writable)
}

// relativeParts returns how many path components virtualPath has below base.
func relativeParts(base, virtualPath string) (int, bool) {
	base = path.Clean(base)
	virtualPath = path.Clean(virtualPath)
	if base == virtualPath {
		return 0, true
	}
	prefix := base
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(virtualPath, prefix) {
		return 0, false
	}
	return len(strings.Split(strings.TrimPrefix(virtualPath, prefix), "/")), true
}

// User describes an account allowed to log in.
type User struct {
	// Login is nil for the anonymous user, which matches any login name.
	Login *string
	// Password is nil when no password is required.
	Password *string
	// PasswordHash is a bcrypt hash checked instead of Password when set.
	PasswordHash string

	// BasePath is the real directory the user's virtual root maps to.
	BasePath string
	// HomePath is the virtual directory a session starts in.
	HomePath string

	Permissions        []Permission
	MaximumConnections int

	ReadSpeedLimit               int64
	WriteSpeedLimit              int64
	ReadSpeedLimitPerConnection  int64
	WriteSpeedLimitPerConnection int64
}

// NewUser validates u and fills in defaults.
func NewUser(u User) (*User, error) {
	if u.BasePath == "" {
		u.BasePath = "."
	}
	if u.HomePath == "" {
		u.HomePath = "/"
	}
	if !path.IsAbs(u.HomePath) {
		return nil, fmt.Errorf("home path %q: %w", u.HomePath, ErrPathIsNotAbsolute)
	}
	u.HomePath = path.Clean(u.HomePath)
	if len(u.Permissions) == 0 {
		u.Permissions = []Permission{NewPermission("/", true, true)}
	}
	if u.MaximumConnections == 0 {
		u.MaximumConnections = DefaultMaximumConnectionsPerUser
	}
	return &u, nil
}

// Name is the login or "anonymous".
func (u *User) Name() string {
	if u.Login == nil {
		return "anonymous"
	}
	return *u.Login
}

// Permission returns the nearest parent permission of virtualPath. When
// none of the user's permissions cover it, everything is allowed.
func (u *User) Permission(virtualPath string) Permission {
	best := NewPermission("/", true, true)
	bestParts := -1
	for _, p := range u.Permissions {
		parts, ok := relativeParts(p.Path, virtualPath)
		if !ok {
			continue
		}
		if bestParts < 0 || parts < bestParts {
			best, bestParts = p, parts
		}
	}
	return best
}
