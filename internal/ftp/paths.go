package ftp

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/ftpgo/internal/pathio"
)

// resolvePaths maps a client supplied path to its real and virtual form.
// Relative paths are joined to cwd, ".." never climbs above "/", and a real
// path that escapes base is clamped to base itself.
func resolvePaths(base, cwd, arg string) (realPath, virtualPath string) {
	virtualPath = arg
	if !path.IsAbs(virtualPath) {
		virtualPath = path.Join(cwd, virtualPath)
	}
	virtualPath = path.Clean("/" + virtualPath)

	realPath = pathio.Join(base, strings.TrimPrefix(virtualPath, "/"))
	if rel, err := filepath.Rel(filepath.Clean(base), realPath); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Clean(base), "/"
	}
	return realPath, virtualPath
}

// paths resolves arg against the session's user and working directory.
func (c *conn) paths(arg string) (realPath, virtualPath string) {
	return resolvePaths(c.user.BasePath, c.cwd, arg)
}
