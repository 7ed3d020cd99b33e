package ftp

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/ftpgo/internal/auth"
	"github.com/vk/ftpgo/internal/pathio"
	"github.com/vk/ftpgo/internal/throttle"
)

type handlerFunc func(c *conn, arg string) (keepOpen bool, err error)

// command is a handler together with the checks that guard it. Checks run
// in the order: requirements, path conditions, permissions.
type command struct {
	handler  handlerFunc
	requires []requirement
	paths    []pathCondition
	access   []access
	// normalize rewrites the argument before any check sees it.
	normalize func(string) string
}

type requirement struct {
	message   string
	satisfied func(c *conn) bool
}

var (
	userRequired = requirement{"no user (use USER firstly)", func(c *conn) bool {
		return c.user != nil
	}}
	loginRequired = requirement{"not logged in", func(c *conn) bool {
		return c.loggedIn
	}}
	passiveStarted = requirement{"no listen socket created (use PASV firstly)", func(c *conn) bool {
		return c.passive != nil
	}}
	renameFromRequired = requirement{"no filename (use RNFR firstly)", func(c *conn) bool {
		return c.renameFromSet
	}}
)

type pathCondition struct {
	message string
	check   func(ctx context.Context, p pathio.PathIO, realPath string) (bool, error)
}

var (
	pathMustExist = pathCondition{"path does not exists", func(ctx context.Context, p pathio.PathIO, realPath string) (bool, error) {
		return p.Exists(ctx, realPath)
	}}
	pathMustNotExist = pathCondition{"path already exists", func(ctx context.Context, p pathio.PathIO, realPath string) (bool, error) {
		exists, err := p.Exists(ctx, realPath)
		return !exists, err
	}}
	pathMustBeDir = pathCondition{"path is not a directory", func(ctx context.Context, p pathio.PathIO, realPath string) (bool, error) {
		return p.IsDir(ctx, realPath)
	}}
	pathMustBeFile = pathCondition{"path is not a file", func(ctx context.Context, p pathio.PathIO, realPath string) (bool, error) {
		return p.IsFile(ctx, realPath)
	}}
)

type access func(p auth.Permission) bool

func readable(p auth.Permission) bool { return p.Readable }
func writable(p auth.Permission) bool { return p.Writable }

func (cmd *command) run(c *conn, arg string) (bool, error) {
	if cmd.normalize != nil {
		arg = cmd.normalize(arg)
	}
	for _, r := range cmd.requires {
		if !r.satisfied(c) {
			c.respond("503", r.message)
			return true, nil
		}
	}
	if len(cmd.paths) > 0 || len(cmd.access) > 0 {
		realPath, virtualPath := c.paths(arg)
		for _, pc := range cmd.paths {
			ok, err := pc.check(c.ctx, c.pathIO, realPath)
			if err != nil {
				return true, err
			}
			if !ok {
				c.respond("550", pc.message)
				return true, nil
			}
		}
		perm := c.user.Permission(virtualPath)
		for _, allowed := range cmd.access {
			if !allowed(perm) {
				c.respond("550", "permission denied")
				return true, nil
			}
		}
	}
	return cmd.handler(c, arg)
}

func (s *Server) commandTable() map[string]*command {
	login := []requirement{loginRequired}
	transfer := []requirement{loginRequired, passiveStarted}
	return map[string]*command{
		"user": {handler: (*conn).cmdUser},
		"pass": {handler: (*conn).cmdPass, requires: []requirement{userRequired}},
		"quit": {handler: (*conn).cmdQuit},
		"pwd":  {handler: (*conn).cmdPwd, requires: login},
		"cwd": {
			handler:  (*conn).cmdCwd,
			requires: login,
			paths:    []pathCondition{pathMustExist, pathMustBeDir},
			access:   []access{readable},
		},
		"cdup": {handler: (*conn).cmdCdup, requires: login},
		"mkd": {
			handler:  (*conn).cmdMkd,
			requires: login,
			paths:    []pathCondition{pathMustNotExist},
			access:   []access{writable},
		},
		"rmd": {
			handler:  (*conn).cmdRmd,
			requires: login,
			paths:    []pathCondition{pathMustExist, pathMustBeDir},
			access:   []access{writable},
		},
		"mlsd": {
			handler:  (*conn).cmdMlsd,
			requires: transfer,
			paths:    []pathCondition{pathMustExist},
			access:   []access{readable},
		},
		"list": {
			handler:   (*conn).cmdList,
			requires:  transfer,
			paths:     []pathCondition{pathMustExist},
			access:    []access{readable},
			normalize: stripListFlags,
		},
		"mlst": {
			handler:  (*conn).cmdMlst,
			requires: login,
			paths:    []pathCondition{pathMustExist},
			access:   []access{readable},
		},
		"rnfr": {
			handler:  (*conn).cmdRnfr,
			requires: login,
			paths:    []pathCondition{pathMustExist},
			access:   []access{writable},
		},
		"rnto": {
			handler:  (*conn).cmdRnto,
			requires: []requirement{loginRequired, renameFromRequired},
			paths:    []pathCondition{pathMustNotExist},
			access:   []access{writable},
		},
		"dele": {
			handler:  (*conn).cmdDele,
			requires: login,
			paths:    []pathCondition{pathMustExist, pathMustBeFile},
			access:   []access{writable},
		},
		"size": {
			handler:  (*conn).cmdSize,
			requires: login,
			paths:    []pathCondition{pathMustExist, pathMustBeFile},
		},
		"noop": {handler: (*conn).cmdNoop, requires: login},
		"stor": {
			handler:  (*conn).cmdStor,
			requires: transfer,
			access:   []access{writable},
		},
		"appe": {
			handler:  (*conn).cmdAppe,
			requires: transfer,
			access:   []access{writable},
		},
		"retr": {
			handler:  (*conn).cmdRetr,
			requires: transfer,
			paths:    []pathCondition{pathMustExist, pathMustBeFile},
			access:   []access{readable},
		},
		"type": {handler: (*conn).cmdType, requires: login},
		"pbsz": {handler: (*conn).cmdPbsz, requires: login},
		"prot": {handler: (*conn).cmdProt, requires: login},
		"pasv": {handler: (*conn).cmdPasv, requires: login},
		"epsv": {handler: (*conn).cmdEpsv, requires: login},
		"abor": {handler: (*conn).cmdAbor, requires: login},
		"rest": {handler: (*conn).cmdRest},
		"syst": {handler: (*conn).cmdSyst},
	}
}

// stripListFlags drops leading "-la" style options some clients send.
func stripListFlags(arg string) string {
	arg = strings.TrimLeft(arg, " ")
	for strings.HasPrefix(arg, "-") {
		_, arg, _ = strings.Cut(arg, " ")
		arg = strings.TrimLeft(arg, " ")
	}
	return arg
}

func (c *conn) cmdUser(arg string) (bool, error) {
	if c.user != nil {
		c.srv.users.NotifyLogout(c.ctx, c.user)
	}
	c.user, c.loggedIn = nil, false

	state, user, info := c.srv.users.GetUser(c.ctx, arg)
	var code string
	switch state {
	case auth.OK:
		code = "230"
		c.user, c.loggedIn = user, true
	case auth.PasswordRequired:
		code = "331"
		c.user = user
	default:
		code = "530"
	}

	if c.user != nil {
		c.cwd = c.user.HomePath
		set := c.control.Throttles()
		set.Put(throttle.UserGlobal, c.srv.userThrottle(c.user))
		set.Put(throttle.UserPerConnection, throttle.FromLimits(
			c.user.ReadSpeedLimitPerConnection,
			c.user.WriteSpeedLimitPerConnection,
		))
	}
	switch state {
	case auth.OK:
		c.srv.opts.Observer.Login(true)
		c.logger.Info("User logged in.", "user", c.user.Name())
	case auth.Error:
		c.srv.opts.Observer.Login(false)
		c.logger.Info("Login refused.", "login", arg, "reason", info)
	}

	c.respond(code, info)
	return true, nil
}

func (c *conn) cmdPass(arg string) (bool, error) {
	switch {
	case c.loggedIn:
		c.respond("503", "already logged in")
	case c.srv.users.Authenticate(c.ctx, c.user, arg):
		c.loggedIn = true
		c.srv.opts.Observer.Login(true)
		c.logger.Info("User logged in.", "user", c.user.Name())
		c.respond("230", "normal login")
	default:
		c.srv.opts.Observer.Login(false)
		c.logger.Info("Wrong password.", "user", c.user.Name())
		c.respond("530", "wrong password")
	}
	return true, nil
}

func (c *conn) cmdQuit(string) (bool, error) {
	c.respond("221", "bye")
	return false, nil
}

func (c *conn) cmdPwd(string) (bool, error) {
	c.respond("257", `"`+c.cwd+`"`)
	return true, nil
}

func (c *conn) cmdCwd(arg string) (bool, error) {
	_, virtualPath := c.paths(arg)
	c.cwd = virtualPath
	c.respond("250", "")
	return true, nil
}

func (c *conn) cmdCdup(string) (bool, error) {
	return c.srv.commands["cwd"].run(c, path.Dir(c.cwd))
}

func (c *conn) cmdMkd(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	if err := c.pathIO.Mkdir(c.ctx, realPath, true); err != nil {
		return true, err
	}
	c.respond("257", "")
	return true, nil
}

func (c *conn) cmdRmd(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	if err := c.pathIO.Rmdir(c.ctx, realPath); err != nil {
		return true, err
	}
	c.respond("250", "")
	return true, nil
}

func (c *conn) cmdMlst(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	line, err := c.mlsxLine(c.ctx, realPath)
	if err != nil {
		return true, err
	}
	c.respondList("250", "start", []string{line}, "end")
	return true, nil
}

func (c *conn) cmdRnfr(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	c.renameFrom, c.renameFromSet = realPath, true
	c.respond("350", "rename from accepted")
	return true, nil
}

func (c *conn) cmdRnto(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	from := c.renameFrom
	c.renameFrom, c.renameFromSet = "", false
	if err := c.pathIO.Rename(c.ctx, from, realPath); err != nil {
		return true, err
	}
	c.respond("250", "")
	return true, nil
}

func (c *conn) cmdDele(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	if err := c.pathIO.Unlink(c.ctx, realPath); err != nil {
		return true, err
	}
	c.respond("250", "")
	return true, nil
}

func (c *conn) cmdSize(arg string) (bool, error) {
	if c.transferType == "A" {
		c.respond("550", "SIZE not allowed in ASCII mode")
		return true, nil
	}
	realPath, _ := c.paths(arg)
	size, err := c.pathIO.Size(c.ctx, realPath)
	if err != nil {
		return true, err
	}
	c.respond("213", strconv.FormatInt(size, 10))
	return true, nil
}

func (c *conn) cmdNoop(string) (bool, error) {
	c.respond("200", "I successfully did nothing")
	return true, nil
}

func (c *conn) cmdType(arg string) (bool, error) {
	if arg != "I" && arg != "A" {
		c.respond("502", fmt.Sprintf("type '%s' not implemented", arg))
		return true, nil
	}
	c.transferType = arg
	c.respond("200", "")
	return true, nil
}

func (c *conn) cmdPbsz(string) (bool, error) {
	c.respond("200", "")
	return true, nil
}

func (c *conn) cmdProt(arg string) (bool, error) {
	if arg == "P" {
		c.respond("200", "")
	} else {
		c.respond("502", "")
	}
	return true, nil
}

func (c *conn) cmdAbor(string) (bool, error) {
	if c.abortWorkers(true) == 0 {
		c.respond("226", "nothing to abort")
	}
	return true, nil
}

func (c *conn) cmdRest(arg string) (bool, error) {
	offset, ok := parseOffset(arg)
	if !ok {
		c.restartOffset = 0
		c.respond("501", fmt.Sprintf("syntax error, can't restart at '%s'", arg))
		return true, nil
	}
	c.restartOffset = offset
	c.respond("350", "restarting at "+arg)
	return true, nil
}

// parseOffset accepts a non-empty string of ASCII digits.
func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *conn) cmdSyst(string) (bool, error) {
	c.respond("215", "UNIX Type: L8")
	return true, nil
}

// parentIsDir reports whether the directory that would hold realPath exists.
func (c *conn) parentIsDir(realPath string) (bool, error) {
	return c.pathIO.IsDir(c.ctx, filepath.Dir(realPath))
}
