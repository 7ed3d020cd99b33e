package ftp

import "errors"

// ErrNoAvailablePort is returned when every configured data port is busy.
var ErrNoAvailablePort = errors.New("ftp: no available data port")
