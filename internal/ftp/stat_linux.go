package ftp

import (
	"io/fs"
	"syscall"
	"time"
)

func statDetails(info fs.FileInfo) fileDetails {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileDetails{nlink: 1, ctime: info.ModTime()}
	}
	sec, nsec := st.Ctim.Unix()
	return fileDetails{nlink: uint64(st.Nlink), ctime: time.Unix(sec, nsec)}
}
