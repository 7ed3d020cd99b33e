//go:build !linux

package ftp

import "io/fs"

func statDetails(info fs.FileInfo) fileDetails {
	return fileDetails{nlink: 1, ctime: info.ModTime()}
}
