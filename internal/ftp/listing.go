package ftp

import (
	"context"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// halfYear decides between the "recent" and "old" LIST time layouts.
const halfYear = 15778476 * time.Second

const (
	listRecentLayout = "Jan _2 15:04"
	listOldLayout    = "Jan _2  2006"
	mlsxTimeLayout   = "20060102150405"
)

var timeNow = time.Now

// fileDetails are stat fields fs.FileInfo does not expose portably.
type fileDetails struct {
	nlink uint64
	ctime time.Time
}

// listLine renders an "ls -l" style line for LIST.
func listLine(info fs.FileInfo, details fileDetails, now time.Time) string {
	return strings.Join([]string{
		fileMode(info.Mode()),
		strconv.FormatUint(details.nlink, 10),
		"none",
		"none",
		strconv.FormatInt(info.Size(), 10),
		listTime(info.ModTime(), now),
		info.Name(),
	}, " ")
}

func listTime(mtime, now time.Time) string {
	local := mtime.Local()
	if mtime.After(now.Add(-halfYear)) && !mtime.After(now) {
		return local.Format(listRecentLayout)
	}
	return local.Format(listOldLayout)
}

// fileMode formats m the way "ls -l" does, e.g. "drwxr-xr-x".
func fileMode(m fs.FileMode) string {
	var b [10]byte
	switch {
	case m&fs.ModeDir != 0:
		b[0] = 'd'
	case m&fs.ModeSymlink != 0:
		b[0] = 'l'
	case m&fs.ModeCharDevice != 0:
		b[0] = 'c'
	case m&fs.ModeDevice != 0:
		b[0] = 'b'
	case m&fs.ModeNamedPipe != 0:
		b[0] = 'p'
	case m&fs.ModeSocket != 0:
		b[0] = 's'
	default:
		b[0] = '-'
	}

	const rwx = "rwxrwxrwx"
	perm := m.Perm()
	for i := 0; i < 9; i++ {
		if perm&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}

	special := func(pos int, set bool, withExec, withoutExec byte) {
		if !set {
			return
		}
		if b[pos] == 'x' {
			b[pos] = withExec
		} else {
			b[pos] = withoutExec
		}
	}
	special(3, m&fs.ModeSetuid != 0, 's', 'S')
	special(6, m&fs.ModeSetgid != 0, 's', 'S')
	special(9, m&fs.ModeSticky != 0, 't', 'T')

	return string(b[:])
}

func mlsxTime(t time.Time) string {
	return t.UTC().Format(mlsxTimeLayout)
}

type fact struct {
	name, value string
}

// formatFacts renders MLSx facts as "k=v;k=v; name".
func formatFacts(facts []fact, name string) string {
	var sb strings.Builder
	for _, f := range facts {
		sb.WriteString(f.name)
		sb.WriteByte('=')
		sb.WriteString(f.value)
		sb.WriteByte(';')
	}
	sb.WriteByte(' ')
	sb.WriteString(name)
	return sb.String()
}

// mlsxLine builds the MLST/MLSD line for realPath. Size and times are only
// included for paths that exist.
func (c *conn) mlsxLine(ctx context.Context, realPath string) (string, error) {
	var facts []fact

	exists, err := c.pathIO.Exists(ctx, realPath)
	if err != nil {
		return "", err
	}
	if exists {
		info, err := c.pathIO.Stat(ctx, realPath)
		if err != nil {
			return "", err
		}
		details := statDetails(info)
		facts = append(facts,
			fact{"Size", strconv.FormatInt(info.Size(), 10)},
			fact{"Create", mlsxTime(details.ctime)},
			fact{"Modify", mlsxTime(info.ModTime())},
		)
	}

	kind, err := c.pathKind(ctx, realPath)
	if err != nil {
		return "", err
	}
	facts = append(facts, fact{"Type", kind})

	return formatFacts(facts, filepath.Base(realPath)), nil
}

func (c *conn) pathKind(ctx context.Context, realPath string) (string, error) {
	isFile, err := c.pathIO.IsFile(ctx, realPath)
	if err != nil || isFile {
		return "file", err
	}
	isDir, err := c.pathIO.IsDir(ctx, realPath)
	if err != nil || isDir {
		return "dir", err
	}
	return "unknown", nil
}
