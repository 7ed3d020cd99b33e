// Package pathio is the filesystem layer of the FTP server. It exposes the
// handful of path operations the command handlers need and hides whether
// the files live on disk or in memory.
//
// Every failure is reported as *Error so that the server can answer with a
// generic "file system error" reply instead of dropping the session.
package pathio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// OpenMode selects how File is opened.
type OpenMode int

const (
	// ModeRead opens an existing file for reading.
	ModeRead OpenMode = iota
	// ModeWrite creates or truncates a file for writing.
	ModeWrite
	// ModeAppend creates a file or appends to the existing one.
	ModeAppend
	// ModeUpdate opens a file for writing at an arbitrary offset without
	// truncating it. Used for restarted uploads.
	ModeUpdate
)

func (m OpenMode) flags() int {
	switch m {
	case ModeWrite:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeUpdate:
		return os.O_WRONLY | os.O_CREATE
	default:
		return os.O_RDONLY
	}
}

// File is an open file handle.
type File interface {
	io.ReadWriteSeeker
	io.Closer
}

// PathIO is the set of filesystem operations used by the server. All paths
// are real (backend) paths.
type PathIO interface {
	Exists(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
	IsFile(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string, parents bool) error
	Rmdir(ctx context.Context, path string) error
	Unlink(ctx context.Context, path string) error
	List(ctx context.Context, path string) ([]fs.FileInfo, error)
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
	Open(ctx context.Context, path string, mode OpenMode) (File, error)
	Rename(ctx context.Context, from, to string) error
	Size(ctx context.Context, path string) (int64, error)
}

// Factory creates a PathIO bound to a path timeout. A zero timeout disables it.
type Factory func(timeout time.Duration) PathIO

// Error wraps a failed filesystem operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pathio %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AferoPathIO implements PathIO on top of an afero.Fs.
type AferoPathIO struct {
	fs      afero.Fs
	timeout time.Duration
}

// New returns a PathIO backed by fsys.
func New(fsys afero.Fs, timeout time.Duration) *AferoPathIO {
	return &AferoPathIO{fs: fsys, timeout: timeout}
}

// OSFactory returns a factory for the host filesystem.
func OSFactory() Factory {
	fsys := afero.NewOsFs()
	return func(timeout time.Duration) PathIO {
		return New(fsys, timeout)
	}
}

// MemoryFactory returns a factory whose PathIO instances all share one
// in-memory filesystem.
func MemoryFactory(fsys afero.Fs) Factory {
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	return func(timeout time.Duration) PathIO {
		return New(fsys, timeout)
	}
}

// Fs exposes the underlying afero filesystem.
func (p *AferoPathIO) Fs() afero.Fs {
	return p.fs
}

type result[T any] struct {
	value T
	err   error
}

// run executes op under the path timeout. The operation itself cannot be
// interrupted. On timeout its result is handed to discard once it arrives.
func run[T any](ctx context.Context, p *AferoPathIO, opName, path string, op func() (T, error), discard func(T)) (T, error) {
	var zero T
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return zero, &Error{Op: opName, Path: path, Err: err}
	}

	done := make(chan result[T], 1)
	go func() {
		v, err := op()
		done <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return zero, &Error{Op: opName, Path: path, Err: r.err}
		}
		return r.value, nil
	case <-ctx.Done():
		if discard != nil {
			go func() {
				if r := <-done; r.err == nil {
					discard(r.value)
				}
			}()
		}
		return zero, &Error{Op: opName, Path: path, Err: ctx.Err()}
	}
}

// runErr is run for operations without a result.
func (p *AferoPathIO) runErr(ctx context.Context, opName, path string, op func() error) error {
	_, err := run(ctx, p, opName, path, func() (struct{}, error) {
		return struct{}{}, op()
	}, nil)
	return err
}

// Exists reports whether path exists.
func (p *AferoPathIO) Exists(ctx context.Context, path string) (bool, error) {
	return run(ctx, p, "exists", path, func() (bool, error) {
		return afero.Exists(p.fs, path)
	}, nil)
}

// IsDir reports whether path is an existing directory.
func (p *AferoPathIO) IsDir(ctx context.Context, path string) (bool, error) {
	return run(ctx, p, "is_dir", path, func() (bool, error) {
		info, err := p.fs.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return info.IsDir(), nil
	}, nil)
}

// IsFile reports whether path is an existing regular file.
func (p *AferoPathIO) IsFile(ctx context.Context, path string) (bool, error) {
	return run(ctx, p, "is_file", path, func() (bool, error) {
		info, err := p.fs.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return info.Mode().IsRegular(), nil
	}, nil)
}

// Mkdir creates a directory, and its parents when asked to.
func (p *AferoPathIO) Mkdir(ctx context.Context, path string, parents bool) error {
	return p.runErr(ctx, "mkdir", path, func() error {
		if parents {
			return p.fs.MkdirAll(path, 0o755)
		}
		return p.fs.Mkdir(path, 0o755)
	})
}

// Rmdir removes an empty directory.
func (p *AferoPathIO) Rmdir(ctx context.Context, path string) error {
	return p.runErr(ctx, "rmdir", path, func() error {
		entries, err := afero.ReadDir(p.fs, path)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return fmt.Errorf("directory not empty")
		}
		return p.fs.Remove(path)
	})
}

// Unlink removes a file.
func (p *AferoPathIO) Unlink(ctx context.Context, path string) error {
	return p.runErr(ctx, "unlink", path, func() error {
		return p.fs.Remove(path)
	})
}

// List returns the entries of a directory sorted by name.
func (p *AferoPathIO) List(ctx context.Context, path string) ([]fs.FileInfo, error) {
	entries, err := run(ctx, p, "list", path, func() ([]fs.FileInfo, error) {
		info, err := p.fs.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			// Listing a file yields the file itself.
			return []fs.FileInfo{info}, nil
		}
		return afero.ReadDir(p.fs, path)
	}, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Stat returns file info for path.
func (p *AferoPathIO) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return run(ctx, p, "stat", path, func() (fs.FileInfo, error) {
		return p.fs.Stat(path)
	}, nil)
}

// Open opens path with the given mode. A file that opens only after the
// timeout is closed.
func (p *AferoPathIO) Open(ctx context.Context, path string, mode OpenMode) (File, error) {
	f, err := run(ctx, p, "open", path, func() (afero.File, error) {
		return p.fs.OpenFile(path, mode.flags(), 0o644)
	}, func(late afero.File) {
		_ = late.Close()
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Rename moves from to to.
func (p *AferoPathIO) Rename(ctx context.Context, from, to string) error {
	return p.runErr(ctx, "rename", from, func() error {
		return p.fs.Rename(from, to)
	})
}

// Size returns the size of a file in bytes.
func (p *AferoPathIO) Size(ctx context.Context, path string) (int64, error) {
	info, err := p.Stat(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Join joins a base directory and a slash-separated relative path into a
// real path for the host.
func Join(base, rel string) string {
	return filepath.Join(base, filepath.FromSlash(rel))
}
