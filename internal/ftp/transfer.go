package ftp

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/vk/ftpgo/internal/pathio"
	"github.com/vk/ftpgo/internal/throttle"
)

// worker is a running data transfer.
type worker struct {
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// transferFunc moves data over an accepted data connection.
type transferFunc func(ctx context.Context, data *throttle.Conn) error

// startTransfer runs fn in the background once the client has opened the
// data connection. doneCode and doneInfo are sent when fn succeeds. The
// caller must have already sent its preliminary reply.
func (c *conn) startTransfer(doneCode, doneInfo string, fn transferFunc) {
	ctx, cancel := context.WithCancel(c.ctx)
	w := &worker{cancel: cancel}

	c.workersMu.Lock()
	c.workers[w] = struct{}{}
	c.workersMu.Unlock()

	c.workersWG.Add(1)
	go func() {
		defer c.workersWG.Done()
		defer cancel()
		reply := c.runTransfer(ctx, w, doneCode, doneInfo, fn)

		// A worker is gone before its final reply goes out.
		c.workersMu.Lock()
		delete(c.workers, w)
		c.workersMu.Unlock()
		reply()
	}()
}

// runTransfer performs the transfer and returns the function that sends
// its final reply.
func (c *conn) runTransfer(ctx context.Context, w *worker, doneCode, doneInfo string, fn transferFunc) func() {
	data := c.takeData(ctx, c.srv.opts.WaitFutureTimeout)
	if data == nil {
		if ctx.Err() != nil {
			return func() { c.replyAborted(w) }
		}
		return func() { c.respond("425", "Can't open data connection") }
	}

	stop := context.AfterFunc(ctx, func() { data.Close() })
	err := fn(ctx, data)
	stop()
	data.Close()

	var pathErr *pathio.Error
	switch {
	case ctx.Err() != nil:
		return func() { c.replyAborted(w) }
	case errors.As(err, &pathErr):
		c.logger.Warn("File system error during transfer.", "error", err)
		return func() { c.respond("451", "file system error") }
	case err != nil:
		c.logger.Warn("Data connection failed.", "error", err)
		return func() { c.respond("426", "connection closed; transfer aborted") }
	default:
		return func() { c.respond(doneCode, doneInfo) }
	}
}

func (c *conn) replyAborted(w *worker) {
	if !w.aborted.Load() || c.ctx.Err() != nil {
		return
	}
	c.respond("426", "transfer aborted")
	c.respond("226", "abort successful")
}

// abortWorkers cancels every running transfer and returns how many there
// were. Only workers cancelled by ABOR report the abort to the client.
func (c *conn) abortWorkers(byClient bool) int {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	for w := range c.workers {
		if byClient {
			w.aborted.Store(true)
		}
		w.cancel()
	}
	return len(c.workers)
}

// copyBlocks copies src to dst in block sized chunks and reports the bytes
// to the observer.
func (c *conn) copyBlocks(dst io.Writer, src io.Reader, direction string) error {
	buf := make([]byte, c.srv.opts.BlockSize)
	var total uint64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			total += uint64(n)
			c.srv.opts.Observer.BytesTransferred(direction, int64(n))
		}
		if errors.Is(rerr, io.EOF) {
			c.logger.Debug("Transfer finished.", "direction", direction, "size", humanize.IBytes(total))
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// fileStream reports file errors as *pathio.Error so that they are told
// apart from data connection errors.
type fileStream struct {
	f    pathio.File
	path string
}

func (s fileStream) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &pathio.Error{Op: "read", Path: s.path, Err: err}
	}
	return n, err
}

func (s fileStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		err = &pathio.Error{Op: "write", Path: s.path, Err: err}
	}
	return n, err
}

func (s fileStream) seek(offset int64) error {
	if offset <= 0 {
		return nil
	}
	if _, err := s.f.Seek(offset, io.SeekStart); err != nil {
		return &pathio.Error{Op: "seek", Path: s.path, Err: err}
	}
	return nil
}

// takeRestartOffset returns the pending REST offset and clears it.
func (c *conn) takeRestartOffset() int64 {
	offset := c.restartOffset
	c.restartOffset = 0
	return offset
}

func (c *conn) cmdRetr(arg string) (bool, error) {
	realPath, _ := c.paths(arg)
	offset := c.takeRestartOffset()

	c.respond("150", "data transfer started")
	c.startTransfer("226", "data transfer done", func(ctx context.Context, data *throttle.Conn) error {
		f, err := c.pathIO.Open(ctx, realPath, pathio.ModeRead)
		if err != nil {
			return err
		}
		defer f.Close()

		in := fileStream{f: f, path: realPath}
		if err := in.seek(offset); err != nil {
			return err
		}
		return c.copyBlocks(data, in, DirectionDownload)
	})
	return true, nil
}

func (c *conn) cmdStor(arg string) (bool, error) {
	return c.store(arg, pathio.ModeWrite)
}

func (c *conn) cmdAppe(arg string) (bool, error) {
	return c.store(arg, pathio.ModeAppend)
}

func (c *conn) store(arg string, mode pathio.OpenMode) (bool, error) {
	realPath, _ := c.paths(arg)
	offset := c.takeRestartOffset()

	ok, err := c.parentIsDir(realPath)
	if err != nil {
		return true, err
	}
	if !ok {
		c.respond("550", "path unreachable")
		return true, nil
	}
	if offset > 0 {
		mode = pathio.ModeUpdate
	}

	c.respond("150", "data transfer started")
	c.startTransfer("226", "data transfer done", func(ctx context.Context, data *throttle.Conn) error {
		f, err := c.pathIO.Open(ctx, realPath, mode)
		if err != nil {
			return err
		}
		defer f.Close()

		out := fileStream{f: f, path: realPath}
		if err := out.seek(offset); err != nil {
			return err
		}
		if err := c.copyBlocks(out, data, DirectionUpload); err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return &pathio.Error{Op: "close", Path: realPath, Err: err}
		}
		return nil
	})
	return true, nil
}

func (c *conn) cmdList(arg string) (bool, error) {
	realPath, _ := c.paths(arg)

	c.respond("150", "list transfer started")
	c.startTransfer("226", "list transfer done", func(ctx context.Context, data *throttle.Conn) error {
		paths, err := c.listPaths(ctx, realPath)
		if err != nil {
			return err
		}
		for _, p := range paths {
			info, err := c.pathIO.Stat(ctx, p)
			if err != nil {
				c.logger.Warn("Listed path does not exist.", "path", p, "error", err)
				continue
			}
			if err := c.writeDataLine(data, listLine(info, statDetails(info), timeNow())); err != nil {
				return err
			}
		}
		return nil
	})
	return true, nil
}

func (c *conn) cmdMlsd(arg string) (bool, error) {
	realPath, _ := c.paths(arg)

	c.respond("150", "mlsd transfer started")
	c.startTransfer("200", "mlsd transfer done", func(ctx context.Context, data *throttle.Conn) error {
		paths, err := c.listPaths(ctx, realPath)
		if err != nil {
			return err
		}
		for _, p := range paths {
			line, err := c.mlsxLine(ctx, p)
			if err != nil {
				return err
			}
			if err := c.writeDataLine(data, line); err != nil {
				return err
			}
		}
		return nil
	})
	return true, nil
}

// listPaths returns the real paths of the entries of a directory, or the
// path itself when it is a file.
func (c *conn) listPaths(ctx context.Context, realPath string) ([]string, error) {
	isDir, err := c.pathIO.IsDir(ctx, realPath)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return []string{realPath}, nil
	}
	entries, err := c.pathIO.List(ctx, realPath)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(realPath, e.Name()))
	}
	return paths, nil
}

func (c *conn) writeDataLine(data io.Writer, line string) error {
	b, err := c.srv.codec.encode(line + endOfLine)
	if err != nil {
		return err
	}
	if _, err := data.Write(b); err != nil {
		return err
	}
	c.srv.opts.Observer.BytesTransferred(DirectionListing, int64(len(b)))
	return nil
}
