package ftp

import (
	"container/heap"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	"github.com/vk/ftpgo/internal/throttle"
)

// passiveListener accepts data connections for one session.
type passiveListener struct {
	ln        net.Listener
	port      int
	pool      *portPool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (p *passiveListener) close() {
	p.closeOnce.Do(func() {
		p.ln.Close()
		p.wg.Wait()
		if p.pool != nil {
			p.pool.release(p.port)
		}
	})
}

// ensurePassive starts the session's passive listener unless it is already
// running. The returned text is the first line of the PASV/EPSV reply.
func (c *conn) ensurePassive() (string, error) {
	if c.passive != nil {
		return "listen socket already exists", nil
	}

	var (
		ln   net.Listener
		port int
		err  error
	)
	if c.srv.dataPorts != nil {
		ln, port, err = c.srv.dataPorts.acquire(c.listenData)
	} else {
		ln, err = c.listenData(0)
	}
	if err != nil {
		return "", err
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}

	p := &passiveListener{ln: ln, port: port, pool: c.srv.dataPorts}
	p.wg.Add(1)
	go c.acceptData(p)
	c.passive = p

	c.logger.Debug("Passive listener started.", "address", ln.Addr().String())
	return "listen socket created", nil
}

func (c *conn) listenData(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(c.serverHost, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if c.srv.opts.TLSConfig != nil {
		ln = tls.NewListener(ln, c.srv.opts.TLSConfig)
	}
	return ln, nil
}

// acceptData keeps at most one pending data connection per session. Extra
// connections are closed right away.
func (c *conn) acceptData(p *passiveListener) {
	defer p.wg.Done()
	for {
		nc, err := p.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("Passive listener stopped.", "error", err)
			}
			return
		}
		data := throttle.NewConn(c.ctx, nc, c.control.Throttles(), c.srv.opts.SocketTimeout, c.srv.opts.SocketTimeout)
		if !c.setData(data) {
			c.logger.Debug("Data connection already pending, dropping new one.", "client", nc.RemoteAddr().String())
			nc.Close()
			continue
		}
		c.logger.Debug("Data connection accepted.", "client", nc.RemoteAddr().String())
	}
}

func (c *conn) cmdPasv(string) (bool, error) {
	info, err := c.ensurePassive()
	if errors.Is(err, ErrNoAvailablePort) {
		c.respond("421", "no free ports")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	addr, _ := c.passive.ln.Addr().(*net.TCPAddr)
	if addr == nil || addr.IP.To4() == nil {
		c.respond("503", "this server started in ipv6 mode")
		return false, nil
	}
	ip := addr.IP.To4()
	if forced := c.srv.opts.PassiveAddress; forced != "" {
		ip = net.ParseIP(forced).To4()
	}

	c.dropData()
	c.respond("227", info, fmt.Sprintf("(%d,%d,%d,%d,%d,%d)",
		ip[0], ip[1], ip[2], ip[3], addr.Port>>8, addr.Port&0xff))
	return true, nil
}

func (c *conn) cmdEpsv(arg string) (bool, error) {
	if arg != "" {
		// Unlike PASV failures this keeps the session open.
		c.respond("522", "custom protocols support not implemented")
		return true, nil
	}
	info, err := c.ensurePassive()
	if errors.Is(err, ErrNoAvailablePort) {
		c.respond("421", "no free ports")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.dropData()
	c.respond("229", fmt.Sprintf("%s (|||%d|)", info, c.passive.port))
	return true, nil
}

// portEntry is a data port with its priority. Ports that failed to bind get
// a higher priority value and are tried later.
type portEntry struct {
	priority int
	port     int
	seq      uint64
}

type portHeap []portEntry

func (h portHeap) Len() int { return len(h) }
func (h portHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h portHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *portHeap) Push(x any)   { *h = append(*h, x.(portEntry)) }
func (h *portHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// portPool hands out passive data ports from a fixed list.
type portPool struct {
	mu   sync.Mutex
	h    portHeap
	next uint64
}

func newPortPool(ports []int) *portPool {
	p := &portPool{}
	for _, port := range ports {
		p.put(0, port)
	}
	return p
}

func (p *portPool) put(priority, port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	heap.Push(&p.h, portEntry{priority: priority, port: port, seq: p.next})
}

func (p *portPool) get() (portEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.h.Len() == 0 {
		return portEntry{}, false
	}
	return heap.Pop(&p.h).(portEntry), true
}

// Len returns the number of free ports.
func (p *portPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.h.Len()
}

// acquire binds the best free port. Ports in use by other processes are
// pushed back with a worse priority. Seeing a port twice means every port
// has been tried.
func (p *portPool) acquire(listen func(port int) (net.Listener, error)) (net.Listener, int, error) {
	seen := make(map[int]bool)
	for {
		e, ok := p.get()
		if !ok {
			return nil, 0, ErrNoAvailablePort
		}
		if seen[e.port] {
			p.put(e.priority, e.port)
			return nil, 0, ErrNoAvailablePort
		}
		seen[e.port] = true

		ln, err := listen(e.port)
		if err == nil {
			return ln, e.port, nil
		}
		p.put(e.priority+1, e.port)
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, 0, err
		}
	}
}

func (p *portPool) release(port int) {
	p.put(0, port)
}
