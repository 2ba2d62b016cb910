//go:build !linux

package ws

import (
	"net"
	"sync"
	"syscall"
	"time"
)

// Poller is the portable fallback for platforms without epoll. Each
// connection gets a watcher goroutine that waits for readability through the
// runtime netpoller without consuming bytes, reports the connection once, and
// waits for Rearm before watching again.
type Poller struct {
	mu      sync.Mutex
	watched map[net.Conn]*watch
	ready   chan net.Conn
	done    chan struct{}
	once    sync.Once
}

type watch struct {
	resume chan struct{}
	stop   chan struct{}
}

// NewPoller creates a fallback poller.
func NewPoller() (*Poller, error) {
	return &Poller{
		watched: make(map[net.Conn]*watch),
		ready:   make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching conn.
func (p *Poller) Add(conn net.Conn) error {
	w := &watch{resume: make(chan struct{}, 1), stop: make(chan struct{})}
	p.mu.Lock()
	p.watched[conn] = w
	p.mu.Unlock()

	go p.watch(conn, w)
	return nil
}

func (p *Poller) watch(conn net.Conn, w *watch) {
	for {
		waitReadable(conn)

		select {
		case p.ready <- conn:
		case <-w.stop:
			return
		case <-p.done:
			return
		}

		select {
		case <-w.resume:
		case <-w.stop:
			return
		case <-p.done:
			return
		}
	}
}

// waitReadable blocks until conn has data or is closed. Connections that do
// not expose a raw descriptor are reported immediately and the server's read
// deadline bounds the subsequent read.
func waitReadable(conn net.Conn) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		time.Sleep(10 * time.Millisecond)
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}
	first := true
	_ = raw.Read(func(uintptr) bool {
		if first {
			first = false
			return false
		}
		return true
	})
}

// Remove stops watching conn.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	w, ok := p.watched[conn]
	delete(p.watched, conn)
	p.mu.Unlock()
	if ok {
		close(w.stop)
	}
	return nil
}

// Rearm lets the watcher for conn report it again.
func (p *Poller) Rearm(conn net.Conn) {
	p.mu.Lock()
	w, ok := p.watched[conn]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Wait blocks until at least one connection is ready, draining any others
// that are ready at the same time.
func (p *Poller) Wait() ([]net.Conn, error) {
	select {
	case first := <-p.ready:
		conns := []net.Conn{first}
		for {
			select {
			case c := <-p.ready:
				conns = append(conns, c)
			default:
				return conns, nil
			}
		}
	case <-p.done:
		return nil, net.ErrClosed
	case <-time.After(500 * time.Millisecond):
		return nil, nil
	}
}

// Close stops every watcher.
func (p *Poller) Close() error {
	p.once.Do(func() { close(p.done) })
	p.mu.Lock()
	p.watched = make(map[net.Conn]*watch)
	p.mu.Unlock()
	return nil
}

// socketFD is not needed by the fallback poller.
func socketFD(net.Conn) int {
	return -1
}
