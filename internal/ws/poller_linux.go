//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitTimeoutMs bounds each epoll_wait so the event loop can observe shutdown.
const waitTimeoutMs = 500

// Poller reports read readiness of registered connections using Linux epoll,
// so idle connections cost no goroutine.
type Poller struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]net.Conn // fd -> conn
	fds    map[net.Conn]int // conn -> fd, kept so Remove works after close
	events []unix.EpollEvent
}

// NewPoller creates a new epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		fds:    make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers conn for EPOLLIN/EPOLLHUP notifications.
func (p *Poller) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return syscall.EINVAL
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[fd] = conn
	p.fds[conn] = fd
	p.mu.Unlock()
	return nil
}

// Remove unregisters conn.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	fd, ok := p.fds[conn]
	if ok {
		delete(p.fds, conn)
		delete(p.conns, fd)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Rearm is a no-op: epoll is level-triggered, so a connection with unread
// data is reported again on the next Wait.
func (p *Poller) Rearm(net.Conn) {}

// Wait blocks until registered connections are readable or the wait times
// out, in which case it returns an empty slice.
func (p *Poller) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, waitTimeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	p.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.conns[int(p.events[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	p.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll descriptor.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.conns = make(map[int]net.Conn)
	p.fds = make(map[net.Conn]int)
	p.mu.Unlock()
	return unix.Close(p.fd)
}

// socketFD extracts the descriptor through SyscallConn without duplicating
// it, so the fd registered with epoll stays the one the runtime uses.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
