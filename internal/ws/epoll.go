//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll multiplexes read readiness for all client sockets through a single
// kernel epoll instance, so the server needs one event-loop goroutine instead
// of a reader goroutine per connection.
type Epoll struct {
	fd    int
	mu    sync.RWMutex
	byFd  map[int]net.Conn
	evbuf []unix.EpollEvent // reused across Wait calls, grown on full batches
}

// NewEpoll creates an epoll instance via epoll_create1.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:    fd,
		byFd:  make(map[int]net.Conn),
		evbuf: make([]unix.EpollEvent, 128),
	}, nil
}

// Add puts the connection's socket on the epoll interest list. EPOLLRDHUP is
// included so a peer half-close wakes the event loop and the read path can
// observe the error and remove the connection.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFd[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove takes the connection's socket off the interest list. Removing a
// socket that was never added (or was added twice for the same user) returns
// the kernel's error; callers treat that as best-effort cleanup.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)

	e.mu.Lock()
	delete(e.byFd, fd)
	e.mu.Unlock()

	return unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered socket is readable and returns
// the corresponding connections. Sockets removed between the kernel wakeup
// and the map lookup are skipped. When the kernel fills the whole event
// buffer the buffer is doubled for the next call.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.evbuf, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.byFd[int(e.evbuf[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()

	if n == len(e.evbuf) {
		e.evbuf = make([]unix.EpollEvent, len(e.evbuf)*2)
	}
	return conns, nil
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byFd = nil
	return unix.Close(e.fd)
}

// socketFD extracts the file descriptor from a net.Conn through the
// SyscallConn interface. Unlike File(), this does not dup the descriptor, so
// the fd stays valid for epoll registration against the live socket.
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
