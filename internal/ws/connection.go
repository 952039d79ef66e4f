package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection bound to an
// authenticated user, with a write mutex for serializing outbound frames.
type Connection struct {
	UserID     string       // user identity supplied at upgrade time
	Conn       net.Conn     // underlying TCP connection
	Fd         int          // file descriptor for epoll lookups
	CreatedAt  time.Time    // when the connection was established
	lastActive atomic.Int64 // unix nanos of the last frame received from the client
	writeMu    sync.Mutex   // serializes writes to this connection
	processing int32        // atomic flag: 0 = idle, 1 = being read by handleConn
}

// Touch records client activity. Called by the read workers; the heartbeat
// goroutine reads the timestamp concurrently, hence the atomic.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when the client last sent a frame.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection, serialized with application writes by the write mutex.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry mapping user ids and file
// descriptors to their Connection objects, with O(1) lookups by both.
// A user has at most one live connection; a newer connection for the same
// user replaces the older one.
type ConnectionManager struct {
	mu     sync.RWMutex
	byUser map[string]*Connection // user_id -> Connection
	byFd   map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byUser: make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
	}
}

// Add registers a connection in both lookup maps. If the user already had a
// connection, the previous one is returned so the caller can evict it.
func (cm *ConnectionManager) Add(conn *Connection) (replaced *Connection) {
	cm.mu.Lock()
	if prev, ok := cm.byUser[conn.UserID]; ok && prev != conn {
		delete(cm.byFd, prev.Fd)
		replaced = prev
	}
	cm.byUser[conn.UserID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
	return replaced
}

// Remove removes a connection by user id, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(userID string) bool {
	cm.mu.Lock()
	conn, ok := cm.byUser[userID]
	if ok {
		delete(cm.byUser, userID)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// RemoveByFd removes a connection by file descriptor, closes the underlying
// network connection, and removes it from both lookup maps. It returns the
// removed connection, or nil if no connection was registered for that fd.
func (cm *ConnectionManager) RemoveByFd(fd int) *Connection {
	cm.mu.Lock()
	conn, ok := cm.byFd[fd]
	if ok {
		delete(cm.byFd, fd)
		// Only drop the user mapping if it still points at this connection;
		// the user may have reconnected in the meantime.
		if cur, found := cm.byUser[conn.UserID]; found && cur == conn {
			delete(cm.byUser, conn.UserID)
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
		return conn
	}
	return nil
}

// Get returns the connection for the given user id, or nil if not found.
func (cm *ConnectionManager) Get(userID string) *Connection {
	cm.mu.RLock()
	conn := cm.byUser[userID]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byUser)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byUser))
	for _, conn := range cm.byUser {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
