package realtime

import (
	"log"
	"sync"
	"time"
)

// Conn is the minimal write side of a client socket. *websocket.Conn is
// wrapped to satisfy it; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Message is a JSON frame pushed to connected clients.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// userEntry holds one user's live connections. Each entry has its own lock so
// delivery to independent users never serializes.
type userEntry struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
}

// Registry tracks live connections per user and fans messages out to them.
// A send failure on one connection never blocks delivery to the others; the
// failing connection is pruned after the fan-out completes.
type Registry struct {
	mu    sync.RWMutex
	users map[uint]*userEntry
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[uint]*userEntry)}
}

// Register adds a connection to the user's set. Safe under concurrent calls;
// registering the same connection twice is a no-op.
func (r *Registry) Register(userID uint, conn Conn) {
	// The add happens under the map lock so a concurrent empty-entry prune
	// cannot orphan this connection.
	r.mu.Lock()
	entry, ok := r.users[userID]
	if !ok {
		entry = &userEntry{conns: make(map[Conn]struct{})}
		r.users[userID] = entry
	}
	entry.mu.Lock()
	entry.conns[conn] = struct{}{}
	count := len(entry.conns)
	entry.mu.Unlock()
	r.mu.Unlock()

	log.Printf("User %d opened a connection (now %d active)", userID, count)
}

// Unregister removes a connection from the user's set. Removing a connection
// that is already gone is a no-op. When the set becomes empty the user entry
// itself is dropped so mostly-offline users cost no memory.
func (r *Registry) Unregister(userID uint, conn Conn) {
	r.mu.RLock()
	entry, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	delete(entry.conns, conn)
	empty := len(entry.conns) == 0
	entry.mu.Unlock()

	if empty {
		r.removeIfEmpty(userID)
	}
}

// SendToUser writes the message, stamped with a delivery timestamp, to every
// live connection of the user. It returns true when at least one connection
// existed at the start of the call: "delivered" means a local target existed,
// not that every write succeeded. The registry cannot tell a transient write
// hiccup from a real disconnect except by the error itself, so it reports
// optimistically and reconciles by pruning the failed connections.
func (r *Registry) SendToUser(userID uint, msg Message) bool {
	r.mu.RLock()
	entry, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	entry.mu.Lock()
	if len(entry.conns) == 0 {
		entry.mu.Unlock()
		return false
	}
	var failed []Conn
	for conn := range entry.conns {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("Failed to send to user %d: %v", userID, err)
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		delete(entry.conns, conn)
		conn.Close()
	}
	empty := len(entry.conns) == 0
	entry.mu.Unlock()

	if empty {
		r.removeIfEmpty(userID)
	}
	return true
}

// Broadcast fans the message out to every connection of every user, with the
// same per-connection failure isolation as SendToUser.
func (r *Registry) Broadcast(msg Message) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	r.mu.RLock()
	targets := make(map[uint]*userEntry, len(r.users))
	for userID, entry := range r.users {
		targets[userID] = entry
	}
	r.mu.RUnlock()

	var emptied []uint
	for userID, entry := range targets {
		entry.mu.Lock()
		var failed []Conn
		for conn := range entry.conns {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("Failed to broadcast to user %d: %v", userID, err)
				failed = append(failed, conn)
			}
		}
		for _, conn := range failed {
			delete(entry.conns, conn)
			conn.Close()
		}
		if len(entry.conns) == 0 {
			emptied = append(emptied, userID)
		}
		entry.mu.Unlock()
	}

	for _, userID := range emptied {
		r.removeIfEmpty(userID)
	}
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID uint) int {
	r.mu.RLock()
	entry, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.conns)
}

// UserCount returns the number of users with at least one connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// removeIfEmpty drops the user's entry if its connection set is still empty.
// Re-checked under both locks because a Register may have raced in between.
func (r *Registry) removeIfEmpty(userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.users[userID]
	if !ok {
		return
	}
	entry.mu.Lock()
	if len(entry.conns) == 0 {
		delete(r.users, userID)
	}
	entry.mu.Unlock()
}
