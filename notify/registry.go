package notify

import "sync"

// Conn is the write side of a live client connection. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
}

// Registry maps user ids to their live connection. One connection per user;
// a reconnect replaces the previous handle.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	owners map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		owners: make(map[Conn]string),
	}
}

func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[userID]; ok {
		delete(r.owners, old)
	}
	r.conns[userID] = conn
	r.owners[conn] = userID
}

// Unregister drops the connection. It is keyed by the handle, not the user,
// so a stale disconnect cannot evict a newer connection of the same user.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.owners[conn]
	if !ok {
		return
	}
	delete(r.owners, conn)
	if r.conns[userID] == conn {
		delete(r.conns, userID)
	}
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

func (r *Registry) all() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
