package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/pixelsync/pkg/model"
)

// SessionRegistry tracks one session per live connection, indexed by the
// connection handle and by session id.
type SessionRegistry struct {
	mu     sync.RWMutex
	byConn map[Conn]*model.Session
	byID   map[string]Conn
	now    func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byConn: make(map[Conn]*model.Session),
		byID:   make(map[string]Conn),
		now:    time.Now,
	}
}

// Register creates a session for conn with a fresh id and default state.
// Registering the same conn twice returns the existing session.
func (sr *SessionRegistry) Register(conn Conn) model.Session {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if s, ok := sr.byConn[conn]; ok {
		return s.Clone()
	}

	now := sr.now()
	s := &model.Session{
		ID:          uuid.NewString(),
		Health:      model.DefaultHealth,
		ConnectedAt: now,
		LastSeen:    now,
	}
	sr.byConn[conn] = s
	sr.byID[s.ID] = conn
	return s.Clone()
}

// Unregister removes conn's session and returns its last state.
// It is idempotent: a second call reports false.
func (sr *SessionRegistry) Unregister(conn Conn) (model.Session, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	s, ok := sr.byConn[conn]
	if !ok {
		return model.Session{}, false
	}
	delete(sr.byConn, conn)
	delete(sr.byID, s.ID)
	return s.Clone(), true
}

// Get returns a snapshot of conn's session.
func (sr *SessionRegistry) Get(conn Conn) (model.Session, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	s, ok := sr.byConn[conn]
	if !ok {
		return model.Session{}, false
	}
	return s.Clone(), true
}

// ByID returns a snapshot of the session with the given id.
func (sr *SessionRegistry) ByID(id string) (model.Session, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	conn, ok := sr.byID[id]
	if !ok {
		return model.Session{}, false
	}
	return sr.byConn[conn].Clone(), true
}

// Conn returns the connection owning session id.
func (sr *SessionRegistry) Conn(id string) (Conn, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	conn, ok := sr.byID[id]
	return conn, ok
}

// Count returns the number of live sessions.
func (sr *SessionRegistry) Count() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.byConn)
}

// All returns a snapshot of every session.
func (sr *SessionRegistry) All() []model.Session {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]model.Session, 0, len(sr.byConn))
	for _, s := range sr.byConn {
		out = append(out, s.Clone())
	}
	return out
}

// Conns returns every live connection except exclude (may be nil).
func (sr *SessionRegistry) Conns(exclude Conn) []Conn {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]Conn, 0, len(sr.byConn))
	for c := range sr.byConn {
		if c != exclude {
			out = append(out, c)
		}
	}
	return out
}

// SetName sets the display name, completing the handshake.
func (sr *SessionRegistry) SetName(conn Conn, name string) (model.Session, bool) {
	return sr.Update(conn, func(s *model.Session) { s.DisplayName = name })
}

// Update applies fn to conn's session under the registry lock and returns
// the resulting snapshot. fn must not call back into the registry.
func (sr *SessionRegistry) Update(conn Conn, fn func(s *model.Session)) (model.Session, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s, ok := sr.byConn[conn]
	if !ok {
		return model.Session{}, false
	}
	fn(s)
	return s.Clone(), true
}

// has reports whether session id is still registered.
func (sr *SessionRegistry) has(id string) bool {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	_, ok := sr.byID[id]
	return ok
}

// setRoom mirrors a room membership change. Called by RoomRegistry while it
// holds its own lock (lock order: rooms, then sessions).
func (sr *SessionRegistry) setRoom(id, roomID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	conn, ok := sr.byID[id]
	if !ok {
		return
	}
	s := sr.byConn[conn]
	s.RoomID = roomID
	s.InRoom = roomID != ""
}

// Touch records inbound activity on conn.
func (sr *SessionRegistry) Touch(conn Conn) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if s, ok := sr.byConn[conn]; ok {
		s.LastSeen = sr.now()
	}
}

// Idle returns connections whose last inbound frame is older than cutoff.
func (sr *SessionRegistry) Idle(cutoff time.Time) []Conn {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	var out []Conn
	for c, s := range sr.byConn {
		if s.LastSeen.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}
