package ws

import (
	"encoding/json"
	"sync"
	"time"

	"muse-sync/internal/protocol"
	"muse-sync/pkg/auth"
)

// Session is one client's live connection: verified identity plus at
// most one room membership at a time. It implements room.Member; the
// registry holds it only as a broadcast target and never drives its
// lifecycle.
type Session struct {
	connID   string
	identity auth.Identity
	joinedAt time.Time
	conn     *Conn

	mu        sync.Mutex
	projectID string // empty until the first join-room
}

// NewSession binds a verified identity to a connection. The identity
// is immutable for the session's lifetime.
func NewSession(connID string, identity auth.Identity, conn *Conn) *Session {
	return &Session{connID: connID, identity: identity, joinedAt: time.Now().UTC(), conn: conn}
}

// ConnectionID returns the unique id of the underlying connection.
func (s *Session) ConnectionID() string { return s.connID }

// Identity returns the verified identity.
func (s *Session) Identity() auth.Identity { return s.identity }

// Send marshals and queues a message without blocking. Returns false
// if the peer's buffer was full and the frame was skipped.
func (s *Session) Send(msg protocol.Outbound) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return s.conn.Queue(b)
}

// Project returns the room the session currently belongs to, empty if
// none.
func (s *Session) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// SwitchProject records a new room membership and returns the previous
// one. A session holds a single room reference, so a second join can
// only happen after the caller has left the returned room.
func (s *Session) SwitchProject(projectID string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.projectID
	s.projectID = projectID
	return previous
}
