package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no websocket session")

// WSSession wraps a single client connection. gorilla connections allow one
// concurrent writer, hence the mutex.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds connected passenger and driver sessions keyed by user id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// Send delivers v to one user. Fire-and-forget from the caller's view; a
// write error only drops this session.
func (r *WSRegistry) Send(userID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		r.logger.Warn("ws send failed", "user_id", userID, "error", err)
		return err
	}
	return nil
}

// SendEach delivers v to every listed user, skipping ones without a session.
func (r *WSRegistry) SendEach(userIDs []string, v any) {
	for _, id := range userIDs {
		_ = r.Send(id, v)
	}
}
