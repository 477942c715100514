package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	userID    int64
	expiresAt time.Time
}

// Sessions maps opaque tokens to user ids. Expired entries are dropped when
// looked up and on every Create.
type Sessions struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]session
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]session),
	}
}

func (s *Sessions) Create(userID int64) (token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for tok, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, tok)
		}
	}
	token = uuid.NewString()
	expiresAt = now.Add(s.ttl)
	s.sessions[token] = session{userID: userID, expiresAt: expiresAt}
	return token, expiresAt
}

func (s *Sessions) Lookup(token string) (int64, error) {
	if token == "" {
		return 0, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return 0, ErrNoSession
	}
	if !s.now().Before(sess.expiresAt) {
		delete(s.sessions, token)
		return 0, ErrNoSession
	}
	return sess.userID, nil
}

func (s *Sessions) Destroy(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}
