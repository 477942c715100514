package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotLoggedIn = errors.New("not logged in, run `ptk login` first")

// Session is what `ptk login` remembers between invocations.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	APIBase   string    `json:"api_base"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the server-side session has lapsed. A zero
// ExpiresAt means the server did not say.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionFile persists a Session as session.json inside a directory.
type SessionFile struct {
	path string
	now  func() time.Time
}

func OpenSessionFile(dir string) (*SessionFile, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &SessionFile{path: filepath.Join(dir, "session.json"), now: time.Now}, nil
}

func (f *SessionFile) Save(s Session) error {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, body, 0o600)
}

// Load returns ErrNotLoggedIn when there is no usable session for apiBase.
// An empty apiBase matches any server.
func (f *SessionFile) Load(apiBase string) (Session, error) {
	body, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, ErrNotLoggedIn
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, err
	}
	switch {
	case strings.TrimSpace(s.Token) == "" || s.UserID == 0:
		return Session{}, ErrNotLoggedIn
	case s.Expired(f.now()):
		return Session{}, ErrNotLoggedIn
	case apiBase != "" && s.APIBase != "" && !sameBase(apiBase, s.APIBase):
		return Session{}, ErrNotLoggedIn
	}
	return s, nil
}

func (f *SessionFile) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func sameBase(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}
