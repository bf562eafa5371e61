package oauth2

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AuthSession is an authenticated identity. SessionID is the external handle;
// ID is an internal record id and must never be used to look a session up.
type AuthSession struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Provider     string    `json:"provider"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PictureURL   string    `json:"picture_url,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Metadata     string    `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session is unusable at now.
func (s *AuthSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MetadataMap decodes Metadata. Malformed metadata yields an empty map.
func (s *AuthSession) MetadataMap() map[string]any {
	out := map[string]any{}
	if s.Metadata == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.Metadata), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// SessionStore keeps AuthSessions by SessionID. Get never returns an expired
// session: it deletes it and reports ErrSessionNotFound. Delete is idempotent.
type SessionStore interface {
	Create(ctx context.Context, session *AuthSession) (*AuthSession, error)
	Get(ctx context.Context, sessionID string) (*AuthSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// UserSessionFinder is implemented by stores that can look a session up by
// provider identity.
type UserSessionFinder interface {
	FindByProviderUser(ctx context.Context, provider, userID string) (*AuthSession, error)
}

// InMemorySessionStore implements SessionStore. Contents live for the process
// lifetime only.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*AuthSession
}

// NewInMemorySessionStore returns an empty store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*AuthSession),
	}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *AuthSession) (*AuthSession, error) {
	stored := *session

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[stored.SessionID] = &stored

	out := stored
	return &out, nil
}

func (s *InMemorySessionStore) Get(_ context.Context, sessionID string) (*AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	if session.Expired(time.Now()) {
		delete(s.sessions, sessionID)
		return nil, ErrSessionNotFound
	}

	out := *session
	return &out, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// FindByProviderUser returns the live session of a provider user that expires
// last, the most recently created one on a tie. It scans every record.
func (s *InMemorySessionStore) FindByProviderUser(_ context.Context, provider, userID string) (*AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var latest *AuthSession
	for _, session := range s.sessions {
		if session.Provider != provider || session.UserID != userID || session.Expired(now) {
			continue
		}
		if latest == nil || session.ExpiresAt.After(latest.ExpiresAt) ||
			(session.ExpiresAt.Equal(latest.ExpiresAt) && session.CreatedAt.After(latest.CreatedAt)) {
			latest = session
		}
	}
	if latest == nil {
		return nil, ErrSessionNotFound
	}

	out := *latest
	return &out, nil
}

// List returns every live session.
func (s *InMemorySessionStore) List(_ context.Context) ([]*AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*AuthSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if session.Expired(now) {
			continue
		}
		c := *session
		out = append(out, &c)
	}
	return out, nil
}

// Len returns the number of stored records, expired ones included.
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
