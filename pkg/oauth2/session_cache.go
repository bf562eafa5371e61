package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"socialauth/pkg/cache"
)

const (
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "session:user:"

	// minEntryTTL keeps an already-expired record addressable until Get evicts it.
	minEntryTTL = time.Second
)

// CacheSessionStore implements SessionStore on top of a cache.Cache (Redis in
// production). Records are JSON and carry a backend TTL matching ExpiresAt;
// Get still checks ExpiresAt itself.
type CacheSessionStore struct {
	cache cache.Cache
}

// NewCacheSessionStore returns a SessionStore backed by c.
func NewCacheSessionStore(c cache.Cache) *CacheSessionStore {
	return &CacheSessionStore{cache: c}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionKey(provider, userID string) string {
	return userSessionKeyPrefix + provider + ":" + userID
}

func entryTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < minEntryTTL {
		return minEntryTTL
	}
	return ttl
}

func (s *CacheSessionStore) Create(ctx context.Context, session *AuthSession) (*AuthSession, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := entryTTL(session.ExpiresAt)
	if err := s.cache.Set(ctx, sessionKey(session.SessionID), string(payload), ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	indexKey := userSessionKey(session.Provider, session.UserID)
	keep, err := s.indexOutlives(ctx, indexKey, session)
	if err != nil {
		return nil, err
	}
	if !keep {
		if err := s.cache.Set(ctx, indexKey, session.SessionID, ttl); err != nil {
			return nil, fmt.Errorf("failed to index session: %w", err)
		}
	}

	out := *session
	return &out, nil
}

// indexOutlives reports whether the index already points at another live
// session that expires after session.
func (s *CacheSessionStore) indexOutlives(ctx context.Context, indexKey string, session *AuthSession) (bool, error) {
	currentID, err := s.cache.Get(ctx, indexKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session index: %w", err)
	}
	if currentID == session.SessionID {
		return false, nil
	}

	current, err := s.Get(ctx, currentID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current.ExpiresAt.After(session.ExpiresAt), nil
}

func (s *CacheSessionStore) Get(ctx context.Context, sessionID string) (*AuthSession, error) {
	payload, err := s.cache.Get(ctx, sessionKey(sessionID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session AuthSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	if session.Expired(time.Now()) {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *CacheSessionStore) Delete(ctx context.Context, sessionID string) error {
	key := sessionKey(sessionID)

	payload, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.cache.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	var session AuthSession
	if json.Unmarshal([]byte(payload), &session) != nil {
		return nil
	}
	// Only drop the index when it still points at this session.
	indexKey := userSessionKey(session.Provider, session.UserID)
	if current, err := s.cache.Get(ctx, indexKey); err == nil && current == sessionID {
		if err := s.cache.Del(ctx, indexKey); err != nil {
			return fmt.Errorf("failed to delete session index: %w", err)
		}
	}
	return nil
}

// FindByProviderUser follows the provider-user index to the live session that
// expires last.
func (s *CacheSessionStore) FindByProviderUser(ctx context.Context, provider, userID string) (*AuthSession, error) {
	sessionID, err := s.cache.Get(ctx, userSessionKey(provider, userID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session index: %w", err)
	}
	return s.Get(ctx, sessionID)
}
