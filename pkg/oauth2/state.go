package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"socialauth/pkg/cache"
)

const stateKeyPrefix = "oauth_state:"

// ErrStateNotFound is returned by Consume for a state that was never issued,
// was already used or has expired.
var ErrStateNotFound = errors.New("state not found")

// StateRecord is what the server remembers about an issued state.
type StateRecord struct {
	Provider string    `json:"provider"`
	IssuedAt time.Time `json:"issuedAt"`
}

// StateStorage keeps issued states until their callback. Consume is the only
// read and it removes the state, so each state is accepted at most once.
type StateStorage interface {
	Save(ctx context.Context, state string, rec StateRecord, ttl time.Duration) error
	Consume(ctx context.Context, state string) (*StateRecord, error)
}

// CacheStateStorage implements StateStorage on a cache.Cache. With Redis it is
// shared by every instance of the service.
type CacheStateStorage struct {
	cache cache.Cache
}

// NewCacheStateStorage returns a StateStorage backed by c.
func NewCacheStateStorage(c cache.Cache) *CacheStateStorage {
	return &CacheStateStorage{cache: c}
}

func stateKey(state string) string {
	return stateKeyPrefix + state
}

func (s *CacheStateStorage) Save(ctx context.Context, state string, rec StateRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := s.cache.Set(ctx, stateKey(state), string(payload), ttl); err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

func (s *CacheStateStorage) Consume(ctx context.Context, state string) (*StateRecord, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}

	payload, err := s.cache.GetDel(ctx, stateKey(state))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	var rec StateRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &rec, nil
}
