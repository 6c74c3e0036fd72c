package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/empyre-fit/empyre/internal/storage"
)

// ErrStoreUnavailable wraps failures of the backing store. Callers may retry.
var ErrStoreUnavailable = errors.New("profile store unavailable")

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetOrCreateProfile(ctx context.Context, userID, initial string) (storage.ProfileRecord, error)
	SaveProfile(ctx context.Context, userID, data, planJSON string) error
}

// Manager provides cached, per-user serialized access to profiles stored in SQLite.
type Manager struct {
	store Store
	cache *expirable.LRU[string, *Profile]
	locks KeyedMutex
}

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 60 * time.Second
)

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithCache(store, defaultCacheSize, defaultCacheTTL)
}

// NewManagerWithCache creates a Manager with a custom cache size and TTL.
func NewManagerWithCache(store Store, size int, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		cache: expirable.NewLRU[string, *Profile](size, nil, ttl),
	}
}

// Lock acquires the per-user lock. Every read-modify-write of a profile
// must happen while holding it.
func (m *Manager) Lock(ctx context.Context, userID string) (func(), error) {
	return m.locks.Lock(ctx, userID)
}

// Get returns the profile for userID, creating an empty one on first
// contact. The returned profile is a copy the caller may modify.
func (m *Manager) Get(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := m.cache.Get(userID); ok {
		return p.Clone(), nil
	}

	initial, err := json.Marshal(New(userID))
	if err != nil {
		return nil, fmt.Errorf("encoding new profile: %w", err)
	}
	rec, err := m.store.GetOrCreateProfile(ctx, userID, string(initial))
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w: %w", userID, ErrStoreUnavailable, err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(rec.Data), &p); err != nil {
		slog.Warn("malformed stored profile", "user_id", userID, "error", err)
		return nil, fmt.Errorf("decoding stored profile %s: %w", userID, err)
	}
	p.UserID = userID

	m.cache.Add(userID, p.Clone())
	return &p, nil
}

// Save persists p. When newPlan is true the profile's plan is also recorded
// as the user's active plan version.
func (m *Manager) Save(ctx context.Context, p *Profile, newPlan bool) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	var planJSON string
	if newPlan && p.Plan != nil {
		b, err := json.Marshal(p.Plan)
		if err != nil {
			return fmt.Errorf("encoding plan: %w", err)
		}
		planJSON = string(b)
	}

	if err := m.store.SaveProfile(ctx, p.UserID, string(data), planJSON); err != nil {
		// The cached copy may no longer match what is stored.
		m.cache.Remove(p.UserID)
		return fmt.Errorf("saving profile %s: %w: %w", p.UserID, ErrStoreUnavailable, err)
	}

	m.cache.Add(p.UserID, p.Clone())
	return nil
}

// Update runs fn against the user's profile under the per-user lock and
// saves the result if fn succeeds.
func (m *Manager) Update(ctx context.Context, userID string, fn func(p *Profile) error) (*Profile, error) {
	unlock, err := m.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := m.Save(ctx, p, false); err != nil {
		return nil, err
	}
	return p, nil
}
