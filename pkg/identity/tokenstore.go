package identity

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/simple-fittrack/pkg/domain"
)

// TokenStore persists the provider's own sign-in state per client session,
// independently of the application's user profiles.
type TokenStore interface {
	// Save records p as signed in for sid.
	Save(ctx context.Context, sid string, p domain.Principal, ttl time.Duration) error
	// Get returns the signed-in principal for sid, or nil.
	Get(ctx context.Context, sid string) (*domain.Principal, error)
	// Delete signs sid out.
	Delete(ctx context.Context, sid string) error
	// SavePending records the result of a completed redirect sign-in.
	SavePending(ctx context.Context, sid string, p domain.Principal, ttl time.Duration) error
	// TakePending returns and removes the pending redirect result, or nil.
	TakePending(ctx context.Context, sid string) (*domain.Principal, error)
}

type memoryEntry struct {
	principal domain.Principal
	expiresAt time.Time
}

// MemoryTokenStore is a TokenStore for single-replica deployments and tests.
type MemoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	pending  map[string]memoryEntry
	now      func() time.Time
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		sessions: make(map[string]memoryEntry),
		pending:  make(map[string]memoryEntry),
		now:      time.Now,
	}
}

func (m *MemoryTokenStore) Save(_ context.Context, sid string, p domain.Principal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sid] = memoryEntry{principal: p, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryTokenStore) Get(_ context.Context, sid string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(m.sessions, sid, false), nil
}

func (m *MemoryTokenStore) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sid)
	return nil
}

func (m *MemoryTokenStore) SavePending(_ context.Context, sid string, p domain.Principal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[sid] = memoryEntry{principal: p, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryTokenStore) TakePending(_ context.Context, sid string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(m.pending, sid, true), nil
}

func (m *MemoryTokenStore) lookupLocked(entries map[string]memoryEntry, sid string, take bool) *domain.Principal {
	e, ok := entries[sid]
	if !ok {
		return nil
	}
	if m.now().After(e.expiresAt) {
		delete(entries, sid)
		return nil
	}
	if take {
		delete(entries, sid)
	}
	p := e.principal
	return &p
}
