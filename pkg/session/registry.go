package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-fittrack/internal/observability"
	"github.com/tendant/simple-fittrack/pkg/docstore"
	"github.com/tendant/simple-fittrack/pkg/identity"
)

// ProviderFactory returns the identity provider bound to one client session.
type ProviderFactory func(sid string) identity.Provider

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// IdleTTL is how long an unused manager is kept. A manager with an open Watch
	// is in use. Zero disables sweeping.
	IdleTTL time.Duration
	Logger  *slog.Logger
	Options []Option
}

type registryEntry struct {
	manager  *Manager
	lastUsed time.Time
}

// Registry holds one started Manager per client session, in process memory.
type Registry struct {
	providers ProviderFactory
	store     docstore.Store
	idleTTL   time.Duration
	logger    *slog.Logger
	opts      []Option
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewRegistry creates a registry and starts its idle sweeper.
func NewRegistry(providers ProviderFactory, store docstore.Store, cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		providers: providers,
		store:     store,
		idleTTL:   cfg.IdleTTL,
		logger:    logger,
		opts:      append([]Option{WithLogger(logger)}, cfg.Options...),
		now:       time.Now,
		entries:   make(map[string]*registryEntry),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if r.idleTTL > 0 {
		go r.cleanup()
	} else {
		close(r.done)
	}
	return r
}

// Get returns the session's manager, creating and starting it on first use.
// The manager may still be loading; use WaitReady to wait for bootstrap.
func (r *Registry) Get(ctx context.Context, sid string) (*Manager, error) {
	if sid == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := r.entries[sid]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.manager, nil
	}
	m := NewManager(r.providers(sid), r.store, r.opts...)
	r.entries[sid] = &registryEntry{manager: m, lastUsed: r.now()}
	n := len(r.entries)
	r.mu.Unlock()
	observability.SetActiveManagers(n)

	if err := m.Start(ctx); err != nil {
		r.remove(sid, m)
		return nil, err
	}
	return m, nil
}

// Restart discards the session's manager and starts a new one, as a page load would.
func (r *Registry) Restart(ctx context.Context, sid string) (*Manager, error) {
	r.mu.Lock()
	e, ok := r.entries[sid]
	r.mu.Unlock()
	if ok {
		r.remove(sid, e.manager)
	}
	return r.Get(ctx, sid)
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the sweeper and closes every manager.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	close(r.stop)
	<-r.done
	for _, e := range entries {
		e.manager.Close()
	}
	observability.SetActiveManagers(0)
}

// remove closes m and drops it if it is still the session's manager.
func (r *Registry) remove(sid string, m *Manager) {
	r.mu.Lock()
	if e, ok := r.entries[sid]; ok && e.manager == m {
		delete(r.entries, sid)
	}
	n := len(r.entries)
	r.mu.Unlock()

	m.Close()
	observability.SetActiveManagers(n)
}

func (r *Registry) cleanup() {
	defer close(r.done)

	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Manager
	for sid, e := range r.entries {
		if e.manager.Watching() {
			e.lastUsed = r.now()
			continue
		}
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e.manager)
			delete(r.entries, sid)
		}
	}
	n := len(r.entries)
	r.mu.Unlock()

	for _, m := range idle {
		m.Close()
	}
	if len(idle) > 0 {
		r.logger.Debug("closed idle session managers", "count", len(idle), "remaining", n)
	}
	observability.SetActiveManagers(n)
}
