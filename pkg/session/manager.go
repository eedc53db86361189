// Package session owns the sign-in state of one client: it bootstraps from the
// identity provider, follows its change notifications, reconciles principals into
// stored user profiles and mediates sign-in and sign-out.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-fittrack/pkg/docstore"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/identity"
)

// DefaultCallTimeout bounds each identity provider and document store call.
const DefaultCallTimeout = 10 * time.Second

var (
	ErrAlreadyStarted = errors.New("session manager already started")
	ErrClosed         = errors.New("session manager closed")
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCallTimeout bounds every provider and store call. Zero or less disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) { m.callTimeout = d }
}

// WithClock sets the clock used for profile creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the single writer of a client's Session.
type Manager struct {
	idp         identity.Provider
	store       docstore.Store
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time

	// ctx is cancelled by Close and scopes work done by the event loop.
	ctx    context.Context
	cancel context.CancelFunc

	reconcileMu sync.Mutex

	mu          sync.Mutex
	state       domain.Session
	watchers    map[chan domain.Session]struct{}
	ready       chan struct{}
	started     bool
	closed      bool
	unsubscribe func()
	queue       []*domain.Principal
	// signOutGen counts SignOut calls. Profiles resolved across one are dropped.
	signOutGen uint64

	wake     chan struct{}
	loopDone chan struct{}
	running  bool
}

// NewManager creates a manager in the bootstrapping state.
func NewManager(idp identity.Provider, store docstore.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		idp:         idp,
		store:       store,
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		state:       domain.Session{Loading: true},
		watchers:    make(map[chan domain.Session]struct{}),
		ready:       make(chan struct{}),
		wake:        make(chan struct{}, 1),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start picks up a pending redirect sign-in and then subscribes to the provider's
// change notifications. The redirect result is fully handled before the subscription
// exists.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.handleRedirectResult(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.running = true
	m.mu.Unlock()
	go m.loop()

	unsubscribe := m.idp.Subscribe(m.enqueue)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	return nil
}

func (m *Manager) handleRedirectResult(ctx context.Context) {
	cctx, cancel := m.callContext(ctx)
	p, err := m.idp.PendingRedirectResult(cctx)
	cancel()
	if err != nil {
		m.logger.Error("failed to read redirect sign-in result", "error", err)
		return
	}
	if p == nil {
		return
	}
	m.logger.Info("redirect sign-in completed", "user_id", p.ID)
	// store failures are logged by Reconcile and never block sign-in
	_, _ = m.Reconcile(ctx, *p)
}

// Close unsubscribes from the provider and stops the event loop. Watch channels are closed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	running := m.running
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
	m.queue = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.cancel()
	if running {
		<-m.loopDone
	}
}

// Session returns a copy of the current session.
func (m *Manager) Session() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Watch returns a channel that receives the current session and then every change.
// A slow reader only sees the newest state. cancel stops delivery and closes the channel.
func (m *Manager) Watch() (<-chan domain.Session, func()) {
	ch := make(chan domain.Session, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	m.watchers[ch] = struct{}{}
	ch <- m.state.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.watchers[ch]; ok {
				delete(m.watchers, ch)
				close(ch)
			}
		})
	}
}

// Watching reports whether any Watch channel is open.
func (m *Manager) Watching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers) > 0
}

// WaitReady blocks until the session has left the loading state.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) update(fn func(*domain.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	fn(&m.state)
	if !m.state.Loading {
		select {
		case <-m.ready:
		default:
			close(m.ready)
		}
	}

	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- m.state.Clone()
	}
}

// enqueue receives provider notifications. It never blocks the provider.
func (m *Manager) enqueue(p *domain.Principal) {
	if p != nil {
		cp := *p
		p = &cp
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, p)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dequeue() (*domain.Principal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	p := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return p, true
}

// loop applies notifications one at a time in arrival order.
func (m *Manager) loop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
		for {
			p, ok := m.dequeue()
			if !ok {
				break
			}
			m.apply(p)
		}
	}
}

func (m *Manager) apply(p *domain.Principal) {
	if p == nil {
		m.update(func(s *domain.Session) {
			s.CurrentUser = nil
			s.Loading = false
		})
		return
	}

	gen := m.signOutGeneration()
	profile, _ := m.reconcile(m.ctx, *p, gen)
	m.update(func(s *domain.Session) {
		if m.signOutGen == gen {
			s.CurrentUser = &profile
		}
		s.Loading = false
	})
}

func (m *Manager) signOutGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOutGen
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.callTimeout)
}
