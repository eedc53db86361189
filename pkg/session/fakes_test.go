package session

import (
	"context"
	"sync"

	"github.com/tendant/simple-fittrack/pkg/docstore"
	"github.com/tendant/simple-fittrack/pkg/domain"
	"github.com/tendant/simple-fittrack/pkg/identity"
)

// fakeIDP is an in-process identity provider that records the calls it receives.
type fakeIDP struct {
	mu sync.Mutex

	current     *domain.Principal
	pending     *domain.Principal
	pendingErr  error
	popup       *domain.Principal
	popupErr    error
	redirectURL string
	redirectErr error
	signOutErr  error
	signOutGate chan struct{}

	calls       []string
	subscribers map[int]func(*domain.Principal)
	nextSub     int
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{
		redirectURL: "https://accounts.test/auth?state=s",
		subscribers: make(map[int]func(*domain.Principal)),
	}
}

func (f *fakeIDP) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIDP) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeIDP) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeIDP) SignInInteractive(_ context.Context, _ identity.ProviderConfig) (*domain.Principal, error) {
	f.record("popup")
	f.mu.Lock()
	p, err := f.popup, f.popupErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.publish(p)
	return p, nil
}

func (f *fakeIDP) SignInInteractiveRedirect(_ context.Context, _ identity.ProviderConfig) (string, error) {
	f.record("redirect")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.redirectURL, f.redirectErr
}

func (f *fakeIDP) PendingRedirectResult(_ context.Context) (*domain.Principal, error) {
	f.record("pending")
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pending
	f.pending = nil
	return p, f.pendingErr
}

func (f *fakeIDP) Subscribe(fn func(*domain.Principal)) func() {
	f.record("subscribe")
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = fn
	current := f.current
	f.mu.Unlock()

	fn(current)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers, id)
	}
}

func (f *fakeIDP) SignOut(ctx context.Context) error {
	f.record("signout")
	f.mu.Lock()
	gate, err := f.signOutGate, f.signOutErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	f.publish(nil)
	return nil
}

func (f *fakeIDP) publish(p *domain.Principal) {
	f.mu.Lock()
	f.current = p
	fns := make([]func(*domain.Principal), 0, len(f.subscribers))
	for _, fn := range f.subscribers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

func (f *fakeIDP) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// countingStore wraps a store, counts writes and can fail reads or writes.
type countingStore struct {
	docstore.Store

	mu     sync.Mutex
	sets    int
	gets    int
	getErr  error
	setErr  error
	getGate chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{Store: docstore.NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.Lock()
	s.gets++
	err, gate := s.getErr, s.getGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return docstore.Document{}, ctx.Err()
		}
	}
	if err != nil {
		return docstore.Document{}, err
	}
	return s.Store.Get(ctx, collection, id)
}

func (s *countingStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	s.sets++
	err := s.setErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, collection, id, fields)
}

func (s *countingStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func (s *countingStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}
