package identity

import (
	"sync"

	"github.com/tendant/simple-fittrack/pkg/domain"
)

// Hub fans sign-in state changes out to the subscribers of each client session.
// It is in-process, so every browser of a session must reach the same process.
// Each subscriber is called from its own goroutine, in order, with only the latest
// state when changes arrive faster than it handles them.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*hubSub]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

type hubSub struct {
	fn func(*domain.Principal)

	mu        sync.Mutex
	pending   *domain.Principal
	has       bool
	published bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers fn for sid. initial is read after registration and delivered
// first unless a change was published in the meantime.
func (h *Hub) Subscribe(sid string, initial func() *domain.Principal, fn func(*domain.Principal)) func() {
	s := &hubSub{
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[sid] == nil {
		h.subs[sid] = make(map[*hubSub]struct{})
	}
	h.subs[sid][s] = struct{}{}
	h.mu.Unlock()

	go s.run()

	var p *domain.Principal
	if initial != nil {
		p = initial()
	}
	s.offer(p, false)

	return func() {
		h.mu.Lock()
		delete(h.subs[sid], s)
		if len(h.subs[sid]) == 0 {
			delete(h.subs, sid)
		}
		h.mu.Unlock()
		s.once.Do(func() { close(s.done) })
	}
}

// Publish delivers p (nil for signed out) to every subscriber of sid.
func (h *Hub) Publish(sid string, p *domain.Principal) {
	h.mu.Lock()
	targets := make([]*hubSub, 0, len(h.subs[sid]))
	for s := range h.subs[sid] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.offer(p, true)
	}
}

// Subscribers returns the number of subscribers for sid.
func (h *Hub) Subscribers(sid string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sid])
}

func (s *hubSub) offer(p *domain.Principal, published bool) {
	s.mu.Lock()
	if !published && s.published {
		s.mu.Unlock()
		return
	}
	if published {
		s.published = true
	}
	if p != nil {
		cp := *p
		p = &cp
	}
	s.pending = p
	s.has = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *hubSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		p, has := s.pending, s.has
		s.pending, s.has = nil, false
		s.mu.Unlock()

		if !has {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(p)
	}
}
