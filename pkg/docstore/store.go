// Package docstore provides a schemaless document store addressed by collection and id,
// with point reads and writes and live query subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"sync"
)

// Document is a stored set of fields under a collection/id key.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Filter selects documents whose Field, in text form, equals Value. Strings compare
// as is and other scalars by their JSON text, the way Postgres ->> renders them.
// Missing and null fields never match. The zero Filter matches everything.
type Filter struct {
	Field string
	Value string
}

// Matches reports whether fields satisfy the filter.
func (f Filter) Matches(fields map[string]any) bool {
	if f.Field == "" {
		return true
	}
	v, ok := fieldText(fields[f.Field])
	return ok && v == f.Value
}

func fieldText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Snapshot is the full matching document set at one point in time.
// Err is set instead of Documents when the query failed.
type Snapshot struct {
	Documents []Document
	Err       error
}

// Store is the document store contract.
type Store interface {
	// Get returns the document or domain.ErrDocumentNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set creates or replaces the document.
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	// Add stores fields under a generated id and returns it.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Subscribe starts a live query. The first snapshot is the current matching set.
	Subscribe(ctx context.Context, collection string, filter Filter) (*Subscription, error)
}

// Subscription is a live query. Only the newest undelivered snapshot is kept.
type Subscription struct {
	ch      chan Snapshot
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	onClose func()
}

func newSubscription(ctx context.Context, onClose func()) *Subscription {
	s := &Subscription{
		ch:      make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// Snapshots returns the channel of snapshots. It is closed by Close.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// Close cancels the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (s *Subscription) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// replace a snapshot the consumer has not read yet
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
