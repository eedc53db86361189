package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-fittrack/pkg/domain"
)

type memoryDoc struct {
	seq    uint64
	fields map[string]any
}

type memoryWatch struct {
	sub    *Subscription
	filter Filter
}

// MemoryStore is an in-process Store. Documents are listed in insertion order.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	data     map[string]map[string]memoryDoc
	watchers map[string]map[*memoryWatch]struct{}
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]map[string]memoryDoc),
		watchers: make(map[string]map[*memoryWatch]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[collection][id]
	if !ok {
		return Document{}, domain.ErrDocumentNotFound
	}
	return Document{ID: id, Fields: copyFields(doc.fields)}, nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.data[collection]
	if !ok {
		coll = make(map[string]memoryDoc)
		m.data[collection] = coll
	}
	seq := coll[id].seq
	if seq == 0 {
		m.seq++
		seq = m.seq
	}
	coll[id] = memoryDoc{seq: seq, fields: copyFields(fields)}
	m.notifyLocked(collection)
	return nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := m.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &memoryWatch{filter: filter}
	w.sub = newSubscription(ctx, func() {
		m.mu.Lock()
		delete(m.watchers[collection], w)
		m.mu.Unlock()
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers[collection] == nil {
		m.watchers[collection] = make(map[*memoryWatch]struct{})
	}
	m.watchers[collection][w] = struct{}{}
	w.sub.push(Snapshot{Documents: m.queryLocked(collection, filter)})
	return w.sub, nil
}

func (m *MemoryStore) notifyLocked(collection string) {
	for w := range m.watchers[collection] {
		w.sub.push(Snapshot{Documents: m.queryLocked(collection, w.filter)})
	}
}

func (m *MemoryStore) queryLocked(collection string, filter Filter) []Document {
	type entry struct {
		seq uint64
		doc Document
	}
	var entries []entry
	for id, d := range m.data[collection] {
		if filter.Matches(d.fields) {
			entries = append(entries, entry{seq: d.seq, doc: Document{ID: id, Fields: copyFields(d.fields)}})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	docs := make([]Document, len(entries))
	for i, e := range entries {
		docs[i] = e.doc
	}
	return docs
}
