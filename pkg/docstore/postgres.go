package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-fittrack/pkg/domain"
)

// NotifyChannel is the Postgres channel the documents trigger notifies on.
// The payload is "<collection>:<owner>", where owner is the row's OwnerField value,
// or just "<collection>" when the change cannot be narrowed.
const NotifyChannel = "documents_changed"

// OwnerField is the field the documents trigger puts in notification payloads.
// Watchers filtered on it refresh only for changes to their own rows.
const OwnerField = "userId"

const defaultRefreshTimeout = 10 * time.Second

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// OpenPostgres opens and pings a database connection.
func OpenPostgres(cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Listener is the subset of *pq.Listener the store needs.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewPQListener creates a reconnecting LISTEN connection for dsn.
func NewPQListener(dsn string, logger *slog.Logger) *pq.Listener {
	return pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("document listener event", "event", ev, "error", err)
		}
	})
}

type pgWatch struct {
	sub        *Subscription
	collection string
	filter     Filter
}

// PostgresStore keeps documents in a JSONB table and drives live queries from NOTIFY.
type PostgresStore struct {
	db             *sql.DB
	listener       Listener
	logger         *slog.Logger
	refreshTimeout time.Duration

	mu       sync.Mutex
	watchers map[string]map[*pgWatch]struct{}
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPostgresStore creates a store over db. With a nil listener, subscriptions
// receive their initial snapshot only.
func NewPostgresStore(db *sql.DB, listener Listener, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PostgresStore{
		db:             db,
		listener:       listener,
		logger:         logger,
		refreshTimeout: defaultRefreshTimeout,
		watchers:       make(map[string]map[*pgWatch]struct{}),
		stop:           make(chan struct{}),
	}
	if listener != nil {
		if err := listener.Listen(NotifyChannel); err != nil {
			return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
		}
		s.wg.Add(1)
		go s.dispatch()
	}
	return s, nil
}

// Close stops live query delivery and closes the listener. Later subscriptions
// fail with domain.ErrStoreClosed.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	var subs []*Subscription
	for _, ws := range s.watchers {
		for w := range ws {
			subs = append(subs, w.sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	query := `SELECT fields FROM documents WHERE collection = $1 AND id = $2`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, domain.ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}

	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	query := `
		INSERT INTO documents (collection, id, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE
		SET fields = EXCLUDED.fields, updated_at = NOW()
	`
	_, err = s.db.ExecContext(ctx, query, collection, id, raw)
	return err
}

func (s *PostgresStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, collection string, filter Filter) (*Subscription, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, domain.ErrStoreClosed
	}

	w := &pgWatch{collection: collection, filter: filter}
	w.sub = newSubscription(ctx, func() {
		s.mu.Lock()
		delete(s.watchers[collection], w)
		s.mu.Unlock()
	})

	s.mu.Lock()
	if s.watchers[collection] == nil {
		s.watchers[collection] = make(map[*pgWatch]struct{})
	}
	s.watchers[collection][w] = struct{}{}
	s.mu.Unlock()

	s.refresh(ctx, w)
	return w.sub, nil
}

func (s *PostgresStore) query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Field == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, fields FROM documents WHERE collection = $1 ORDER BY created_at, id`,
			collection)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, fields FROM documents WHERE collection = $1 AND fields->>$2 = $3 ORDER BY created_at, id`,
			collection, filter.Field, filter.Value)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		fields := map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

func (s *PostgresStore) refresh(ctx context.Context, w *pgWatch) {
	docs, err := s.query(ctx, w.collection, w.filter)
	if err != nil {
		w.sub.push(Snapshot{Err: &domain.QueryError{Collection: w.collection, Err: err}})
		return
	}
	w.sub.push(Snapshot{Documents: docs})
}

func (s *PostgresStore) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case n, ok := <-s.listener.NotificationChannel():
			if !ok {
				return
			}
			// nil follows a reconnect; notifications may have been missed
			if n == nil {
				s.refreshWatchers(func(*pgWatch) bool { return true })
				continue
			}
			s.refreshWatchers(notificationMatcher(n.Extra))
		}
	}
}

// notificationMatcher selects the watchers a notification payload concerns.
func notificationMatcher(payload string) func(*pgWatch) bool {
	collection, owner, scoped := strings.Cut(payload, ":")
	return func(w *pgWatch) bool {
		if w.collection != collection {
			return false
		}
		if !scoped || w.filter.Field != OwnerField {
			return true
		}
		return w.filter.Value == owner
	}
}

// refreshWatchers re-queries every selected watcher, each under its own timeout.
func (s *PostgresStore) refreshWatchers(selected func(*pgWatch) bool) {
	s.mu.Lock()
	var targets []*pgWatch
	for _, ws := range s.watchers {
		for w := range ws {
			if selected(w) {
				targets = append(targets, w)
			}
		}
	}
	s.mu.Unlock()

	for _, w := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
		s.refresh(ctx, w)
		cancel()
	}
}
