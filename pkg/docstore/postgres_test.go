package docstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-fittrack/pkg/domain"
)

type fakeListener struct {
	channels []string
	ch       chan *pq.Notification
	closed   bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 4)}
}

func (l *fakeListener) Listen(channel string) error {
	l.channels = append(l.channels, channel)
	return nil
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }

func (l *fakeListener) Close() error {
	l.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewPostgresStore(db, nil, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT fields FROM documents WHERE collection = $1 AND id = $2")).
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"fields"}).AddRow([]byte(`{"username":"Alice","email":"a@x.com"}`)))

	doc, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID)
	assert.Equal(t, "Alice", doc.Fields["username"])

	mock.ExpectQuery(regexp.QuoteMeta("SELECT fields FROM documents")).
		WithArgs("users", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"fields"}))

	_, err = store.Get(ctx, "users", "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Set(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewPostgresStore(db, nil, testLogger())
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs("users", "u1", []byte(`{"username":"Bob"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Set(context.Background(), "users", "u1", map[string]any{"username": "Bob"})
	assert.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnError(errors.New("permission denied"))

	err = store.Set(context.Background(), "users", "u2", map[string]any{})
	assert.EqualError(t, err, "permission denied")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SubscribeRefreshesOnNotify(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	listener := newFakeListener()
	store, err := NewPostgresStore(db, listener, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{NotifyChannel}, listener.channels)

	querySQL := regexp.QuoteMeta("SELECT id, fields FROM documents WHERE collection = $1 AND fields->>$2 = $3")

	mock.ExpectQuery(querySQL).
		WithArgs("workouts", "userId", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fields"}).
			AddRow("w1", []byte(`{"userId":"u1","type":"Running"}`)))

	sub, err := store.Subscribe(context.Background(), "workouts", Filter{Field: "userId", Value: "u1"})
	require.NoError(t, err)

	snap := nextSnapshot(t, sub)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "w1", snap.Documents[0].ID)

	mock.ExpectQuery(querySQL).
		WithArgs("workouts", "userId", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "fields"}).
			AddRow("w1", []byte(`{"userId":"u1","type":"Running"}`)).
			AddRow("w2", []byte(`{"userId":"u1","type":"Yoga"}`)))

	listener.ch <- &pq.Notification{Channel: NotifyChannel, Extra: "workouts"}

	snap = nextSnapshot(t, sub)
	require.NoError(t, snap.Err)
	assert.Len(t, snap.Documents, 2)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.True(t, listener.closed)

	_, err = store.Subscribe(context.Background(), "workouts", Filter{Field: "userId", Value: "u1"})
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NotifyRefreshesOnlyOwnerQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	listener := newFakeListener()
	store, err := NewPostgresStore(db, listener, testLogger())
	require.NoError(t, err)
	defer store.Close()

	querySQL := regexp.QuoteMeta("SELECT id, fields FROM documents WHERE collection = $1 AND fields->>$2 = $3")
	rows := func(ids ...string) *sqlmock.Rows {
		r := sqlmock.NewRows([]string{"id", "fields"})
		for _, id := range ids {
			r.AddRow(id, []byte(`{"type":"Running"}`))
		}
		return r
	}

	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "u1").WillReturnRows(rows("w1"))
	mine, err := store.Subscribe(context.Background(), "workouts", Filter{Field: "userId", Value: "u1"})
	require.NoError(t, err)
	nextSnapshot(t, mine)

	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "u2").WillReturnRows(rows("w9"))
	theirs, err := store.Subscribe(context.Background(), "workouts", Filter{Field: "userId", Value: "u2"})
	require.NoError(t, err)
	nextSnapshot(t, theirs)

	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "u1").WillReturnRows(rows("w1", "w2"))
	listener.ch <- &pq.Notification{Channel: NotifyChannel, Extra: "workouts:u1"}
	listener.ch <- &pq.Notification{Channel: NotifyChannel, Extra: "users:u2"}

	snap := nextSnapshot(t, mine)
	require.NoError(t, snap.Err)
	assert.Len(t, snap.Documents, 2)

	select {
	case snap := <-theirs.Snapshots():
		t.Fatalf("u2 refreshed for another user's change: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SlowRefreshDoesNotFailOthers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	listener := newFakeListener()
	store, err := NewPostgresStore(db, listener, testLogger())
	require.NoError(t, err)
	defer store.Close()
	store.refreshTimeout = 100 * time.Millisecond

	querySQL := regexp.QuoteMeta("SELECT id, fields FROM documents WHERE collection = $1 AND fields->>$2 = $3")
	empty := func() *sqlmock.Rows { return sqlmock.NewRows([]string{"id", "fields"}) }

	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "slow").WillReturnRows(empty())
	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "fast").WillReturnRows(empty())
	slow, err := store.Subscribe(context.Background(), "workouts", Filter{Field: "userId", Value: "slow"})
	require.NoError(t, err)
	fast, err := store.Subscribe(context.Background(), "workouts", Filter{Field: "userId", Value: "fast"})
	require.NoError(t, err)
	nextSnapshot(t, slow)
	nextSnapshot(t, fast)

	// slow exceeds its own deadline; fast fits its own but not what a shared deadline leaves after slow
	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "slow").
		WillDelayFor(150 * time.Millisecond).
		WillReturnRows(empty())
	mock.ExpectQuery(querySQL).WithArgs("workouts", "userId", "fast").
		WillDelayFor(60 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id", "fields"}).AddRow("w1", []byte(`{"userId":"fast"}`)))
	listener.ch <- &pq.Notification{Channel: NotifyChannel, Extra: "workouts"}

	snap := nextSnapshot(t, slow)
	var qerr *domain.QueryError
	assert.ErrorAs(t, snap.Err, &qerr)

	snap = nextSnapshot(t, fast)
	require.NoError(t, snap.Err)
	assert.Len(t, snap.Documents, 1)
}

func TestPostgresStore_SubscribeReportsQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewPostgresStore(db, nil, testLogger())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, fields FROM documents WHERE collection = $1 ORDER BY")).
		WithArgs("workouts").
		WillReturnError(errors.New("connection refused"))

	sub, err := store.Subscribe(context.Background(), "workouts", Filter{})
	require.NoError(t, err)
	defer sub.Close()

	snap := nextSnapshot(t, sub)
	var qerr *domain.QueryError
	require.ErrorAs(t, snap.Err, &qerr)
	assert.Equal(t, "workouts", qerr.Collection)
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "fittrack", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fittrack sslmode=disable", cfg.DSN())
}
