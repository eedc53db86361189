package workouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-fittrack/internal/observability"
	"github.com/tendant/simple-fittrack/pkg/docstore"
	"github.com/tendant/simple-fittrack/pkg/domain"
)

// Update is one state of a user's workout list. Err is a *domain.QueryError when the
// live query failed.
type Update struct {
	Workouts []domain.WorkoutRecord
	Err      error
}

// Service reads and writes workout records.
type Service struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewService creates a workout service.
func NewService(store docstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Create validates the form and stores a workout owned by user.
func (s *Service) Create(ctx context.Context, user *domain.UserProfile, form Form) (domain.WorkoutRecord, error) {
	if user == nil {
		return domain.WorkoutRecord{}, domain.ErrNotSignedIn
	}

	rec, err := form.Record(user.ID)
	if err != nil {
		return domain.WorkoutRecord{}, err
	}

	id, err := s.store.Add(ctx, domain.CollectionWorkouts, rec.Fields())
	if err != nil {
		s.logger.Error("failed to add workout", "user_id", user.ID, "error", err)
		return domain.WorkoutRecord{}, fmt.Errorf("add workout: %w", err)
	}
	rec.ID = id

	s.logger.Info("workout added", "user_id", user.ID, "workout_id", id, "type", rec.Type)
	return rec, nil
}

// Watch streams the user's workouts until ctx is done. Each update is the full list;
// a slow reader only sees the newest one.
func (s *Service) Watch(ctx context.Context, userID string) (<-chan Update, error) {
	if userID == "" {
		return nil, domain.ErrNotSignedIn
	}

	sub, err := s.store.Subscribe(ctx, domain.CollectionWorkouts, docstore.Filter{Field: "userId", Value: userID})
	if err != nil {
		return nil, &domain.QueryError{Collection: domain.CollectionWorkouts, Err: err}
	}

	out := make(chan Update, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		for snap := range sub.Snapshots() {
			u := s.toUpdate(snap)
			select {
			case <-out:
			default:
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// List returns the user's workouts as of now.
func (s *Service) List(ctx context.Context, userID string) ([]domain.WorkoutRecord, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := s.Watch(ctx, userID)
	if err != nil {
		return nil, err
	}
	select {
	case u, ok := <-updates:
		if !ok {
			return nil, &domain.QueryError{Collection: domain.CollectionWorkouts, Err: errors.New("subscription closed")}
		}
		return u.Workouts, u.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) toUpdate(snap docstore.Snapshot) Update {
	if snap.Err != nil {
		observability.RecordQueryError(domain.CollectionWorkouts)
		s.logger.Error("error fetching workouts", "error", snap.Err)

		var qerr *domain.QueryError
		if errors.As(snap.Err, &qerr) {
			return Update{Err: snap.Err}
		}
		return Update{Err: &domain.QueryError{Collection: domain.CollectionWorkouts, Err: snap.Err}}
	}

	records := make([]domain.WorkoutRecord, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		rec, err := domain.WorkoutRecordFromFields(doc.ID, doc.Fields)
		if err != nil {
			s.logger.Warn("skipping malformed workout", "workout_id", doc.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return Update{Workouts: records}
}
