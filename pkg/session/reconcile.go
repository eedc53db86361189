package session

import (
	"context"
	"errors"

	"github.com/tendant/simple-fittrack/internal/observability"
	"github.com/tendant/simple-fittrack/pkg/domain"
)

// Reconcile resolves a principal to its stored user profile and makes it the current
// user. A stored profile is adopted as is. Otherwise a new one is created and written.
//
// The returned profile is always usable. A non-nil *domain.ProfileStoreError means it
// could not be read or persisted; the profile is adopted regardless.
// A SignOut that lands while the profile is being resolved wins and nothing is adopted.
func (m *Manager) Reconcile(ctx context.Context, p domain.Principal) (domain.UserProfile, error) {
	return m.reconcile(ctx, p, m.signOutGeneration())
}

// reconcile adopts the profile only if no SignOut happened since gen was read.
func (m *Manager) reconcile(ctx context.Context, p domain.Principal, gen uint64) (domain.UserProfile, error) {
	m.reconcileMu.Lock()
	profile, result, err := m.loadOrCreate(ctx, p)
	m.reconcileMu.Unlock()

	observability.RecordReconciliation(result)
	if err != nil {
		m.logger.Warn("profile store failure, using unpersisted profile",
			"user_id", p.ID,
			"error", err,
		)
	}

	m.update(func(s *domain.Session) {
		if m.signOutGen != gen {
			m.logger.Debug("dropping profile resolved across sign-out", "user_id", p.ID)
			return
		}
		u := profile
		s.CurrentUser = &u
	})
	return profile, err
}

func (m *Manager) loadOrCreate(ctx context.Context, p domain.Principal) (domain.UserProfile, string, error) {
	getCtx, cancel := m.callContext(ctx)
	doc, err := m.store.Get(getCtx, domain.CollectionUsers, p.ID)
	cancel()

	switch {
	case err == nil:
		profile, err := domain.UserProfileFromFields(doc.ID, doc.Fields)
		if err != nil {
			return domain.NewUserProfile(p, m.now()), "unpersisted", &domain.ProfileStoreError{Op: "decode", ID: p.ID, Err: err}
		}
		return profile, "existing", nil
	case !errors.Is(err, domain.ErrDocumentNotFound):
		return domain.NewUserProfile(p, m.now()), "unpersisted", &domain.ProfileStoreError{Op: "get", ID: p.ID, Err: err}
	}

	profile := domain.NewUserProfile(p, m.now())

	setCtx, cancel := m.callContext(ctx)
	err = m.store.Set(setCtx, domain.CollectionUsers, p.ID, profile.Fields())
	cancel()
	if err != nil {
		return profile, "unpersisted", &domain.ProfileStoreError{Op: "set", ID: p.ID, Err: err}
	}

	m.logger.Info("user profile created", "user_id", p.ID, "username", profile.Username)
	return profile, "created", nil
}
