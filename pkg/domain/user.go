package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// CollectionUsers is the document store collection holding user profiles.
const CollectionUsers = "users"

// DefaultUsername is used when a principal has neither a display name nor an email.
const DefaultUsername = "User"

// createdAtLayout matches the ISO-8601 form a browser produces for Date.toISOString.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Principal is the identity provider's view of a signed-in person.
// It is owned by the provider and never written by this service.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// UserProfile is the per-principal record kept in the users collection.
// It is created once and never overwritten on later sign-ins.
type UserProfile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

// NewUserProfile builds the first-sign-in profile for a principal.
func NewUserProfile(p Principal, now time.Time) UserProfile {
	return UserProfile{
		ID:        p.ID,
		Username:  UsernameFor(p),
		Email:     p.Email,
		CreatedAt: FormatCreatedAt(now),
	}
}

// UsernameFor picks the display name, else the email local part, else DefaultUsername.
// Control characters are dropped from the display name first.
func UsernameFor(p Principal) string {
	if name := cleanName(p.DisplayName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(p.Email, "@"); local != "" {
		return local
	}
	return DefaultUsername
}

// cleanName trims whitespace and removes control characters.
func cleanName(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name))
}

// FormatCreatedAt renders t in UTC with millisecond precision.
func FormatCreatedAt(t time.Time) string {
	return t.UTC().Format(createdAtLayout)
}

// Fields converts the profile into document fields.
func (u UserProfile) Fields() map[string]any {
	return map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"createdAt": u.CreatedAt,
	}
}

// UserProfileFromFields adopts stored document fields verbatim.
func UserProfileFromFields(id string, fields map[string]any) (UserProfile, error) {
	u := UserProfile{ID: id}
	if v, ok := fields["id"]; ok {
		s, ok := v.(string)
		if !ok {
			return UserProfile{}, fmt.Errorf("users/%s: id is %T, want string", id, v)
		}
		u.ID = s
	}
	var err error
	if u.Username, err = stringField(fields, "username"); err != nil {
		return UserProfile{}, fmt.Errorf("users/%s: %w", id, err)
	}
	if u.Email, err = stringField(fields, "email"); err != nil {
		return UserProfile{}, fmt.Errorf("users/%s: %w", id, err)
	}
	if u.CreatedAt, err = stringField(fields, "createdAt"); err != nil {
		return UserProfile{}, fmt.Errorf("users/%s: %w", id, err)
	}
	return u, nil
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is %T, want string", key, v)
	}
	return s, nil
}
