package domain

import (
	"errors"
	"testing"
	"time"
)

func TestUsernameFor(t *testing.T) {
	tests := []struct {
		name      string
		principal Principal
		want      string
	}{
		{
			name:      "display name wins",
			principal: Principal{ID: "u1", DisplayName: "Bob", Email: "bob@x.com"},
			want:      "Bob",
		},
		{
			name:      "display name cleaned",
			principal: Principal{ID: "u1", DisplayName: "  Bob\x00\x1b ", Email: "bob@x.com"},
			want:      "Bob",
		},
		{
			name:      "blank display name falls back to email",
			principal: Principal{ID: "u1", DisplayName: " \t", Email: "bob@x.com"},
			want:      "bob",
		},
		{
			name:      "email local part",
			principal: Principal{ID: "u1", Email: "carol@example.com"},
			want:      "carol",
		},
		{
			name:      "email without at sign",
			principal: Principal{ID: "u1", Email: "dave"},
			want:      "dave",
		},
		{
			name:      "empty local part",
			principal: Principal{ID: "u1", Email: "@example.com"},
			want:      DefaultUsername,
		},
		{
			name:      "nothing known",
			principal: Principal{ID: "u1"},
			want:      DefaultUsername,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UsernameFor(tt.principal); got != tt.want {
				t.Errorf("UsernameFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewUserProfile(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 15, 123456789, time.FixedZone("CET", 3600))

	u := NewUserProfile(Principal{ID: "u1", DisplayName: "Bob"}, now)

	if u.ID != "u1" {
		t.Errorf("ID = %q, want %q", u.ID, "u1")
	}
	if u.Email != "" {
		t.Errorf("Email = %q, want empty", u.Email)
	}
	if u.CreatedAt != "2026-03-01T08:30:15.123Z" {
		t.Errorf("CreatedAt = %q, want %q", u.CreatedAt, "2026-03-01T08:30:15.123Z")
	}
}

func TestUserProfileFromFields(t *testing.T) {
	stored := UserProfile{ID: "u1", Username: "Alice", Email: "a@x.com", CreatedAt: "2025-01-01T00:00:00.000Z"}

	got, err := UserProfileFromFields("u1", stored.Fields())
	if err != nil {
		t.Fatalf("UserProfileFromFields failed: %v", err)
	}
	if got != stored {
		t.Errorf("got %+v, want %+v", got, stored)
	}

	_, err = UserProfileFromFields("u1", map[string]any{"username": 42})
	if err == nil {
		t.Error("expected error for non-string username")
	}
}

func TestWorkoutRecordFromFields(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]any
		duration float64
		wantErr  bool
	}{
		{name: "float duration", fields: map[string]any{"userId": "u1", "type": "Running", "duration": 30.5, "intensity": "Medium"}, duration: 30.5},
		{name: "int duration", fields: map[string]any{"userId": "u1", "type": "Yoga", "duration": 45, "intensity": "Low"}, duration: 45},
		{name: "string duration", fields: map[string]any{"userId": "u1", "duration": "45"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := WorkoutRecordFromFields("w1", tt.fields)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.ID != "w1" || w.UserID != "u1" {
				t.Errorf("got %+v", w)
			}
			if w.Duration != tt.duration {
				t.Errorf("Duration = %v, want %v", w.Duration, tt.duration)
			}
		})
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseWorkoutTypeName("Strength Training"); err != nil {
		t.Errorf("Strength Training should parse: %v", err)
	}
	if _, err := ParseWorkoutTypeName("running"); !errors.Is(err, ErrUnknownWorkout) {
		t.Errorf("lower-case name should be rejected, got %v", err)
	}
	if _, err := ParseIntensity("High"); err != nil {
		t.Errorf("High should parse: %v", err)
	}
	if _, err := ParseIntensity("Extreme"); !errors.Is(err, ErrUnknownIntensity) {
		t.Errorf("Extreme should be rejected, got %v", err)
	}
}

func TestSession_Clone(t *testing.T) {
	s := Session{CurrentUser: &UserProfile{ID: "u1", Username: "Bob"}}
	c := s.Clone()
	c.CurrentUser.Username = "Changed"

	if s.CurrentUser.Username != "Bob" {
		t.Error("Clone should not share the profile")
	}
	if !c.Authenticated() {
		t.Error("clone should be authenticated")
	}
	if (Session{}).Authenticated() {
		t.Error("empty session should not be authenticated")
	}
}
