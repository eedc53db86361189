package domain

import (
	"errors"
	"fmt"
)

// Store errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrStoreClosed      = errors.New("document store closed")
)

// Workout errors
var (
	ErrInvalidWorkout   = errors.New("invalid workout")
	ErrUnknownWorkout   = errors.New("unknown workout type")
	ErrUnknownIntensity = errors.New("unknown intensity")
)

// Session errors
var (
	ErrNotSignedIn = errors.New("not signed in")
)

// ProfileStoreError reports a failed read or write of a user profile.
// Profile reconciliation downgrades it to a warning.
type ProfileStoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *ProfileStoreError) Error() string {
	return fmt.Sprintf("profile store %s users/%s: %v", e.Op, e.ID, e.Err)
}

func (e *ProfileStoreError) Unwrap() error { return e.Err }

// QueryError reports a failed live query subscription.
type QueryError struct {
	Collection string
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Collection, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
