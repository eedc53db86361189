// Package workouts holds the workout type catalog, the new-workout form rules and
// the per-user workout list backed by the document store.
package workouts

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tendant/simple-fittrack/pkg/domain"
)

//go:embed workout_types.json
var catalogJSON []byte

var catalog = mustLoadCatalog(catalogJSON)

func mustLoadCatalog(data []byte) []domain.WorkoutType {
	types, err := loadCatalog(data)
	if err != nil {
		panic(err)
	}
	return types
}

func loadCatalog(data []byte) ([]domain.WorkoutType, error) {
	var doc struct {
		WorkoutTypes []domain.WorkoutType `json:"workoutTypes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode workout types: %w", err)
	}
	for _, t := range doc.WorkoutTypes {
		if _, err := domain.ParseWorkoutTypeName(t.Name); err != nil {
			return nil, fmt.Errorf("workout type %s: %w", t.ID, err)
		}
	}
	return doc.WorkoutTypes, nil
}

// Catalog returns the bundled workout types in display order.
func Catalog() []domain.WorkoutType {
	out := make([]domain.WorkoutType, len(catalog))
	copy(out, catalog)
	return out
}

// LookupType returns the catalog entry named name.
func LookupType(name string) (domain.WorkoutType, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return domain.WorkoutType{}, false
}
