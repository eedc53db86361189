package domain

import (
	"fmt"
)

// CollectionWorkouts is the document store collection holding workout records.
const CollectionWorkouts = "workouts"

// WorkoutTypeName names a kind of workout.
type WorkoutTypeName string

// Workout types
const (
	WorkoutSwimming         WorkoutTypeName = "Swimming"
	WorkoutRunning          WorkoutTypeName = "Running"
	WorkoutHIIT             WorkoutTypeName = "HIIT"
	WorkoutYoga             WorkoutTypeName = "Yoga"
	WorkoutPilates          WorkoutTypeName = "Pilates"
	WorkoutCardio           WorkoutTypeName = "Cardio"
	WorkoutFlexibility      WorkoutTypeName = "Flexibility"
	WorkoutStrengthTraining WorkoutTypeName = "Strength Training"
	WorkoutCrossFit         WorkoutTypeName = "CrossFit"
	WorkoutBalance          WorkoutTypeName = "Balance"
)

// WorkoutTypeNames lists every workout type in display order.
var WorkoutTypeNames = []WorkoutTypeName{
	WorkoutSwimming,
	WorkoutRunning,
	WorkoutHIIT,
	WorkoutYoga,
	WorkoutPilates,
	WorkoutCardio,
	WorkoutFlexibility,
	WorkoutStrengthTraining,
	WorkoutCrossFit,
	WorkoutBalance,
}

// ParseWorkoutTypeName returns the workout type with the exact name s.
func ParseWorkoutTypeName(s string) (WorkoutTypeName, error) {
	for _, n := range WorkoutTypeNames {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWorkout, s)
}

// Intensity is how hard a workout was.
type Intensity string

// Intensities
const (
	IntensityLow    Intensity = "Low"
	IntensityMedium Intensity = "Medium"
	IntensityHigh   Intensity = "High"
)

// Intensities lists the intensities from lowest to highest.
var Intensities = []Intensity{IntensityLow, IntensityMedium, IntensityHigh}

// ParseIntensity returns the intensity with the exact name s.
func ParseIntensity(s string) (Intensity, error) {
	for _, i := range Intensities {
		if string(i) == s {
			return i, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntensity, s)
}

// WorkoutType is a bundled catalog entry.
type WorkoutType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// WorkoutRecord is one logged workout, owned by UserID.
type WorkoutRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      WorkoutTypeName `json:"type"`
	Duration  float64         `json:"duration"`
	Intensity Intensity       `json:"intensity"`
}

// Fields converts the record into document fields. The id is the document key, not a field.
func (w WorkoutRecord) Fields() map[string]any {
	return map[string]any{
		"userId":    w.UserID,
		"type":      string(w.Type),
		"duration":  w.Duration,
		"intensity": string(w.Intensity),
	}
}

// WorkoutRecordFromFields decodes a stored workout document.
func WorkoutRecordFromFields(id string, fields map[string]any) (WorkoutRecord, error) {
	w := WorkoutRecord{ID: id}
	userID, err := stringField(fields, "userId")
	if err != nil {
		return WorkoutRecord{}, fmt.Errorf("workouts/%s: %w", id, err)
	}
	typ, err := stringField(fields, "type")
	if err != nil {
		return WorkoutRecord{}, fmt.Errorf("workouts/%s: %w", id, err)
	}
	intensity, err := stringField(fields, "intensity")
	if err != nil {
		return WorkoutRecord{}, fmt.Errorf("workouts/%s: %w", id, err)
	}
	w.UserID = userID
	w.Type = WorkoutTypeName(typ)
	w.Intensity = Intensity(intensity)

	switch d := fields["duration"].(type) {
	case float64:
		w.Duration = d
	case float32:
		w.Duration = float64(d)
	case int:
		w.Duration = float64(d)
	case int64:
		w.Duration = float64(d)
	case nil:
	default:
		return WorkoutRecord{}, fmt.Errorf("workouts/%s: duration is %T, want number", id, d)
	}
	return w, nil
}
