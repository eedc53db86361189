package workouts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tendant/simple-fittrack/pkg/domain"
)

// Form is a submitted new-workout form. Duration is kept as entered.
type Form struct {
	ExerciseType string `json:"exerciseType"`
	Duration     string `json:"duration"`
	Intensity    string `json:"intensity"`
}

// UnmarshalJSON accepts duration as either a JSON number or a string.
func (f *Form) UnmarshalJSON(data []byte) error {
	var raw struct {
		ExerciseType string          `json:"exerciseType"`
		Duration     json.RawMessage `json:"duration"`
		Intensity    string          `json:"intensity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.ExerciseType = raw.ExerciseType
	f.Intensity = raw.Intensity
	f.Duration = ""

	d := strings.TrimSpace(string(raw.Duration))
	switch {
	case d == "" || d == "null":
	case strings.HasPrefix(d, `"`):
		if err := json.Unmarshal(raw.Duration, &f.Duration); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(raw.Duration, &n); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		f.Duration = n.String()
	}
	return nil
}

// FormErrors holds one message per invalid field. Empty strings mean valid.
type FormErrors struct {
	ExerciseType string `json:"exerciseType,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Intensity    string `json:"intensity,omitempty"`
}

// Empty reports whether the form had no errors.
func (e FormErrors) Empty() bool {
	return e == FormErrors{}
}

// ValidationError is returned when a form is rejected.
type ValidationError struct {
	Fields FormErrors
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, msg := range []string{e.Fields.ExerciseType, e.Fields.Duration, e.Fields.Intensity} {
		if msg != "" {
			parts = append(parts, msg)
		}
	}
	return "invalid workout: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidWorkout }

// ValidateForm checks every field and returns their messages.
func ValidateForm(f Form) FormErrors {
	var errs FormErrors

	if f.ExerciseType == "" {
		errs.ExerciseType = "Exercise type is required"
	} else if _, ok := LookupType(f.ExerciseType); !ok {
		errs.ExerciseType = "Unknown exercise type"
	}

	if strings.TrimSpace(f.Duration) == "" {
		errs.Duration = "Duration is required"
	} else if _, ok := parseDuration(f.Duration); !ok {
		errs.Duration = "Duration must be a positive number"
	}

	if f.Intensity == "" {
		errs.Intensity = "Intensity is required"
	} else if _, err := domain.ParseIntensity(f.Intensity); err != nil {
		errs.Intensity = "Intensity must be Low, Medium or High"
	}

	return errs
}

// Record validates the form and builds the workout owned by userID.
func (f Form) Record(userID string) (domain.WorkoutRecord, error) {
	if errs := ValidateForm(f); !errs.Empty() {
		return domain.WorkoutRecord{}, &ValidationError{Fields: errs}
	}
	duration, _ := parseDuration(f.Duration)
	return domain.WorkoutRecord{
		UserID:    userID,
		Type:      domain.WorkoutTypeName(f.ExerciseType),
		Duration:  duration,
		Intensity: domain.Intensity(f.Intensity),
	}, nil
}

func parseDuration(s string) (float64, bool) {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, false
	}
	return d, true
}
