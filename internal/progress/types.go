package progress

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	MinPhase = 1
	MaxPhase = 10
)

var worksheetIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Key identifies a worksheet within a phase. The owning user is implied by the Store.
type Key struct {
	PhaseNumber int    `json:"phase_number"`
	WorksheetID string `json:"worksheet_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.PhaseNumber, k.WorksheetID)
}

func (k Key) Validate() error {
	if err := ValidatePhase(k.PhaseNumber); err != nil {
		return err
	}
	if !worksheetIDPattern.MatchString(k.WorksheetID) {
		return fmt.Errorf("%w: worksheet id %q", ErrInvalidKey, k.WorksheetID)
	}
	return nil
}

func ValidatePhase(phase int) error {
	if phase < MinPhase || phase > MaxPhase {
		return fmt.Errorf("%w: phase %d outside %d-%d", ErrInvalidKey, phase, MinPhase, MaxPhase)
	}
	return nil
}

// Document is the exercise-specific form state. The sync layer only looks at
// whether it is empty.
type Document map[string]any

// Clone returns a deep copy of nested maps and slices.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func (d Document) IsEmpty() bool { return len(d) == 0 }

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// DecodeDocument parses stored JSON. null, empty input and non-object values decode
// to an empty document.
func DecodeDocument(raw []byte) (Document, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, fmt.Errorf("decode worksheet data: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	return Document(obj), nil
}

// WorksheetProgress is the stored record for one worksheet.
type WorksheetProgress struct {
	PhaseNumber int       `json:"phase_number"`
	WorksheetID string    `json:"worksheet_id"`
	Data        Document  `json:"data,omitempty"`
	Completed   bool      `json:"completed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (w WorksheetProgress) Key() Key {
	return Key{PhaseNumber: w.PhaseNumber, WorksheetID: w.WorksheetID}
}

// ExerciseConfig is the static description of an exercise authored per phase.
type ExerciseConfig struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description" yaml:"description"`
	Icon          string `json:"icon" yaml:"icon"`
	EstimatedTime string `json:"estimated_time" yaml:"estimated_time"`
}

// ExerciseWithProgress joins an ExerciseConfig with its record, if any.
type ExerciseWithProgress struct {
	ExerciseConfig
	Record      *WorksheetProgress `json:"record,omitempty"`
	Progress    int                `json:"progress"`
	IsCompleted bool               `json:"is_completed"`
}

// PhaseSummary is the aggregate view a phase dashboard renders.
type PhaseSummary struct {
	PhaseNumber     int                    `json:"phase_number"`
	Exercises       []ExerciseWithProgress `json:"exercises"`
	CompletedCount  int                    `json:"completed_count"`
	TotalCount      int                    `json:"total_count"`
	OverallProgress int                    `json:"overall_progress"`
}
