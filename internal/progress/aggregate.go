package progress

import "math"

const (
	ProgressNotStarted = 0
	ProgressStarted    = 50
	ProgressCompleted  = 100
)

// ExerciseProgress maps a record onto the coarse 0/50/100 scale: completed wins,
// otherwise any non-empty data counts as started. It does not try to measure how
// much of the worksheet is filled in.
func ExerciseProgress(rec *WorksheetProgress) int {
	switch {
	case rec == nil:
		return ProgressNotStarted
	case rec.Completed:
		return ProgressCompleted
	case !rec.Data.IsEmpty():
		return ProgressStarted
	default:
		return ProgressNotStarted
	}
}

// Aggregate joins the static exercise list of a phase with its stored records.
// Records without a matching exercise are ignored; exercises without a record
// count as not started. OverallProgress is the rounded mean over all exercises
// and 0 for a phase without exercises.
func Aggregate(phase int, configs []ExerciseConfig, records []WorksheetProgress) PhaseSummary {
	byID := make(map[string]*WorksheetProgress, len(records))
	for i := range records {
		rec := &records[i]
		if prev, ok := byID[rec.WorksheetID]; ok && prev.UpdatedAt.After(rec.UpdatedAt) {
			continue
		}
		byID[rec.WorksheetID] = rec
	}

	out := PhaseSummary{
		PhaseNumber: phase,
		Exercises:   make([]ExerciseWithProgress, 0, len(configs)),
		TotalCount:  len(configs),
	}
	sum := 0
	for _, cfg := range configs {
		rec := byID[cfg.ID]
		ex := ExerciseWithProgress{
			ExerciseConfig: cfg,
			Progress:       ExerciseProgress(rec),
		}
		if rec != nil {
			cp := *rec
			cp.Data = rec.Data.Clone()
			ex.Record = &cp
			ex.IsCompleted = rec.Completed
		}
		if ex.IsCompleted {
			out.CompletedCount++
		}
		sum += ex.Progress
		out.Exercises = append(out.Exercises, ex)
	}
	if out.TotalCount > 0 {
		out.OverallProgress = int(math.Round(float64(sum) / float64(out.TotalCount)))
	}
	return out
}
