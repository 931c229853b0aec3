package progress

import (
	"context"
	"errors"
	"sync"
)

type WorksheetState struct {
	Data      *WorksheetProgress
	IsLoading bool
	IsError   bool
	Err       error
}

// WorksheetQuery loads the stored record of a single worksheet.
type WorksheetQuery struct {
	store Store
	key   Key

	mu    sync.Mutex
	seq   uint64
	state WorksheetState
}

func NewWorksheetQuery(store Store, key Key) *WorksheetQuery {
	return &WorksheetQuery{store: store, key: key, state: WorksheetState{IsLoading: true}}
}

func (q *WorksheetQuery) State() WorksheetState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Refetch loads the record. Only the newest of overlapping calls updates the state.
func (q *WorksheetQuery) Refetch(ctx context.Context) WorksheetState {
	ctx = defaultCtx(ctx)
	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.state.IsLoading = true
	q.mu.Unlock()

	var rec *WorksheetProgress
	err := q.key.Validate()
	if err == nil {
		rec, err = fetchOne(ctx, q.store, q.key)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if seq != q.seq {
		return q.state
	}
	if err != nil {
		q.state = WorksheetState{Data: q.state.Data, IsError: true, Err: err}
		return q.state
	}
	q.state = WorksheetState{Data: rec}
	return q.state
}

type PhaseExercisesState struct {
	PhaseSummary
	IsLoading bool
	IsError   bool
	Err       error
}

// PhaseExercises backs a phase dashboard: it fetches the phase's records and
// aggregates them against the static exercise list.
type PhaseExercises struct {
	store   Store
	phase   int
	configs []ExerciseConfig

	mu    sync.Mutex
	seq   uint64
	state PhaseExercisesState
}

func NewPhaseExercises(store Store, phase int, configs []ExerciseConfig) *PhaseExercises {
	cfgs := append([]ExerciseConfig(nil), configs...)
	return &PhaseExercises{
		store:   store,
		phase:   phase,
		configs: cfgs,
		state: PhaseExercisesState{
			PhaseSummary: Aggregate(phase, cfgs, nil),
			IsLoading:    true,
		},
	}
}

func (p *PhaseExercises) State() PhaseExercisesState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Refetch reloads the phase. On failure the previous exercises are kept and the
// error is exposed; no retry is attempted.
func (p *PhaseExercises) Refetch(ctx context.Context) PhaseExercisesState {
	ctx = defaultCtx(ctx)
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.state.IsLoading = true
	p.mu.Unlock()

	var records []WorksheetProgress
	err := ValidatePhase(p.phase)
	if err == nil {
		records, err = fetchByPhase(ctx, p.store, p.phase)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.seq {
		return p.state
	}
	if err != nil {
		p.state = PhaseExercisesState{PhaseSummary: p.state.PhaseSummary, IsError: true, Err: err}
		return p.state
	}
	p.state = PhaseExercisesState{PhaseSummary: Aggregate(p.phase, p.configs, records)}
	return p.state
}

func fetchOne(ctx context.Context, store Store, key Key) (*WorksheetProgress, error) {
	if store == nil {
		return nil, Unavailable("fetch_one", errors.New("no store configured"))
	}
	rec, err := store.FetchOne(ctx, key)
	if err != nil {
		return nil, Unavailable("fetch_one", err)
	}
	return rec, nil
}

func fetchByPhase(ctx context.Context, store Store, phase int) ([]WorksheetProgress, error) {
	if store == nil {
		return nil, Unavailable("fetch_by_phase", errors.New("no store configured"))
	}
	records, err := store.FetchByPhase(ctx, phase)
	if err != nil {
		return nil, Unavailable("fetch_by_phase", err)
	}
	return records, nil
}
