package progress

import "context"

// Store is the remote persistence of worksheet records for one user.
//
// Upsert is insert-or-update on (phase, worksheet) with last-write-wins semantics.
// A nil completed leaves the stored flag untouched. FetchOne returns nil, nil when
// no record exists and FetchByPhase returns an empty slice for an empty phase.
type Store interface {
	Upsert(ctx context.Context, key Key, data Document, completed *bool) error
	FetchOne(ctx context.Context, key Key) (*WorksheetProgress, error)
	FetchByPhase(ctx context.Context, phase int) ([]WorksheetProgress, error)
}

// Bool returns a pointer to b, for the optional completed argument of Upsert.
func Bool(b bool) *bool { return &b }
