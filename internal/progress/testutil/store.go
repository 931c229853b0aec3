package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/yungbote/workbook-backend/internal/progress"
)

// UpsertCall records one Upsert issued against a FakeStore.
type UpsertCall struct {
	Key       progress.Key
	Data      progress.Document
	Completed *bool
	At        time.Time
}

// FakeStore is an in-memory progress.Store with failure injection and the ability
// to hold upserts in flight until the test releases them.
type FakeStore struct {
	Clock clock.Clock

	mu          sync.Mutex
	records     map[progress.Key]progress.WorksheetProgress
	calls       []UpsertCall
	failNext    []error
	fetchErr    error
	hold        bool
	inFlight    int
	maxInFlight int
	fetches     int

	release chan struct{}
	started chan UpsertCall
}

var _ progress.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		records: map[progress.Key]progress.WorksheetProgress{},
		release: make(chan struct{}, 64),
		started: make(chan UpsertCall, 64),
	}
}

func (s *FakeStore) Upsert(ctx context.Context, key progress.Key, data progress.Document, completed *bool) error {
	s.mu.Lock()
	call := UpsertCall{Key: key, Data: data.Clone(), At: s.now()}
	if completed != nil {
		call.Completed = progress.Bool(*completed)
	}
	s.calls = append(s.calls, call)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	var err error
	if len(s.failNext) > 0 {
		err = s.failNext[0]
		s.failNext = s.failNext[1:]
	}
	hold := s.hold
	s.mu.Unlock()

	select {
	case s.started <- call:
	default:
	}

	if hold {
		select {
		case <-s.release:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if err != nil {
		return err
	}
	rec := s.records[key]
	rec.PhaseNumber = key.PhaseNumber
	rec.WorksheetID = key.WorksheetID
	rec.Data = data.Clone()
	if completed != nil {
		rec.Completed = *completed
	}
	rec.UpdatedAt = s.now()
	s.records[key] = rec
	return nil
}

func (s *FakeStore) FetchOne(ctx context.Context, key progress.Key) (*progress.WorksheetProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	rec.Data = rec.Data.Clone()
	return &rec, nil
}

func (s *FakeStore) FetchByPhase(ctx context.Context, phase int) ([]progress.WorksheetProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := []progress.WorksheetProgress{}
	for k, rec := range s.records {
		if k.PhaseNumber != phase {
			continue
		}
		rec.Data = rec.Data.Clone()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorksheetID < out[j].WorksheetID })
	return out, nil
}

// Put stores rec directly, bypassing the call log.
func (s *FakeStore) Put(rec progress.WorksheetProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key()] = rec
}

func (s *FakeStore) Record(key progress.Key) (progress.WorksheetProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// FailNext makes the next upsert return err.
func (s *FakeStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

func (s *FakeStore) SetFetchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

// Hold makes subsequent upserts block until ReleaseOne is called for each of them.
func (s *FakeStore) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = true
}

// Unhold stops blocking new upserts. Already blocked ones still need ReleaseOne.
func (s *FakeStore) Unhold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = false
}

func (s *FakeStore) ReleaseOne() { s.release <- struct{}{} }

func (s *FakeStore) Calls() []UpsertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UpsertCall(nil), s.calls...)
}

func (s *FakeStore) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *FakeStore) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// WaitStarted blocks until the next upsert begins.
func (s *FakeStore) WaitStarted(tb testing.TB, timeout time.Duration) UpsertCall {
	tb.Helper()
	select {
	case call := <-s.started:
		return call
	case <-time.After(timeout):
		tb.Fatalf("timed out waiting for upsert to start")
	}
	return UpsertCall{}
}

// ExpectNoStart fails if an upsert begins within d.
func (s *FakeStore) ExpectNoStart(tb testing.TB, d time.Duration) {
	tb.Helper()
	select {
	case call := <-s.started:
		tb.Fatalf("unexpected upsert for %s", call.Key)
	case <-time.After(d):
	}
}

func (s *FakeStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now().UTC()
}

// ErrFakeOutage is a convenience failure for tests.
var ErrFakeOutage = errors.New("fake store outage")
