package progress_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/yungbote/workbook-backend/internal/progress"
	"github.com/yungbote/workbook-backend/internal/progress/testutil"
)

const (
	testDebounce = 200 * time.Millisecond
	waitTimeout  = 2 * time.Second
	quiet        = 30 * time.Millisecond
)

var (
	keyA = progress.Key{PhaseNumber: 1, WorksheetID: "wheel-of-life"}
	keyB = progress.Key{PhaseNumber: 2, WorksheetID: "swot"}
)

type fixture struct {
	ctrl  *progress.SaveController
	store *testutil.FakeStore
	hooks *testutil.HooksRecorder
	clock *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	store := testutil.NewFakeStore()
	store.Clock = mock
	hooks := &testutil.HooksRecorder{}
	ctrl := progress.NewSaveController(progress.Options{
		Store:       store,
		Key:         keyA,
		Debounce:    testDebounce,
		SaveTimeout: waitTimeout,
		Clock:       mock,
		Hooks:       hooks,
	})
	t.Cleanup(func() {
		ctrl.Close()
		ctrl.Wait()
	})
	return &fixture{ctrl: ctrl, store: store, hooks: hooks, clock: mock}
}

func TestSaveControllerDebounceCoalescesEdits(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now()

	f.ctrl.Schedule(progress.Document{"step": 1})
	f.clock.Add(100 * time.Millisecond)
	f.ctrl.Schedule(progress.Document{"step": 2})
	f.clock.Add(50 * time.Millisecond)
	f.ctrl.Schedule(progress.Document{"step": 3})

	f.clock.Add(199 * time.Millisecond)
	f.store.ExpectNoStart(t, quiet)

	f.clock.Add(time.Millisecond)
	call := f.store.WaitStarted(t, waitTimeout)
	f.ctrl.Wait()

	if got := call.At.Sub(start); got != 350*time.Millisecond {
		t.Fatalf("upsert time: want=%v got=%v", 350*time.Millisecond, got)
	}
	if call.Data["step"] != 3 {
		t.Fatalf("upsert data: want=step 3 got=%v", call.Data)
	}
	if call.Completed != nil {
		t.Fatalf("completed should be omitted: got=%v", *call.Completed)
	}
	if n := len(f.store.Calls()); n != 1 {
		t.Fatalf("upsert count: want=1 got=%d", n)
	}
}

func TestSaveControllerStatusTracksSave(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	if st := f.ctrl.Status(); st.State != progress.StateIdle || st.IsSaving || !st.LastSaved.IsZero() {
		t.Fatalf("initial status: got=%+v", st)
	}

	f.ctrl.Schedule(progress.Document{"a": "x"})
	if st := f.ctrl.Status(); st.State != progress.StatePending {
		t.Fatalf("after schedule: want=%s got=%s", progress.StatePending, st.State)
	}

	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)
	if st := f.ctrl.Status(); !st.IsSaving || st.State != progress.StateSaving {
		t.Fatalf("during upsert: got=%+v", st)
	}

	savedAt := f.clock.Now()
	f.store.ReleaseOne()
	f.ctrl.Wait()

	st := f.ctrl.Status()
	if st.IsSaving || st.IsError || st.State != progress.StateIdle {
		t.Fatalf("after upsert: got=%+v", st)
	}
	if !st.LastSaved.Equal(savedAt) {
		t.Fatalf("last saved: want=%v got=%v", savedAt, st.LastSaved)
	}
	if st.Key != keyA {
		t.Fatalf("status key: want=%v got=%v", keyA, st.Key)
	}
}

func TestSaveControllerCloseCancelsPendingTimer(t *testing.T) {
	f := newFixture(t)

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.ctrl.Close()
	f.clock.Add(time.Second)
	f.store.ExpectNoStart(t, quiet)

	if n := len(f.store.Calls()); n != 0 {
		t.Fatalf("upserts after close: want=0 got=%d", n)
	}
	if n := f.hooks.DiscardCount(progress.DiscardClosed); n != 1 {
		t.Fatalf("closed discards: want=1 got=%d", n)
	}

	f.ctrl.Schedule(progress.Document{"a": 2})
	f.clock.Add(time.Second)
	f.store.ExpectNoStart(t, quiet)
	if err := f.ctrl.SaveNow(context.Background()); !errors.Is(err, progress.ErrClosed) {
		t.Fatalf("save now after close: want=%v got=%v", progress.ErrClosed, err)
	}
}

func TestSaveControllerCloseIgnoresInFlightResult(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	var mu sync.Mutex
	updates := 0
	f.ctrl.Subscribe(func(progress.Status) {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.Close()
	mu.Lock()
	before := updates
	mu.Unlock()

	f.store.ReleaseOne()
	f.ctrl.Wait()

	mu.Lock()
	after := updates
	mu.Unlock()
	if after != before {
		t.Fatalf("status published after close: before=%d after=%d", before, after)
	}
	if n := f.hooks.DiscardCount(progress.DiscardStaleResponse); n != 1 {
		t.Fatalf("stale responses: want=1 got=%d", n)
	}
}

func TestSaveControllerSingleInFlightWithFollowUp(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	f.ctrl.Schedule(progress.Document{"v": 1})
	f.clock.Add(testDebounce)
	first := f.store.WaitStarted(t, waitTimeout)

	f.ctrl.Schedule(progress.Document{"v": 2})
	f.clock.Add(testDebounce)
	f.ctrl.Schedule(progress.Document{"v": 3})
	f.clock.Add(testDebounce)
	f.store.ExpectNoStart(t, quiet)

	f.store.ReleaseOne()
	second := f.store.WaitStarted(t, waitTimeout)
	f.store.ExpectNoStart(t, quiet)
	f.store.ReleaseOne()
	f.ctrl.Wait()

	if first.Data["v"] != 1 {
		t.Fatalf("first upsert: want=v 1 got=%v", first.Data)
	}
	if second.Data["v"] != 3 {
		t.Fatalf("follow-up upsert: want=v 3 got=%v", second.Data)
	}
	if n := len(f.store.Calls()); n != 2 {
		t.Fatalf("upsert count: want=2 got=%d", n)
	}
	if n := f.store.MaxInFlight(); n != 1 {
		t.Fatalf("max in flight: want=1 got=%d", n)
	}
}

func TestSaveControllerSaveNowCancelsTimer(t *testing.T) {
	f := newFixture(t)

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(100 * time.Millisecond)
	if err := f.ctrl.SaveNow(context.Background()); err != nil {
		t.Fatalf("save now: %v", err)
	}
	f.store.WaitStarted(t, waitTimeout)
	f.clock.Add(time.Second)
	f.store.ExpectNoStart(t, 2*quiet)

	calls := f.store.Calls()
	if len(calls) != 1 {
		t.Fatalf("upsert count: want=1 got=%d", len(calls))
	}
	if calls[0].Data["a"] != 1 {
		t.Fatalf("upsert data: got=%v", calls[0].Data)
	}
}

func TestSaveControllerSaveNowWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.SaveNow(context.Background()); err != nil {
		t.Fatalf("save now: %v", err)
	}
	f.store.ExpectNoStart(t, quiet)
}

func TestSaveControllerSaveNowSerializesBehindInFlight(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	f.ctrl.Schedule(progress.Document{"v": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.Schedule(progress.Document{"v": 2})
	done := make(chan error, 1)
	go func() { done <- f.ctrl.SaveNow(context.Background()) }()

	f.store.ExpectNoStart(t, quiet)
	f.store.ReleaseOne()
	second := f.store.WaitStarted(t, waitTimeout)
	select {
	case err := <-done:
		t.Fatalf("save now returned before its upsert resolved: %v", err)
	default:
	}
	f.store.ReleaseOne()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("save now: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("save now did not return")
	}
	if second.Data["v"] != 2 {
		t.Fatalf("serialized upsert: want=v 2 got=%v", second.Data)
	}
	if n := f.store.MaxInFlight(); n != 1 {
		t.Fatalf("max in flight: want=1 got=%d", n)
	}
}

func TestSaveControllerKeySwitchDiscardsPendingSave(t *testing.T) {
	f := newFixture(t)

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.ctrl.SetKey(keyB)
	f.clock.Add(time.Second)
	f.store.ExpectNoStart(t, quiet)

	if n := f.hooks.DiscardCount(progress.DiscardKeySwitch); n != 1 {
		t.Fatalf("key switch discards: want=1 got=%d", n)
	}
	if got := f.ctrl.Key(); got != keyB {
		t.Fatalf("key: want=%v got=%v", keyB, got)
	}
}

func TestSaveControllerKeySwitchIgnoresStaleResponse(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()
	f.store.FailNext(testutil.ErrFakeOutage)

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.SetKey(keyB)
	f.ctrl.Schedule(progress.Document{"b": 1})
	f.store.ReleaseOne()
	f.ctrl.Wait()

	st := f.ctrl.Status()
	if st.IsError || st.IsSaving || st.Key != keyB {
		t.Fatalf("status after stale failure: got=%+v", st)
	}
	if n := f.hooks.DiscardCount(progress.DiscardStaleResponse); n != 1 {
		t.Fatalf("stale responses: want=1 got=%d", n)
	}

	f.clock.Add(testDebounce)
	call := f.store.WaitStarted(t, waitTimeout)
	f.store.ReleaseOne()
	f.ctrl.Wait()

	if call.Key != keyB || call.Data["b"] != 1 {
		t.Fatalf("upsert after switch: got=%+v", call)
	}
	if _, ok := f.store.Record(keyA); ok {
		t.Fatalf("record for previous key should not exist")
	}
}

func TestSaveControllerFailureRetainsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext(testutil.ErrFakeOutage)

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)
	f.ctrl.Wait()

	st := f.ctrl.Status()
	if !st.IsError || st.State != progress.StateError {
		t.Fatalf("status after failure: got=%+v", st)
	}
	if !errors.Is(st.Err, progress.ErrStoreUnavailable) || !errors.Is(st.Err, testutil.ErrFakeOutage) {
		t.Fatalf("status error: got=%v", st.Err)
	}
	if !progress.IsRetryable(st.Err) {
		t.Fatalf("store failure should be retryable: %v", st.Err)
	}
	if n := f.hooks.SaveCount(progress.SaveStatusError); n != 1 {
		t.Fatalf("error saves: want=1 got=%d", n)
	}

	if err := f.ctrl.SaveNow(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st = f.ctrl.Status()
	if st.IsError || st.Err != nil {
		t.Fatalf("status after retry: got=%+v", st)
	}
	rec, ok := f.store.Record(keyA)
	if !ok || rec.Data["a"] != 1 {
		t.Fatalf("record after retry: got=%+v ok=%v", rec, ok)
	}
}

func TestSaveControllerSaveNowReturnsStoreError(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext(testutil.ErrFakeOutage)

	f.ctrl.Schedule(progress.Document{"a": 1})
	err := f.ctrl.SaveNow(context.Background())
	if !errors.Is(err, progress.ErrStoreUnavailable) {
		t.Fatalf("save now: want=%v got=%v", progress.ErrStoreUnavailable, err)
	}
}

func TestSaveControllerSkipsUnchangedSnapshot(t *testing.T) {
	f := newFixture(t)

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)
	f.ctrl.Wait()

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(testDebounce)
	f.store.ExpectNoStart(t, quiet)

	if n := f.hooks.DiscardCount(progress.DiscardDuplicate); n != 1 {
		t.Fatalf("duplicate discards: want=1 got=%d", n)
	}
	if st := f.ctrl.Status(); st.State != progress.StateIdle {
		t.Fatalf("status: want=%s got=%s", progress.StateIdle, st.State)
	}
}

func TestSaveControllerSeedSuppressesUnchangedSave(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Seed(progress.Document{"a": "loaded"}, false)

	f.ctrl.Schedule(progress.Document{"a": "loaded"})
	f.clock.Add(testDebounce)
	f.store.ExpectNoStart(t, quiet)

	f.ctrl.Schedule(progress.Document{"a": "edited"})
	f.clock.Add(testDebounce)
	call := f.store.WaitStarted(t, waitTimeout)
	f.ctrl.Wait()
	if call.Data["a"] != "edited" {
		t.Fatalf("upsert data: got=%v", call.Data)
	}
}

func TestSaveControllerCompleteSticks(t *testing.T) {
	f := newFixture(t)

	f.ctrl.Schedule(progress.Document{"a": 1})
	if err := f.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.ctrl.Schedule(progress.Document{"a": 2})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)
	f.store.WaitStarted(t, waitTimeout)
	f.ctrl.Wait()

	calls := f.store.Calls()
	if len(calls) != 2 {
		t.Fatalf("upsert count: want=2 got=%d", len(calls))
	}
	for i, c := range calls {
		if c.Completed == nil || !*c.Completed {
			t.Fatalf("call %d completed: want=true got=%v", i, c.Completed)
		}
	}
	if calls[0].Data["a"] != 1 || calls[1].Data["a"] != 2 {
		t.Fatalf("upsert data: got=%v then %v", calls[0].Data, calls[1].Data)
	}
}

func TestSaveControllerCompleteWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rec, ok := f.store.Record(keyA)
	if !ok || !rec.Completed || !rec.Data.IsEmpty() {
		t.Fatalf("record: got=%+v ok=%v", rec, ok)
	}
}

func TestSaveControllerSubscribeOrdersTransitions(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	var mu sync.Mutex
	var states []progress.State
	unsubscribe := f.ctrl.Subscribe(func(st progress.Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})

	f.ctrl.Schedule(progress.Document{"a": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)
	f.store.ReleaseOne()
	f.ctrl.Wait()
	unsubscribe()
	f.ctrl.Schedule(progress.Document{"a": 2})

	mu.Lock()
	defer mu.Unlock()
	want := []progress.State{progress.StatePending, progress.StateSaving, progress.StateIdle}
	if len(states) != len(want) {
		t.Fatalf("transitions: want=%v got=%v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: want=%s got=%s", i, want[i], states[i])
		}
	}
}

func TestSaveControllerWithoutStoreReportsUnavailable(t *testing.T) {
	ctrl := progress.NewSaveController(progress.Options{Key: keyA, Clock: clock.NewMock()})
	defer ctrl.Close()

	ctrl.Schedule(progress.Document{"a": 1})
	err := ctrl.SaveNow(context.Background())
	if !errors.Is(err, progress.ErrStoreUnavailable) {
		t.Fatalf("save now: want=%v got=%v", progress.ErrStoreUnavailable, err)
	}
	ctrl.Wait()
}

func TestSaveControllerKeySwitchBackSerializes(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	f.ctrl.Schedule(progress.Document{"v": "old"})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.SetKey(keyB)
	f.ctrl.SetKey(keyA)
	f.ctrl.Schedule(progress.Document{"v": "new"})
	done := make(chan error, 1)
	go func() { done <- f.ctrl.SaveNow(context.Background()) }()

	f.store.ExpectNoStart(t, quiet)
	f.store.ReleaseOne()
	second := f.store.WaitStarted(t, waitTimeout)
	f.store.ReleaseOne()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("save now: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("save now did not return")
	}
	f.ctrl.Wait()

	if second.Key != keyA || second.Data["v"] != "new" {
		t.Fatalf("serialized upsert: got=%+v", second)
	}
	if n := f.store.MaxInFlight(); n != 1 {
		t.Fatalf("max in flight: want=1 got=%d", n)
	}
	rec, ok := f.store.Record(keyA)
	if !ok || rec.Data["v"] != "new" {
		t.Fatalf("stored data: want=v new got=%v", rec.Data)
	}
}

func TestSaveControllerKeySwitchBackTimerWaitsForAbandoned(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	f.ctrl.Schedule(progress.Document{"v": 1})
	f.clock.Add(testDebounce)
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.SetKey(keyB)
	f.ctrl.SetKey(keyA)
	f.ctrl.Schedule(progress.Document{"v": 2})
	f.clock.Add(testDebounce)
	f.store.ExpectNoStart(t, quiet)

	f.store.ReleaseOne()
	second := f.store.WaitStarted(t, waitTimeout)
	f.store.ReleaseOne()
	f.ctrl.Wait()

	if second.Data["v"] != 2 {
		t.Fatalf("queued upsert: want=v 2 got=%v", second.Data)
	}
	if n := f.store.MaxInFlight(); n != 1 {
		t.Fatalf("max in flight: want=1 got=%d", n)
	}
}

func TestSaveControllerSaveNowAbandonedByKeySwitch(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()
	f.store.FailNext(testutil.ErrFakeOutage)

	f.ctrl.Schedule(progress.Document{"a": 1})
	done := make(chan error, 1)
	go func() { done <- f.ctrl.SaveNow(context.Background()) }()
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.SetKey(keyB)
	f.store.ReleaseOne()

	select {
	case err := <-done:
		if !errors.Is(err, progress.ErrStaleKeySwitch) {
			t.Fatalf("save now: want=%v got=%v", progress.ErrStaleKeySwitch, err)
		}
		if !errors.Is(err, testutil.ErrFakeOutage) {
			t.Fatalf("save now should keep store error: got=%v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("save now did not return")
	}
}

func TestSaveControllerSaveNowAbandonedWithoutStoreError(t *testing.T) {
	f := newFixture(t)
	f.store.Hold()

	f.ctrl.Schedule(progress.Document{"a": 1})
	done := make(chan error, 1)
	go func() { done <- f.ctrl.SaveNow(context.Background()) }()
	f.store.WaitStarted(t, waitTimeout)

	f.ctrl.SetKey(keyB)
	f.store.ReleaseOne()

	select {
	case err := <-done:
		if !errors.Is(err, progress.ErrStaleKeySwitch) {
			t.Fatalf("save now: want=%v got=%v", progress.ErrStaleKeySwitch, err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("save now did not return")
	}
}
