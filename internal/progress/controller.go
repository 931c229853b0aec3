package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/yungbote/workbook-backend/internal/platform/logger"
)

const (
	DefaultDebounce    = 1000 * time.Millisecond
	DefaultSaveTimeout = 30 * time.Second
)

type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSaving  State = "saving"
	StateError   State = "error"
)

// Status is what a save indicator renders.
type Status struct {
	Key       Key
	State     State
	IsSaving  bool
	IsError   bool
	LastSaved time.Time
	Err       error
}

type Options struct {
	Store       Store
	Key         Key
	Debounce    time.Duration
	SaveTimeout time.Duration
	Clock       clock.Clock
	Log         *logger.Logger
	Hooks       Hooks
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = DefaultSaveTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Log == nil {
		o.Log = logger.Nop()
	}
	if o.Hooks == nil {
		o.Hooks = noopHooks{}
	}
	return o
}

type snapshot struct {
	data      Document
	completed *bool
}

// saveRound is one upsert that callers of SaveNow may wait on.
type saveRound struct {
	done  chan struct{}
	err   error
	force bool
	key   Key
	// abandoned is set under the controller lock when SetKey leaves the round
	// running against the previous key.
	abandoned bool
}

func newRound() *saveRound { return &saveRound{done: make(chan struct{})} }

func (r *saveRound) finish(err error) {
	r.err = err
	close(r.done)
}

func (r *saveRound) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveController debounces snapshots of one worksheet into upserts.
//
// Per key there is at most one upsert in flight. A debounce window that closes
// while an upsert is running queues exactly one follow-up save, which carries the
// latest snapshot once the running call resolves. Timer callbacks and upsert
// completions are tagged so that anything belonging to a previous key or to a
// closed controller is dropped instead of applied. An upsert left running by
// SetKey or by a released predecessor still blocks new upserts for its key until
// it resolves.
type SaveController struct {
	store    Store
	clk      clock.Clock
	debounce time.Duration
	timeout  time.Duration
	log      *logger.Logger
	hooks    Hooks

	notifyMu sync.Mutex
	wg       sync.WaitGroup

	mu      sync.Mutex
	key     Key
	gen     uint64
	timerID uint64
	timer   *clock.Timer
	closed  bool

	current   *snapshot
	dirty     bool
	completed *bool

	inFlight *saveRound
	queued   *saveRound
	blockers map[Key]<-chan struct{}

	lastPersisted          []byte
	lastPersistedCompleted *bool
	lastSaved              time.Time
	lastErr                error

	subs    map[int]func(Status)
	nextSub int
}

func NewSaveController(opts Options) *SaveController {
	opts = opts.withDefaults()
	return &SaveController{
		store:    opts.Store,
		clk:      opts.Clock,
		debounce: opts.Debounce,
		timeout:  opts.SaveTimeout,
		log:      opts.Log.With("component", "SaveController"),
		hooks:    opts.Hooks,
		key:      opts.Key,
		blockers: map[Key]<-chan struct{}{},
		subs:     map[int]func(Status){},
	}
}

func (c *SaveController) Key() Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Seed records state loaded from the store as already persisted, so an unchanged
// form does not produce a save. A completed record keeps later saves completed.
func (c *SaveController) Seed(doc Document, completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if completed {
		c.completed = Bool(true)
	}
	c.current = &snapshot{data: doc.Clone(), completed: c.completed}
	c.lastPersisted = encodeSnapshot(c.current)
	c.lastPersistedCompleted = c.completed
	c.dirty = false
}

// Schedule records doc as the latest snapshot and restarts the debounce timer.
func (c *SaveController) Schedule(doc Document) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.current = &snapshot{data: doc.Clone(), completed: c.completed}
	c.dirty = true
	c.armTimerLocked()
	c.mu.Unlock()
	c.publish()
}

// SaveNow upserts the latest snapshot immediately, cancelling any armed timer.
// If an upsert is already running the save is serialized behind it. It blocks
// until its own upsert resolves and returns that upsert's error. Without any
// snapshot it does nothing.
func (c *SaveController) SaveNow(ctx context.Context) error {
	ctx = defaultCtx(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopTimerLocked()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	round := c.forceSaveLocked()
	c.mu.Unlock()
	c.publish()
	return round.wait(ctx)
}

// Complete marks the worksheet completed and saves immediately. Later autosaves
// keep sending completed=true. Without a prior snapshot an empty document is sent.
func (c *SaveController) Complete(ctx context.Context) error {
	ctx = defaultCtx(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopTimerLocked()
	c.completed = Bool(true)
	if c.current == nil {
		c.current = &snapshot{data: Document{}}
	}
	c.current = &snapshot{data: c.current.data, completed: c.completed}
	c.dirty = true
	round := c.forceSaveLocked()
	c.mu.Unlock()
	c.publish()
	return round.wait(ctx)
}

// SetKey rebinds the controller to another worksheet. Anything armed or queued for
// the previous key is discarded. An upsert already in flight finishes against the
// previous key and its outcome is ignored, but switching back to that key waits
// for it before sending anything new.
func (c *SaveController) SetKey(key Key) {
	c.mu.Lock()
	if c.closed || key == c.key {
		c.mu.Unlock()
		return
	}
	prev := c.key
	hadPending := c.timer != nil || c.queued != nil
	c.stopTimerLocked()
	c.gen++
	c.key = key
	queued := c.queued
	c.queued = nil
	if c.inFlight != nil {
		c.inFlight.abandoned = true
		c.blockOnLocked(c.inFlight.key, c.inFlight.done)
		c.inFlight = nil
	}
	c.current = nil
	c.dirty = false
	c.completed = nil
	c.lastPersisted = nil
	c.lastPersistedCompleted = nil
	c.lastSaved = time.Time{}
	c.lastErr = nil
	c.mu.Unlock()

	if queued != nil {
		queued.finish(ErrStaleKeySwitch)
	}
	if hadPending {
		c.hooks.IncDiscarded(prev, DiscardKeySwitch)
		c.log.Debug("discarded pending save on key switch", "from", prev.String(), "to", key.String())
	}
	c.publish()
}

// Close tears the controller down. The armed timer is cancelled and no upsert is
// issued afterwards; the result of one already in flight is ignored.
func (c *SaveController) Close() { c.close(Key{}) }

// close is Close that also reports what a successor for key must wait on before
// its first upsert: the running upsert for key, if any. The signal is taken under
// the same lock that marks the controller closed, so no upsert can slip in
// between.
func (c *SaveController) close(key Key) <-chan struct{} {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	drain := c.drainLocked(key)
	cur := c.key
	hadPending := c.timer != nil || c.queued != nil
	c.closed = true
	c.stopTimerLocked()
	c.gen++
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	c.notifyMu.Lock()
	c.mu.Lock()
	c.subs = map[int]func(Status){}
	c.mu.Unlock()
	c.notifyMu.Unlock()

	if queued != nil {
		queued.finish(ErrClosed)
	}
	if hadPending {
		c.hooks.IncDiscarded(cur, DiscardClosed)
	}
	return drain
}

func (c *SaveController) drainLocked(key Key) <-chan struct{} {
	if c.inFlight != nil && c.inFlight.key == key {
		return c.inFlight.done
	}
	if ch, ok := c.blockers[key]; ok && !isClosed(ch) {
		return ch
	}
	return nil
}

// after makes upserts for key wait until done is closed.
func (c *SaveController) after(key Key, done <-chan struct{}) {
	if done == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.blockOnLocked(key, done)
}

func (c *SaveController) blockOnLocked(key Key, done <-chan struct{}) {
	c.blockers[key] = done
	c.wg.Add(1)
	go c.awaitDrain(key, done)
}

func (c *SaveController) blockedLocked() bool {
	ch, ok := c.blockers[c.key]
	if !ok {
		return false
	}
	if isClosed(ch) {
		delete(c.blockers, c.key)
		return false
	}
	return true
}

// awaitDrain starts the save queued behind a blocking upsert once it resolves.
func (c *SaveController) awaitDrain(key Key, done <-chan struct{}) {
	defer c.wg.Done()
	<-done

	c.mu.Lock()
	if ch, ok := c.blockers[key]; ok && ch == done {
		delete(c.blockers, key)
	}
	if c.closed || key != c.key || c.inFlight != nil || c.queued == nil || c.blockedLocked() {
		c.mu.Unlock()
		return
	}
	next := c.queued
	c.queued = nil
	var skipped *saveRound
	if next.force || (c.dirty && c.current != nil && !c.isDuplicateLocked()) {
		c.startLocked(next)
	} else {
		c.dirty = false
		skipped = next
	}
	c.mu.Unlock()

	if skipped != nil {
		skipped.finish(nil)
	}
	c.publish()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Wait blocks until every upsert goroutine started by this controller returned.
func (c *SaveController) Wait() { c.wg.Wait() }

func (c *SaveController) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Subscribe registers fn for status changes and returns the unsubscribe func.
// fn runs outside the controller lock but must not call Schedule, SaveNow,
// Complete, SetKey, Close or the owning Registry synchronously.
func (c *SaveController) Subscribe(fn func(Status)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *SaveController) armTimerLocked() {
	c.stopTimerLocked()
	id := c.timerID
	c.timer = c.clk.AfterFunc(c.debounce, func() { c.onTimer(id) })
}

func (c *SaveController) stopTimerLocked() {
	c.timerID++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *SaveController) onTimer(id uint64) {
	c.mu.Lock()
	if c.closed || id != c.timerID {
		key := c.key
		c.mu.Unlock()
		c.hooks.IncDiscarded(key, DiscardStaleTimer)
		return
	}
	c.timer = nil
	c.timerID++
	if !c.dirty || c.current == nil {
		c.mu.Unlock()
		c.publish()
		return
	}
	if c.inFlight != nil || c.blockedLocked() {
		if c.queued == nil {
			c.queued = newRound()
		}
		c.mu.Unlock()
		c.publish()
		return
	}
	if c.isDuplicateLocked() {
		c.dirty = false
		key := c.key
		c.mu.Unlock()
		c.hooks.IncDiscarded(key, DiscardDuplicate)
		c.publish()
		return
	}
	c.startLocked(newRound())
	c.mu.Unlock()
	c.publish()
}

func (c *SaveController) forceSaveLocked() *saveRound {
	if c.inFlight != nil || c.blockedLocked() {
		if c.queued == nil {
			c.queued = newRound()
		}
		c.queued.force = true
		return c.queued
	}
	round := newRound()
	c.startLocked(round)
	return round
}

func (c *SaveController) startLocked(round *saveRound) {
	snap := &snapshot{data: c.current.data.Clone(), completed: c.current.completed}
	c.dirty = false
	round.key = c.key
	c.inFlight = round
	key, gen := c.key, c.gen
	c.wg.Add(1)
	go c.run(round, key, gen, snap)
}

func (c *SaveController) run(round *saveRound, key Key, gen uint64, snap *snapshot) {
	defer c.wg.Done()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	err := c.upsert(ctx, key, snap)
	cancel()
	dur := time.Since(start)

	status := SaveStatusSuccess
	if err != nil {
		status = SaveStatusError
	}
	c.hooks.ObserveSave(key, status, dur)
	c.finishSave(round, key, gen, snap, err)
}

func (c *SaveController) upsert(ctx context.Context, key Key, snap *snapshot) (err error) {
	if c.store == nil {
		return Unavailable("upsert", errors.New("no store configured"))
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("store upsert panicked", "worksheet", key.String(), "panic", r)
			err = Unavailable("upsert", errors.New("store panicked"))
		}
	}()
	return Unavailable("upsert", c.store.Upsert(ctx, key, snap.data, snap.completed))
}

func (c *SaveController) finishSave(round *saveRound, key Key, gen uint64, snap *snapshot, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		if round.abandoned {
			err = errors.Join(ErrStaleKeySwitch, err)
		}
		c.mu.Unlock()
		round.finish(err)
		c.hooks.IncDiscarded(key, DiscardStaleResponse)
		return
	}
	c.inFlight = nil
	if err != nil {
		c.lastErr = err
		c.dirty = true
		c.log.Warn("worksheet save failed", "worksheet", key.String(), "error", err)
	} else {
		c.lastErr = nil
		c.lastSaved = c.clk.Now()
		c.lastPersisted = encodeSnapshot(snap)
		c.lastPersistedCompleted = snap.completed
		c.log.Debug("worksheet saved", "worksheet", key.String())
	}

	var skipped *saveRound
	if next := c.queued; next != nil {
		c.queued = nil
		switch {
		case next.force:
			c.startLocked(next)
		case c.dirty && (err != nil || !c.isDuplicateLocked()):
			c.startLocked(next)
		default:
			c.dirty = false
			skipped = next
		}
	}
	c.mu.Unlock()

	round.finish(err)
	if skipped != nil {
		skipped.finish(nil)
	}
	c.publish()
}

func (c *SaveController) isDuplicateLocked() bool {
	if c.current == nil || c.lastPersisted == nil {
		return false
	}
	if !boolPtrEqual(c.current.completed, c.lastPersistedCompleted) {
		return false
	}
	return bytes.Equal(encodeSnapshot(c.current), c.lastPersisted)
}

func (c *SaveController) statusLocked() Status {
	st := Status{
		Key:       c.key,
		IsSaving:  c.inFlight != nil || c.queued != nil,
		IsError:   c.lastErr != nil,
		LastSaved: c.lastSaved,
		Err:       c.lastErr,
	}
	switch {
	case c.inFlight != nil || c.queued != nil:
		st.State = StateSaving
	case c.timer != nil:
		st.State = StatePending
	case c.lastErr != nil:
		st.State = StateError
	default:
		st.State = StateIdle
	}
	return st
}

// publish delivers the current status to subscribers. notifyMu keeps deliveries
// ordered so a subscriber never sees an older status after a newer one.
func (c *SaveController) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	st := c.statusLocked()
	subs := make([]func(Status), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

func encodeSnapshot(s *snapshot) []byte {
	if s == nil {
		return nil
	}
	data := s.data
	if data == nil {
		data = Document{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func defaultCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
