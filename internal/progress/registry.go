package progress

import "sync"

// Registry owns one SaveController per Key. Screens that edit the same worksheet
// share its controller, so the one-in-flight-upsert rule holds across them, while
// controllers of different keys stay fully independent. A controller created for
// a key whose previous controller was released mid-upsert waits for that upsert
// before sending its own.
type Registry struct {
	opts Options

	mu       sync.Mutex
	entries  map[Key]*registryEntry
	draining map[Key]<-chan struct{}
	closed   bool
}

type registryEntry struct {
	ctrl *SaveController
	refs int
}

// NewRegistry creates an arena whose controllers share opts. opts.Key is ignored.
func NewRegistry(opts Options) *Registry {
	opts.Key = Key{}
	return &Registry{
		opts:     opts.withDefaults(),
		entries:  map[Key]*registryEntry{},
		draining: map[Key]<-chan struct{}{},
	}
}

// Acquire returns the controller for key, creating it on first use. Every Acquire
// must be paired with a Release.
func (r *Registry) Acquire(key Key) (*SaveController, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.entries[key]
	if !ok {
		opts := r.opts
		opts.Key = key
		e = &registryEntry{ctrl: NewSaveController(opts)}
		if done, ok := r.draining[key]; ok {
			delete(r.draining, key)
			e.ctrl.after(key, done)
		}
		r.entries[key] = e
	}
	e.refs++
	return e.ctrl, nil
}

// Release drops one reference; the last one closes the controller. An upsert it
// still has running is remembered so the next Acquire of key queues behind it.
func (r *Registry) Release(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(r.entries, key)
	for k, done := range r.draining {
		if isClosed(done) {
			delete(r.draining, k)
		}
	}
	if done := e.ctrl.close(key); done != nil {
		r.draining[key] = done
	}
}

// Len reports how many keys currently hold a controller.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every controller. Further Acquire calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := r.entries
	r.entries = map[Key]*registryEntry{}
	r.draining = map[Key]<-chan struct{}{}
	r.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Close()
	}
}
