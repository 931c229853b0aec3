package progress

import "sync"

// EditBuffer holds the in-memory form state of one worksheet screen. It never
// touches the network; listeners registered with OnChange observe every Update.
type EditBuffer struct {
	mu        sync.Mutex
	doc       Document
	listeners map[int]func(Document)
	nextID    int
}

func NewEditBuffer(initial Document) *EditBuffer {
	doc := initial.Clone()
	if doc == nil {
		doc = Document{}
	}
	return &EditBuffer{doc: doc, listeners: map[int]func(Document){}}
}

// Update shallow-merges partial into the current state and notifies listeners.
// A nil value in partial stores an explicit null for that field.
func (b *EditBuffer) Update(partial Document) {
	b.mu.Lock()
	for k, v := range partial {
		b.doc[k] = cloneValue(v)
	}
	snap := b.doc.Clone()
	listeners := b.listenersLocked()
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Replace swaps the whole state without notifying listeners. Hydrating a screen
// from a fetched record must not look like an edit.
func (b *EditBuffer) Replace(doc Document) {
	next := doc.Clone()
	if next == nil {
		next = Document{}
	}
	b.mu.Lock()
	b.doc = next
	b.mu.Unlock()
}

// Snapshot returns a deep copy of the full state.
func (b *EditBuffer) Snapshot() Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc.Clone()
}

// OnChange registers fn for every subsequent Update. The returned func unregisters it.
func (b *EditBuffer) OnChange(fn func(Document)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *EditBuffer) listenersLocked() []func(Document) {
	if len(b.listeners) == 0 {
		return nil
	}
	out := make([]func(Document), 0, len(b.listeners))
	for i := 0; i < b.nextID; i++ {
		if fn, ok := b.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Attach wires buffer changes into the controller. The returned func detaches it.
func Attach(b *EditBuffer, c *SaveController) func() {
	if b == nil || c == nil {
		return func() {}
	}
	return b.OnChange(c.Schedule)
}
