package testutil

import (
	"sync"
	"time"

	"github.com/yungbote/workbook-backend/internal/progress"
)

// HooksRecorder captures controller hook signals in tests.
type HooksRecorder struct {
	mu sync.Mutex

	Saves     []SaveEvent
	Discarded []DiscardEvent
}

type SaveEvent struct {
	Key      progress.Key
	Status   string
	Duration time.Duration
}

type DiscardEvent struct {
	Key    progress.Key
	Reason string
}

var _ progress.Hooks = (*HooksRecorder)(nil)

func (h *HooksRecorder) ObserveSave(key progress.Key, status string, dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Saves = append(h.Saves, SaveEvent{Key: key, Status: status, Duration: dur})
}

func (h *HooksRecorder) IncDiscarded(key progress.Key, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Discarded = append(h.Discarded, DiscardEvent{Key: key, Reason: reason})
}

func (h *HooksRecorder) DiscardCount(reason string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, d := range h.Discarded {
		if d.Reason == reason {
			n++
		}
	}
	return n
}

func (h *HooksRecorder) SaveCount(status string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.Saves {
		if s.Status == status {
			n++
		}
	}
	return n
}
