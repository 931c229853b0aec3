package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/workbook-backend/internal/platform/logger"
	"github.com/yungbote/workbook-backend/internal/progress"
)

// syncJob replays newline-delimited JSON edits of one worksheet through the
// same autosave path an editor uses.
type syncJob struct {
	Store    progress.Store
	Key      progress.Key
	Debounce time.Duration
	Complete bool
	// Exercises, when set, are aggregated against the phase after the edits land.
	Exercises []progress.ExerciseConfig
	Hooks     progress.Hooks
	Log       *logger.Logger
}

func (j syncJob) run(ctx context.Context, in io.Reader, out, status io.Writer) error {
	if err := j.Key.Validate(); err != nil {
		return err
	}
	status = &lockedWriter{w: status}

	registry := progress.NewRegistry(progress.Options{
		Store:    j.Store,
		Debounce: j.Debounce,
		Hooks:    j.Hooks,
		Log:      j.Log,
	})
	defer registry.Close()

	ctrl, err := registry.Acquire(j.Key)
	if err != nil {
		return err
	}
	defer registry.Release(j.Key)

	loaded := progress.NewWorksheetQuery(j.Store, j.Key).Refetch(ctx)
	if loaded.IsError {
		return fmt.Errorf("load %s: %w", j.Key, loaded.Err)
	}
	var initial progress.Document
	if loaded.Data != nil {
		initial = loaded.Data.Data
		ctrl.Seed(initial, loaded.Data.Completed)
	}
	buf := progress.NewEditBuffer(initial)

	unsubscribe := ctrl.Subscribe(func(s progress.Status) {
		printStatus(status, s)
	})
	defer unsubscribe()
	detach := progress.Attach(buf, ctrl)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		partial, err := progress.DecodeDocument([]byte(raw))
		if err == nil && partial == nil {
			err = errors.New("not a JSON object")
		}
		if err != nil {
			fmt.Fprintf(status, "line %d: skipped: %v\n", line, err)
			continue
		}
		buf.Update(partial)
	}
	detach()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read edits: %w", err)
	}

	if err := ctrl.SaveNow(ctx); err != nil {
		return fmt.Errorf("save %s: %w", j.Key, err)
	}
	if j.Complete {
		if err := ctrl.Complete(ctx); err != nil {
			return fmt.Errorf("complete %s: %w", j.Key, err)
		}
	}

	if len(j.Exercises) == 0 {
		return nil
	}
	summary := progress.NewPhaseExercises(j.Store, j.Key.PhaseNumber, j.Exercises).Refetch(ctx)
	if summary.IsError {
		return fmt.Errorf("load phase %d: %w", j.Key.PhaseNumber, summary.Err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary.PhaseSummary)
}

func printStatus(w io.Writer, s progress.Status) {
	line := fmt.Sprintf("status %s state=%s", s.Key, s.State)
	if !s.LastSaved.IsZero() {
		line += " last_saved=" + s.LastSaved.UTC().Format(time.RFC3339)
	}
	if s.Err != nil {
		line += " error=" + s.Err.Error()
	}
	fmt.Fprintln(w, line)
}

// lockedWriter serializes status lines written from save goroutines and the
// reading loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
