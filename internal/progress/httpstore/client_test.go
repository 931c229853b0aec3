package httpstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/workbook-backend/internal/progress"
)

var testKey = progress.Key{PhaseNumber: 2, WorksheetID: "swot"}

func newTestClient(t *testing.T, h http.HandlerFunc, retry time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", Token: "tok", RetryMaxElapsed: retry})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientUpsertSendsBody(t *testing.T) {
	var got upsertRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/workbook/phases/2/worksheets/swot" {
			t.Errorf("request: got=%s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("authorization: got=%q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": map[string]any{"phase_number": 2, "worksheet_id": "swot"}})
	}, -1)

	if err := c.Upsert(context.Background(), testKey, progress.Document{"s": "grit"}, progress.Bool(true)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.Data["s"] != "grit" || got.Completed == nil || !*got.Completed {
		t.Fatalf("upsert body: got=%+v", got)
	}
}

func TestClientUpsertOmitsCompletedWhenNil(t *testing.T) {
	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		writeJSON(w, http.StatusOK, map[string]any{})
	}, -1)
	if err := c.Upsert(context.Background(), testKey, nil, nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, ok := raw["completed"]; ok {
		t.Fatalf("completed should be omitted: got=%v", raw)
	}
	if data, ok := raw["data"].(map[string]any); !ok || len(data) != 0 {
		t.Fatalf("nil data should be sent as {}: got=%v", raw["data"])
	}
}

func TestClientFetchOneMissingAndPresent(t *testing.T) {
	present := atomic.Bool{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !present.Load() {
			writeJSON(w, http.StatusOK, map[string]any{"record": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": map[string]any{
			"phase_number": 2, "worksheet_id": "swot", "data": map[string]any{"s": "grit"}, "completed": true,
		}})
	}, -1)

	rec, err := c.FetchOne(context.Background(), testKey)
	if err != nil || rec != nil {
		t.Fatalf("missing record: want=(nil, nil) got=(%v, %v)", rec, err)
	}
	present.Store(true)
	rec, err = c.FetchOne(context.Background(), testKey)
	if err != nil || rec == nil || !rec.Completed || rec.Data["s"] != "grit" {
		t.Fatalf("present record: rec=%+v err=%v", rec, err)
	}
}

func TestClientFetchByPhaseEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"records": nil})
	}, -1)
	recs, err := c.FetchByPhase(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchByPhase: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("empty phase: want non-nil empty slice got=%v", recs)
	}
}

func TestClientRetriesReadsOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "db down", "code": "store_unavailable"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": []any{}})
	}, 5*time.Second)

	if _, err := c.FetchByPhase(context.Background(), 1); err != nil {
		t.Fatalf("FetchByPhase: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("attempts: want=3 got=%d", n)
	}
}

func TestClientDoesNotRetryUpsert(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{})
	}, 5*time.Second)

	err := c.Upsert(context.Background(), testKey, progress.Document{"x": 1}, nil)
	if !errors.Is(err, progress.ErrStoreUnavailable) {
		t.Fatalf("Upsert error: want ErrStoreUnavailable got=%v", err)
	}
	if !progress.IsRetryable(err) {
		t.Fatalf("server error should be retryable by the caller")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("attempts: want=1 got=%d", n)
	}
}

func TestClientErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		want    error
		retries bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: progress.ErrStoreUnavailable},
		{name: "forbidden", status: http.StatusForbidden, want: progress.ErrStoreUnavailable},
		{name: "bad request", status: http.StatusBadRequest, want: progress.ErrInvalidKey},
		{name: "not found", status: http.StatusNotFound, want: progress.ErrInvalidKey},
		{name: "server", status: http.StatusInternalServerError, want: progress.ErrStoreUnavailable, retries: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tc.status, map[string]any{"error": map[string]any{"message": "nope", "code": "x"}})
			}, time.Second)
			_, err := c.FetchOne(context.Background(), testKey)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error: want=%v got=%v", tc.want, err)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Status != tc.status || se.Message != "nope" {
				t.Fatalf("status error: got=%+v", se)
			}
			if n := calls.Load(); tc.retries != (n > 1) {
				t.Fatalf("attempts: retries=%v got=%d", tc.retries, n)
			}
		})
	}
}

func TestClientNetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, RetryMaxElapsed: -1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.FetchByPhase(context.Background(), 1); !errors.Is(err, progress.ErrStoreUnavailable) {
		t.Fatalf("network failure: want ErrStoreUnavailable got=%v", err)
	}
}

func TestClientRejectsInvalidKeyLocally(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }, -1)
	if err := c.Upsert(context.Background(), progress.Key{PhaseNumber: 0, WorksheetID: "swot"}, nil, nil); !errors.Is(err, progress.ErrInvalidKey) {
		t.Fatalf("Upsert: want ErrInvalidKey got=%v", err)
	}
	if _, err := c.FetchByPhase(context.Background(), 11); !errors.Is(err, progress.ErrInvalidKey) {
		t.Fatalf("FetchByPhase: want ErrInvalidKey got=%v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("invalid keys should not reach the server")
	}
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "  ", "ftp://example.com", "::bad"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Fatalf("New(%q): expected error", raw)
		}
	}
}
