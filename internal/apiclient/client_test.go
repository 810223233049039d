package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustsentry/internal/models"
)

func TestClient_Routes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"code is required"}`))
			return
		}
		assert.Equal(t, "main.rs", body["source_name"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"s1","status":"pending","progress":0,"created_at":"2026-01-02T03:04:05Z"}`))
	})
	mux.HandleFunc("GET /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","status":"failed","analysis_count":0}],"total":1}`))
	})
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "s1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/config/polling", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"poll_interval_ms":2000,"poll_timeout_ms":600000}`))
	})
	mux.HandleFunc("GET /api/v1/sessions/{id}/artifacts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s1","status":"completed","artifacts_visible":true,"artifacts":[{"block_index":0,"stage":"detect","response":"{}"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL+"/", srv.Client())
	ctx := context.Background()

	created, err := c.Submit(ctx, "fn main() {}", "main.rs")
	require.NoError(t, err)
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, models.StatusPending, created.Status)

	_, err = c.Submit(ctx, "", "main.rs")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "code is required", apiErr.Message)

	list, err := c.List(ctx, models.ListOptions{Limit: 5, Status: models.StatusFailed})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s1", list.Sessions[0].ID)

	require.NoError(t, c.Delete(ctx, "s1"))
	assert.ErrorIs(t, c.Delete(ctx, "s2"), ErrNotFound)

	cfg, err := c.PollingConfig(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, cfg.IntervalMS)

	arts, err := c.Artifacts(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, arts.Visible)
	require.Len(t, arts.Artifacts, 1)
	assert.Equal(t, "detect", arts.Artifacts[0].Stage)
}

func statusServer(t *testing.T, terminalAfter int32, final models.SessionStatus) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		n := polls.Add(1)
		st := models.SessionStatusView{Status: models.StatusProcessing, Progress: int(n) * 10}
		if terminalAfter > 0 && n >= terminalAfter {
			st = models.SessionStatusView{Status: final, Progress: 100}
		}
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("GET /api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.SessionDetail{
			Session:         models.Session{ID: r.PathValue("id"), Status: final, Progress: 100},
			AnalysesVisible: final == models.StatusCompleted,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestPoll_UntilTerminal(t *testing.T) {
	srv, polls := statusServer(t, 3, models.StatusCompleted)
	c := New(srv.URL, srv.Client())

	var seen []int
	detail, err := c.Poll(context.Background(), "s1", PollOptions{
		Interval:   5 * time.Millisecond,
		Timeout:    5 * time.Second,
		OnProgress: func(st models.SessionStatusView) { seen = append(seen, st.Progress) },
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, detail.Status)
	assert.True(t, detail.AnalysesVisible)
	assert.EqualValues(t, 3, polls.Load())
	assert.Equal(t, []int{10, 20, 100}, seen)
}

func TestPoll_Timeout(t *testing.T) {
	srv, _ := statusServer(t, 0, models.StatusCompleted)
	c := New(srv.URL, srv.Client())

	_, err := c.Poll(context.Background(), "s1", PollOptions{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond})
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestPoll_NotFound(t *testing.T) {
	srv, _ := statusServer(t, 1, models.StatusFailed)
	c := New(srv.URL, srv.Client())

	_, err := c.Poll(context.Background(), "missing", PollOptions{Interval: time.Millisecond})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPoll_Cancelled(t *testing.T) {
	srv, _ := statusServer(t, 0, models.StatusCompleted)
	c := New(srv.URL, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Poll(ctx, "s1", PollOptions{Interval: 5 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrPollTimeout))
}

// flakyStatusServer fails the first failures status reads with code, then reports completed.
func flakyStatusServer(t *testing.T, failures int32, code int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var reads atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if reads.Add(1) <= failures {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"try later"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.SessionStatusView{Status: models.StatusCompleted, Progress: 100})
	})
	mux.HandleFunc("GET /api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.SessionDetail{
			Session: models.Session{ID: r.PathValue("id"), Status: models.StatusCompleted, Progress: 100},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &reads
}

func TestPoll_RetriesTransientReads(t *testing.T) {
	srv, reads := flakyStatusServer(t, 2, http.StatusServiceUnavailable)
	c := New(srv.URL, srv.Client())

	detail, err := c.Poll(context.Background(), "s1", PollOptions{Interval: time.Millisecond, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, detail.Status)
	assert.EqualValues(t, 3, reads.Load())
}

func TestPoll_GivesUpAfterReadAttempts(t *testing.T) {
	srv, reads := flakyStatusServer(t, 100, http.StatusBadGateway)
	c := New(srv.URL, srv.Client())

	_, err := c.Poll(context.Background(), "s1", PollOptions{Interval: time.Millisecond, Timeout: 5 * time.Second, ReadAttempts: 3})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.EqualValues(t, 3, reads.Load())
}

func TestPoll_ClientErrorNotRetried(t *testing.T) {
	srv, reads := flakyStatusServer(t, 100, http.StatusBadRequest)
	c := New(srv.URL, srv.Client())

	_, err := c.Poll(context.Background(), "s1", PollOptions{Interval: time.Millisecond, Timeout: 5 * time.Second})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.EqualValues(t, 1, reads.Load())
}

func TestPoll_NetworkErrorRetried(t *testing.T) {
	srv, _ := flakyStatusServer(t, 0, http.StatusOK)
	var calls atomic.Int32
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return srv.Client().Do(req)
	})
	c := New(srv.URL, doer)

	detail, err := c.Poll(context.Background(), "s1", PollOptions{Interval: time.Millisecond, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, detail.Status)
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }
