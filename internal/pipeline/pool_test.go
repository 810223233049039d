package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustsentry/internal/events"
	"rustsentry/internal/models"
	"rustsentry/internal/tests/mocks"
)

func TestPool_ProcessesEverySession(t *testing.T) {
	e := newEnv(t)
	pool := NewPool(3, e.queue, Deps{
		Sessions: e.sessions,
		Analyzer: nullDerefAnalyzer(),
		Retry:    fastRetry,
		Events:   events.EmitterFunc(e.record),
	})
	assert.Equal(t, 3, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, e.submit(t, nullDerefCode))
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			st, err := e.sessions.GetStatus(context.Background(), id)
			if err != nil || st.Status != models.StatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	e.queue.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}

func TestPool_StopsOnCancel(t *testing.T) {
	e := newEnv(t)
	pool := NewPool(0, e.queue, Deps{Sessions: e.sessions, Analyzer: &mocks.AnalyzerMock{}, Retry: fastRetry})
	assert.Equal(t, 1, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
