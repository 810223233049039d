package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustsentry/internal/events"
)

func TestMetrics_EmitTransitions(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.Emit(ctx, events.NewTransition("s1", "processing", ""))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkersBusy))

	m.Emit(ctx, events.NewTransition("s1", "completed", ""))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WorkersBusy))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionTransitions.WithLabelValues("processing")))
}

func TestMetrics_EmitStageAndQueue(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.Emit(ctx, events.NewStageAttempt("s1", "detect", 1, 1, 1, events.OutcomeRetry, 2*time.Second, ""))
	m.Emit(ctx, events.NewStageAttempt("s1", "detect", 1, 1, 2, events.OutcomeSuccess, time.Second, ""))
	m.Emit(ctx, events.NewQueueDepth(4))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageAttempts.WithLabelValues("detect", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageAttempts.WithLabelValues("detect", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestMetrics_EmitTokenUsage(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.Emit(ctx, events.NewTokenUsage("s1", "detect", "deepseek-chat", 100, 20))
	m.Emit(ctx, events.NewTokenUsage("s1", "detect", "deepseek-chat", 50, 10))
	m.Emit(ctx, events.NewTokenUsage("s1", "verify", "deepseek-chat", 7, 3))

	assert.Equal(t, 150.0, testutil.ToFloat64(m.TokensUsed.WithLabelValues("detect", "deepseek-chat", "prompt")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.TokensUsed.WithLabelValues("detect", "deepseek-chat", "completion")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TokensUsed.WithLabelValues("verify", "deepseek-chat", "completion")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.SessionsCreated.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rustsentry_session_created_total 1")
}

func TestNewMetrics_Independent(t *testing.T) {
	// separate registries must not panic on duplicate registration
	a := NewMetrics()
	b := NewMetrics()
	a.SessionsCreated.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SessionsCreated))
}

func TestInitTracing(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "none", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = InitTracing(context.Background(), "jaeger", "test")
	assert.Error(t, err)

	shutdown, err = InitTracing(context.Background(), "stdout", "test")
	require.NoError(t, err)
	_, span := Tracer().Start(context.Background(), "test-span")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}
