package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rustsentry/internal/database"
	"rustsentry/internal/events"
	"rustsentry/internal/llm/client"
	"rustsentry/internal/models"
	"rustsentry/internal/queue"
	"rustsentry/internal/services"
	"rustsentry/internal/tests/mocks"
)

var fastRetry = RetryPolicy{Attempts: 3, Base: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond}

type env struct {
	sessions services.SessionService
	queue    *queue.Queue

	mu       sync.Mutex
	progress []int
	attempts []events.Event
}

func (e *env) record(_ context.Context, evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch evt.Name {
	case events.SessionProgress:
		e.progress = append(e.progress, evt.Progress)
	case events.StageAttempt:
		e.attempts = append(e.attempts, evt)
	}
}

func (e *env) stageAttempts() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.Event(nil), e.attempts...)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.Init(database.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	e := &env{queue: queue.New()}
	e.sessions = services.NewServices(db, &mocks.CodeStoreMock{}, e.queue, events.EmitterFunc(e.record),
		services.SessionOptions{MaxCodeLength: 10000}).Sessions
	return e
}

func (e *env) worker(analyzer client.Analyzer) *Worker {
	return NewWorker(0, Deps{
		Sessions: e.sessions,
		Analyzer: analyzer,
		Retry:    fastRetry,
		Events:   events.EmitterFunc(e.record),
	})
}

func (e *env) submit(t *testing.T, code string) string {
	t.Helper()
	sess, err := e.sessions.CreateSession(context.Background(), code, "")
	require.NoError(t, err)
	return sess.ID
}

func (e *env) completedDetail(t *testing.T, id string) *models.SessionDetail {
	t.Helper()
	detail, err := e.sessions.GetSession(context.Background(), id)
	require.NoError(t, err)
	return detail
}

const nullDerefCode = `fn read(p: *const i32) -> i32 {
    unsafe { *p }
}`

func nullDerefAnalyzer() *mocks.AnalyzerMock {
	return &mocks.AnalyzerMock{
		AnalyzeFunc: func(_ context.Context, block client.Block) (*client.Findings, error) {
			return &client.Findings{
				VulnerabilityType:        "Null Pointer Dereference",
				CWEID:                    "CWE-476",
				OWASPCategory:            "A06:2021",
				RiskLevel:                models.RiskHigh,
				ConfidenceScore:          0.92,
				VulnerabilityDescription: "raw pointer is dereferenced without a null check",
				LineNumbers:              []int{block.LineStart},
				Replaceability:           models.Replaceable,
				Raw:                      `{"cwe_id":"CWE-476"}`,
			}, nil
		},
		RemediateFunc: func(context.Context, client.Block, *client.Findings) (*client.Fix, error) {
			return &client.Fix{
				FixedCode:   "if p.is_null() { return 0 }\nunsafe { *p }",
				Explanation: "check for null before dereferencing",
			}, nil
		},
		VerifyFunc: func(context.Context, client.Block, *client.Fix, *client.Findings) (*client.Verification, error) {
			return &client.Verification{Passed: true, Explanation: "null case handled", NewIssues: []string{}}, nil
		},
	}
}

func TestProcess_ZeroBlocks(t *testing.T) {
	e := newEnv(t)
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(context.Context, client.Block) (*client.Findings, error) {
			t.Fatal("analyzer must not be called without unsafe blocks")
			return nil, nil
		},
	}
	id := e.submit(t, "fn main() { println!(\"hi\"); }")

	require.NoError(t, e.worker(analyzer).Process(context.Background(), id))

	detail := e.completedDetail(t, id)
	assert.Equal(t, models.StatusCompleted, detail.Status)
	assert.Equal(t, 100, detail.Progress)
	assert.Empty(t, detail.CodeBlocks)
	assert.Empty(t, detail.Analyses)
}

func TestProcess_CleanBlockSkipsRemediation(t *testing.T) {
	e := newEnv(t)
	analyzer := &mocks.AnalyzerMock{
		RemediateFunc: func(context.Context, client.Block, *client.Findings) (*client.Fix, error) {
			t.Fatal("remediate must not run for a clean block")
			return nil, nil
		},
		VerifyFunc: func(context.Context, client.Block, *client.Fix, *client.Findings) (*client.Verification, error) {
			t.Fatal("verify must not run for a clean block")
			return nil, nil
		},
	}
	id := e.submit(t, "fn f() { unsafe { core::hint::spin_loop() } }")

	require.NoError(t, e.worker(analyzer).Process(context.Background(), id))

	detail := e.completedDetail(t, id)
	assert.Equal(t, models.StatusCompleted, detail.Status)
	require.Len(t, detail.Analyses, 1)
	a := detail.Analyses[0]
	assert.Equal(t, models.RiskNone, a.RiskLevel)
	assert.Nil(t, a.SuggestedReplacement)
	assert.Empty(t, a.RemediationExplanation)
	assert.Nil(t, a.VerificationPassed)
	assert.Empty(t, a.VerificationResult)
	assert.Nil(t, a.Diff)
}

func TestProcess_NullPointerScenario(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, nullDerefCode)

	require.NoError(t, e.worker(nullDerefAnalyzer()).Process(context.Background(), id))

	detail := e.completedDetail(t, id)
	assert.Equal(t, models.StatusCompleted, detail.Status)
	assert.Equal(t, 100, detail.Progress)
	require.Len(t, detail.CodeBlocks, 1)
	assert.Equal(t, 2, detail.CodeBlocks[0].LineStart)
	assert.Equal(t, "unsafe { *p }", detail.CodeBlocks[0].RawCode)

	require.Len(t, detail.Analyses, 1)
	a := detail.Analyses[0]
	assert.Equal(t, "CWE-476", a.CWEID)
	assert.Equal(t, models.RiskHigh, a.RiskLevel)
	assert.InDelta(t, 0.92, a.ConfidenceScore, 1e-9)
	assert.Equal(t, []int{2}, a.LineNumbers)
	require.NotNil(t, a.SuggestedReplacement)
	assert.Contains(t, *a.SuggestedReplacement, "is_null")
	require.NotNil(t, a.VerificationPassed)
	assert.True(t, *a.VerificationPassed)
	assert.Equal(t, "null case handled", a.VerificationResult)
	require.NotNil(t, a.Diff)
	assert.Equal(t, 1, a.Diff.LinesAdded)
}

func TestProcess_VerifyOnlyAfterRemediate(t *testing.T) {
	e := newEnv(t)
	var mu sync.Mutex
	var calls []string
	track := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}
	base := nullDerefAnalyzer()
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(ctx context.Context, b client.Block) (*client.Findings, error) {
			track("detect")
			return base.AnalyzeFunc(ctx, b)
		},
		RemediateFunc: func(ctx context.Context, b client.Block, f *client.Findings) (*client.Fix, error) {
			track("remediate")
			return base.RemediateFunc(ctx, b, f)
		},
		VerifyFunc: func(ctx context.Context, b client.Block, fix *client.Fix, f *client.Findings) (*client.Verification, error) {
			track("verify")
			require.NotNil(t, fix)
			return base.VerifyFunc(ctx, b, fix, f)
		},
	}
	id := e.submit(t, "unsafe { a() }\nunsafe { b() }")

	require.NoError(t, e.worker(analyzer).Process(context.Background(), id))
	assert.Equal(t, []string{"detect", "remediate", "verify", "detect", "remediate", "verify"}, calls)
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	e := newEnv(t)
	var n atomic.Int32
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(context.Context, client.Block) (*client.Findings, error) {
			switch n.Add(1) {
			case 1:
				return nil, &client.TransientExternalError{Stage: client.StageDetect, Err: errors.New("connection reset")}
			case 2:
				return nil, &client.MalformedResponseError{Stage: client.StageDetect, Reason: "missing vulnerability_type"}
			}
			return &client.Findings{VulnerabilityType: "None", RiskLevel: models.RiskNone}, nil
		},
	}
	id := e.submit(t, "unsafe { x() }")

	require.NoError(t, e.worker(analyzer).Process(context.Background(), id))

	assert.EqualValues(t, 3, n.Load())
	assert.Equal(t, models.StatusCompleted, e.completedDetail(t, id).Status)

	var outcomes []string
	for _, evt := range e.stageAttempts() {
		outcomes = append(outcomes, evt.Outcome)
	}
	assert.Equal(t, []string{events.OutcomeRetry, events.OutcomeRetry, events.OutcomeSuccess}, outcomes)
}

func TestProcess_ExhaustedRetriesFailSession(t *testing.T) {
	tests := []struct {
		name       string
		stage      client.Stage
		analyzer   func(calls *atomic.Int32) *mocks.AnalyzerMock
		wantPrefix string
	}{
		{
			name:  "detect malformed",
			stage: client.StageDetect,
			analyzer: func(calls *atomic.Int32) *mocks.AnalyzerMock {
				return &mocks.AnalyzerMock{
					AnalyzeFunc: func(context.Context, client.Block) (*client.Findings, error) {
						calls.Add(1)
						return nil, &client.MalformedResponseError{Stage: client.StageDetect, Reason: "confidence_score out of range"}
					},
				}
			},
			wantPrefix: "detect stage failed for block 1 of 1 after 3 attempts: response could not be parsed: confidence_score out of range",
		},
		{
			name:  "remediate transient",
			stage: client.StageRemediate,
			analyzer: func(calls *atomic.Int32) *mocks.AnalyzerMock {
				m := nullDerefAnalyzer()
				m.RemediateFunc = func(context.Context, client.Block, *client.Findings) (*client.Fix, error) {
					calls.Add(1)
					return nil, &client.TransientExternalError{Stage: client.StageRemediate, Err: context.DeadlineExceeded}
				}
				return m
			},
			wantPrefix: "remediate stage failed for block 1 of 1 after 3 attempts: external service unavailable",
		},
		{
			name:  "verify malformed",
			stage: client.StageVerify,
			analyzer: func(calls *atomic.Int32) *mocks.AnalyzerMock {
				m := nullDerefAnalyzer()
				m.VerifyFunc = func(context.Context, client.Block, *client.Fix, *client.Findings) (*client.Verification, error) {
					calls.Add(1)
					return nil, &client.MalformedResponseError{Stage: client.StageVerify, Reason: "verification_passed is required"}
				}
				return m
			},
			wantPrefix: "verify stage failed for block 1 of 1 after 3 attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			var calls atomic.Int32
			id := e.submit(t, nullDerefCode)

			require.NoError(t, e.worker(tt.analyzer(&calls)).Process(context.Background(), id))

			assert.EqualValues(t, fastRetry.Attempts, calls.Load())
			detail := e.completedDetail(t, id)
			assert.Equal(t, models.StatusFailed, detail.Status)
			require.NotNil(t, detail.ErrorMessage)
			assert.True(t, strings.HasPrefix(*detail.ErrorMessage, tt.wantPrefix), *detail.ErrorMessage)
			assert.False(t, detail.AnalysesVisible)
			assert.NotNil(t, detail.CompletedAt)
		})
	}
}

func TestProcess_RefusalIsNotRetried(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int32
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(context.Context, client.Block) (*client.Findings, error) {
			calls.Add(1)
			return nil, &client.RefusalError{Stage: client.StageDetect, Reason: "cannot help with that"}
		},
	}
	id := e.submit(t, "unsafe { x() }")

	require.NoError(t, e.worker(analyzer).Process(context.Background(), id))

	assert.EqualValues(t, 1, calls.Load())
	detail := e.completedDetail(t, id)
	assert.Equal(t, models.StatusFailed, detail.Status)
	require.NotNil(t, detail.ErrorMessage)
	assert.Equal(t, "detect stage failed for block 1 of 1 after 1 attempt: model refused the request: cannot help with that", *detail.ErrorMessage)
}

func TestProcess_FailFastSkipsRemainingBlocks(t *testing.T) {
	e := newEnv(t)
	var seen []string
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(_ context.Context, b client.Block) (*client.Findings, error) {
			seen = append(seen, b.Code)
			if strings.Contains(b.Code, "second") {
				return nil, &client.MalformedResponseError{Reason: "bad"}
			}
			return &client.Findings{VulnerabilityType: "None", RiskLevel: models.RiskNone}, nil
		},
	}
	id := e.submit(t, "unsafe { first() }\nunsafe { second() }\nunsafe { third() }")

	require.NoError(t, e.worker(analyzer).Process(context.Background(), id))

	for _, code := range seen {
		assert.NotContains(t, code, "third")
	}
	detail := e.completedDetail(t, id)
	assert.Equal(t, models.StatusFailed, detail.Status)
	assert.Equal(t, 33, detail.Progress)
	require.NotNil(t, detail.ErrorMessage)
	assert.Contains(t, *detail.ErrorMessage, "block 2 of 3")
}

func TestProcess_ProgressIsMonotonic(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "unsafe { a() }\nunsafe { b() }\nunsafe { c() }\nunsafe { d() }")

	require.NoError(t, e.worker(&mocks.AnalyzerMock{}).Process(context.Background(), id))

	e.mu.Lock()
	progress := append([]int(nil), e.progress...)
	e.mu.Unlock()
	assert.Equal(t, []int{25, 50, 75, 99}, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.Equal(t, 100, e.completedDetail(t, id).Progress)
}

func TestProcess_DeletedMidProcessing(t *testing.T) {
	e := newEnv(t)
	var id string
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(ctx context.Context, _ client.Block) (*client.Findings, error) {
			require.NoError(t, e.sessions.DeleteSession(ctx, id))
			return &client.Findings{VulnerabilityType: "None", RiskLevel: models.RiskNone}, nil
		},
	}
	id = e.submit(t, "unsafe { a() }\nunsafe { b() }")

	assert.NotPanics(t, func() {
		assert.NoError(t, e.worker(analyzer).Process(context.Background(), id))
	})

	var nf *services.NotFoundError
	_, err := e.sessions.GetSession(context.Background(), id)
	assert.ErrorAs(t, err, &nf)
	_, err = e.sessions.GetStatus(context.Background(), id)
	assert.ErrorAs(t, err, &nf)
}

func TestProcess_DeletedBeforeStart(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "unsafe { a() }")
	require.NoError(t, e.sessions.DeleteSession(context.Background(), id))

	assert.NoError(t, e.worker(&mocks.AnalyzerMock{}).Process(context.Background(), id))
}

func TestProcess_ShutdownLeavesSessionProcessing(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(ctx context.Context, _ client.Block) (*client.Findings, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	id := e.submit(t, "unsafe { a() }")

	err := e.worker(analyzer).Process(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	st, err := e.sessions.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Status)
}

func TestProcess_PanicFailsSession(t *testing.T) {
	e := newEnv(t)
	analyzer := &mocks.AnalyzerMock{
		AnalyzeFunc: func(context.Context, client.Block) (*client.Findings, error) {
			panic("nil map")
		},
	}
	id := e.submit(t, "unsafe { a() }")

	assert.NotPanics(t, func() {
		_ = e.worker(analyzer).Process(context.Background(), id)
	})
	detail := e.completedDetail(t, id)
	assert.Equal(t, models.StatusFailed, detail.Status)
	require.NotNil(t, detail.ErrorMessage)
	assert.True(t, strings.HasPrefix(*detail.ErrorMessage, "internal error"))
}
