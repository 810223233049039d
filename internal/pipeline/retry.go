package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rustsentry/internal/events"
	"rustsentry/internal/llm/client"
	"rustsentry/internal/observability"
)

// RetryPolicy bounds the attempts of a single stage. The delay before attempt n+1 is
// Base * Multiplier^(n-1), capped at MaxInterval.
type RetryPolicy struct {
	Attempts    int
	Base        time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 2 * time.Second, Multiplier: 2, MaxInterval: 30 * time.Second}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		RandomizationFactor: 0,
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// StageFailure ends a session: a stage ran out of attempts or was refused.
type StageFailure struct {
	Stage    client.Stage
	Block    int // 1-based
	Total    int
	Attempts int
	Err      error
}

func (e *StageFailure) Error() string {
	word := "attempts"
	if e.Attempts == 1 {
		word = "attempt"
	}
	return fmt.Sprintf("%s stage failed for block %d of %d after %d %s: %v",
		e.Stage, e.Block, e.Total, e.Attempts, word, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

type stageCall struct {
	sessionID string
	stage     client.Stage
	block     int // 1-based
	total     int
}

// runStage calls op until it succeeds, returns a non-retryable error, or the policy's
// attempts run out. Every attempt is traced and reported to the emitter.
func runStage[T any](ctx context.Context, policy RetryPolicy, emitter events.Emitter, sc stageCall, op func(context.Context) (T, error)) (T, error) {
	maxTries := policy.Attempts
	if maxTries < 1 {
		maxTries = 1
	}
	attempt := 0

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		var zero T

		spanCtx, span := observability.Tracer().Start(ctx, "pipeline."+string(sc.stage), trace.WithAttributes(
			attribute.String("session.id", sc.sessionID),
			attribute.Int("block", sc.block),
			attribute.Int("attempt", attempt),
		))
		start := time.Now()
		out, err := op(spanCtx)
		took := time.Since(start)

		outcome := events.OutcomeSuccess
		switch {
		case err == nil:
		case ctx.Err() != nil:
			outcome = events.OutcomeAborted
		case !client.Retryable(err):
			var refusal *client.RefusalError
			if errors.As(err, &refusal) {
				outcome = events.OutcomeRefused
			} else {
				outcome = events.OutcomeAborted
			}
		case attempt >= maxTries:
			outcome = events.OutcomeExhausted
		default:
			outcome = events.OutcomeRetry
		}

		msg := ""
		if err != nil {
			msg = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		emitter.Emit(ctx, events.NewStageAttempt(sc.sessionID, string(sc.stage), sc.block, sc.total, attempt, outcome, took, msg))

		if err != nil {
			if outcome != events.OutcomeRetry && outcome != events.OutcomeExhausted {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		return out, nil
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, &StageFailure{Stage: sc.stage, Block: sc.block, Total: sc.total, Attempts: attempt, Err: err}
}
