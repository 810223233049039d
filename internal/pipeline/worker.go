// Package pipeline drives submitted sessions through detect, remediate and verify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rustsentry/internal/events"
	"rustsentry/internal/extract"
	"rustsentry/internal/llm/client"
	"rustsentry/internal/logging"
	"rustsentry/internal/models"
	"rustsentry/internal/observability"
	"rustsentry/internal/services"
)

// SessionManager is the part of services.SessionService a worker writes through.
type SessionManager interface {
	Transition(ctx context.Context, id string, status models.SessionStatus, errorMessage string) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	LoadCode(ctx context.Context, id string) (string, error)
	RecordCodeBlocks(ctx context.Context, id string, blocks []models.CodeBlock) ([]models.CodeBlock, error)
	SaveAnalysis(ctx context.Context, id string, analysis *models.Analysis) error
	RecordArtifact(ctx context.Context, id string, block int, stage string, data []byte) error
}

type Deps struct {
	Sessions SessionManager
	Analyzer client.Analyzer
	Retry    RetryPolicy
	Events   events.Emitter
}

type Worker struct {
	id   int
	deps Deps
	log  zerolog.Logger
}

func NewWorker(id int, deps Deps) *Worker {
	if deps.Events == nil {
		deps.Events = events.Noop
	}
	return &Worker{
		id:   id,
		deps: deps,
		log:  logging.Component("worker"),
	}
}

// errSessionGone aborts processing once the session has been deleted.
var errSessionGone = errors.New("session deleted during processing")

func gone(err error) bool {
	var nf *services.NotFoundError
	return errors.As(err, &nf)
}

// Process runs one session to a terminal state. A session deleted mid-flight is
// abandoned without error. On shutdown the session is left PROCESSING and ctx.Err() is returned.
func (w *Worker) Process(ctx context.Context, sessionID string) (err error) {
	ctx = logging.WithWorkerID(logging.WithSessionID(ctx, sessionID), w.id)
	ctx, span := observability.Tracer().Start(ctx, "pipeline.session", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("worker.id", w.id),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Ctx(ctx).Interface("panic", r).Msg("worker panicked")
			err = w.fail(ctx, sessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := w.deps.Sessions.Transition(ctx, sessionID, models.StatusProcessing, ""); err != nil {
		if gone(err) {
			w.log.Info().Ctx(ctx).Msg("session deleted before processing started")
			return nil
		}
		return fmt.Errorf("start session: %w", err)
	}
	w.log.Info().Ctx(ctx).Msg("processing session")

	err = w.run(ctx, sessionID)
	switch {
	case err == nil:
		if terr := w.deps.Sessions.Transition(ctx, sessionID, models.StatusCompleted, ""); terr != nil {
			if gone(terr) {
				w.log.Info().Ctx(ctx).Msg("session deleted before completion")
				return nil
			}
			return fmt.Errorf("complete session: %w", terr)
		}
		w.log.Info().Ctx(ctx).Msg("session completed")
		return nil
	case errors.Is(err, errSessionGone) || gone(err):
		w.log.Info().Ctx(ctx).Msg("session deleted during processing, abandoning")
		return nil
	case ctx.Err() != nil:
		w.log.Warn().Ctx(ctx).Msg("shutdown interrupted session")
		return ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "session failed")
	var sf *StageFailure
	msg := err.Error()
	if !errors.As(err, &sf) {
		msg = "internal error: " + msg
	}
	return w.fail(ctx, sessionID, msg)
}

func (w *Worker) fail(ctx context.Context, sessionID, msg string) error {
	w.log.Warn().Ctx(ctx).Str("reason", msg).Msg("session failed")
	if err := w.deps.Sessions.Transition(ctx, sessionID, models.StatusFailed, msg); err != nil {
		if gone(err) {
			return nil
		}
		return fmt.Errorf("fail session: %w", err)
	}
	return nil
}

func (w *Worker) run(ctx context.Context, sessionID string) error {
	code, err := w.deps.Sessions.LoadCode(ctx, sessionID)
	if err != nil {
		return err
	}

	extracted := extract.Blocks(code)
	if len(extracted) == 0 {
		w.log.Info().Ctx(ctx).Msg("no unsafe blocks found")
		return nil
	}

	rows := make([]models.CodeBlock, len(extracted))
	for i, b := range extracted {
		rows[i] = models.CodeBlock{
			Index:     b.Index,
			RawCode:   b.RawCode,
			LineStart: b.LineStart,
			LineEnd:   b.LineEnd,
			BlockType: b.Type,
		}
	}
	blocks, err := w.deps.Sessions.RecordCodeBlocks(ctx, sessionID, rows)
	if err != nil {
		return err
	}

	total := len(blocks)
	for i := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.processBlock(ctx, sessionID, &blocks[i], i+1, total); err != nil {
			return err
		}
		progress := int(math.Round(100 * float64(i+1) / float64(total)))
		if err := w.deps.Sessions.UpdateProgress(ctx, sessionID, progress); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processBlock(ctx context.Context, sessionID string, block *models.CodeBlock, number, total int) error {
	in := client.Block{Code: block.RawCode, LineStart: block.LineStart, LineEnd: block.LineEnd}
	call := func(stage client.Stage) stageCall {
		return stageCall{sessionID: sessionID, stage: stage, block: number, total: total}
	}

	findings, err := runStage(ctx, w.deps.Retry, w.deps.Events, call(client.StageDetect), func(ctx context.Context) (*client.Findings, error) {
		return w.deps.Analyzer.Analyze(ctx, in)
	})
	if err != nil {
		return err
	}
	if err := w.deps.Sessions.RecordArtifact(ctx, sessionID, block.Index, string(client.StageDetect), []byte(findings.Raw)); err != nil {
		return err
	}

	analysis := &models.Analysis{
		CodeBlockID:              block.ID,
		Stage:                    models.StageDetected,
		VulnerabilityType:        findings.VulnerabilityType,
		CWEID:                    findings.CWEID,
		OWASPCategory:            findings.OWASPCategory,
		RiskLevel:                findings.RiskLevel,
		ConfidenceScore:          findings.ConfidenceScore,
		VulnerabilityDescription: findings.VulnerabilityDescription,
		ExploitationScenario:     findings.ExploitationScenario,
		LineNumbers:              findings.LineNumbers,
		Replaceability:           findings.Replaceability,
		NewIssues:                []string{},
	}
	vulnerable := findings.Vulnerable()
	if !vulnerable {
		analysis.RiskLevel = models.RiskNone
	}
	if err := w.deps.Sessions.SaveAnalysis(ctx, sessionID, analysis); err != nil {
		return err
	}
	if !vulnerable {
		w.log.Debug().Ctx(ctx).Int("block", number).Msg("block is clean")
		return nil
	}

	fix, err := runStage(ctx, w.deps.Retry, w.deps.Events, call(client.StageRemediate), func(ctx context.Context) (*client.Fix, error) {
		return w.deps.Analyzer.Remediate(ctx, in, findings)
	})
	if err != nil {
		return err
	}
	if err := w.deps.Sessions.RecordArtifact(ctx, sessionID, block.Index, string(client.StageRemediate), []byte(fix.Raw)); err != nil {
		return err
	}
	fixed := fix.FixedCode
	analysis.Stage = models.StageRemediated
	analysis.SuggestedReplacement = &fixed
	analysis.RemediationExplanation = fix.Explanation
	analysis.CompatibilityNotes = fix.CompatibilityNotes
	if err := w.deps.Sessions.SaveAnalysis(ctx, sessionID, analysis); err != nil {
		return err
	}

	verdict, err := runStage(ctx, w.deps.Retry, w.deps.Events, call(client.StageVerify), func(ctx context.Context) (*client.Verification, error) {
		return w.deps.Analyzer.Verify(ctx, in, fix, findings)
	})
	if err != nil {
		return err
	}
	if err := w.deps.Sessions.RecordArtifact(ctx, sessionID, block.Index, string(client.StageVerify), []byte(verdict.Raw)); err != nil {
		return err
	}
	passed := verdict.Passed
	analysis.Stage = models.StageVerified
	analysis.VerificationPassed = &passed
	analysis.VerificationResult = verdict.Explanation
	analysis.NewIssues = verdict.NewIssues
	if analysis.NewIssues == nil {
		analysis.NewIssues = []string{}
	}
	return w.deps.Sessions.SaveAnalysis(ctx, sessionID, analysis)
}
