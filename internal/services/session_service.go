package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rustsentry/internal/codestore"
	"rustsentry/internal/diff"
	"rustsentry/internal/events"
	"rustsentry/internal/logging"
	"rustsentry/internal/models"
	"rustsentry/internal/repositories"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	interruptedMessage = "internal error: processing interrupted by server restart"
)

// SessionService owns the session lifecycle. It is the only writer of session
// status, code blocks and analyses.
type SessionService interface {
	CreateSession(ctx context.Context, code, sourceName string) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.SessionDetail, error)
	GetStatus(ctx context.Context, id string) (*models.SessionStatusView, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Transition(ctx context.Context, id string, status models.SessionStatus, errorMessage string) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, opts models.ListOptions) ([]models.SessionSummary, int64, error)

	LoadCode(ctx context.Context, id string) (string, error)
	RecordCodeBlocks(ctx context.Context, id string, blocks []models.CodeBlock) ([]models.CodeBlock, error)
	SaveAnalysis(ctx context.Context, id string, analysis *models.Analysis) error
	RecordArtifact(ctx context.Context, id string, block int, stage string, data []byte) error
	ListArtifacts(ctx context.Context, id string) (*models.ArtifactList, error)

	Recover(ctx context.Context) (int, error)
}

// Enqueuer hands a session id to the worker pool.
type Enqueuer interface {
	Enqueue(id string) error
}

type SessionOptions struct {
	MaxCodeLength int
}

type sessionService struct {
	sessions repositories.SessionRepository
	blocks   repositories.CodeBlockRepository
	analyses repositories.AnalysisRepository
	store    codestore.Store
	queue    Enqueuer
	events   events.Emitter
	opts     SessionOptions
	log      zerolog.Logger

	// Worker writes hold the read lock; DeleteSession holds the write lock.
	mu sync.RWMutex
}

func NewSessionService(
	sessions repositories.SessionRepository,
	blocks repositories.CodeBlockRepository,
	analyses repositories.AnalysisRepository,
	store codestore.Store,
	queue Enqueuer,
	emitter events.Emitter,
	opts SessionOptions,
) SessionService {
	if emitter == nil {
		emitter = events.Noop
	}
	return &sessionService{
		sessions: sessions,
		blocks:   blocks,
		analyses: analyses,
		store:    store,
		queue:    queue,
		events:   emitter,
		opts:     opts,
		log:      logging.Component("sessions"),
	}
}

func (s *sessionService) CreateSession(ctx context.Context, code, sourceName string) (*models.Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &ValidationError{Msg: "code is required"}
	}
	length := utf8.RuneCountInString(code)
	if s.opts.MaxCodeLength > 0 && length > s.opts.MaxCodeLength {
		return nil, &ValidationError{Msg: fmt.Sprintf("code exceeds maximum length of %d characters", s.opts.MaxCodeLength)}
	}

	sess := &models.Session{
		ID:         uuid.NewString(),
		Status:     models.StatusPending,
		Progress:   0,
		SourceName: strings.TrimSpace(sourceName),
		CodeLength: length,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := s.store.PutCode(ctx, sess.ID, code); err != nil {
		s.rollbackCreate(sess.ID)
		return nil, fmt.Errorf("store code: %w", err)
	}
	if err := s.queue.Enqueue(sess.ID); err != nil {
		s.rollbackCreate(sess.ID)
		return nil, fmt.Errorf("enqueue session: %w", err)
	}

	s.log.Info().Str("session_id", sess.ID).Int("code_length", length).Msg("session created")
	s.events.Emit(ctx, events.NewTransition(sess.ID, string(models.StatusPending), "session created"))
	return sess, nil
}

// rollbackCreate runs on a fresh context so a cancelled request cannot leave a half-created session.
func (s *sessionService) rollbackCreate(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.sessions.Delete(ctx, id); err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("rollback session row failed")
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("rollback code store failed")
	}
}

func (s *sessionService) find(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if sess == nil {
		return nil, &NotFoundError{ID: id}
	}
	return sess, nil
}

func (s *sessionService) GetSession(ctx context.Context, id string) (*models.SessionDetail, error) {
	sess, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	blocks, err := s.blocks.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load code blocks: %w", err)
	}

	detail := &models.SessionDetail{
		Session:    *sess,
		CodeBlocks: blocks,
		Analyses:   []models.AnalysisDetail{},
	}
	if blocks == nil {
		detail.CodeBlocks = []models.CodeBlock{}
	}
	if sess.Status != models.StatusCompleted {
		return detail, nil
	}

	detail.AnalysesVisible = true
	analyses, err := s.analyses.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load analyses: %w", err)
	}
	byID := make(map[uint]models.CodeBlock, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}
	for _, a := range analyses {
		block := byID[a.CodeBlockID]
		item := models.AnalysisDetail{Analysis: a, BlockIndex: block.Index}
		if a.HasVulnerability() && a.SuggestedReplacement != nil {
			d := diff.Generate(block.RawCode, *a.SuggestedReplacement)
			item.Diff = &d
		}
		detail.Analyses = append(detail.Analyses, item)
	}
	return detail, nil
}

func (s *sessionService) GetStatus(ctx context.Context, id string) (*models.SessionStatusView, error) {
	sess, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SessionStatusView{Status: sess.Status, Progress: sess.Progress}, nil
}

func (s *sessionService) UpdateProgress(ctx context.Context, id string, progress int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return &InvalidTransitionError{ID: id, From: sess.Status, To: sess.Status}
	}
	if progress >= 100 {
		progress = 99
	}
	if progress <= sess.Progress {
		return nil
	}
	ok, err := s.sessions.UpdateFields(ctx, id, map[string]interface{}{"progress": progress})
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	s.events.Emit(ctx, events.NewProgress(id, progress))
	return nil
}

func (s *sessionService) Transition(ctx context.Context, id string, status models.SessionStatus, errorMessage string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Status.CanTransition(status) {
		terr := &InvalidTransitionError{ID: id, From: sess.Status, To: status}
		zerolog.Ctx(ctx).Error().Err(terr).Msg("rejected session transition")
		return terr
	}

	updates := map[string]interface{}{"status": status}
	now := time.Now()
	switch status {
	case models.StatusCompleted:
		updates["progress"] = 100
		updates["completed_at"] = now
	case models.StatusFailed:
		updates["error_message"] = errorMessage
		updates["completed_at"] = now
	}
	ok, err := s.sessions.UpdateFields(ctx, id, updates)
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	s.events.Emit(ctx, events.NewTransition(id, string(status), errorMessage))
	return nil
}

func (s *sessionService) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.sessions.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !ok {
		return &NotFoundError{ID: id}
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete stored code: %w", err)
	}
	s.log.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

func (s *sessionService) ListSessions(ctx context.Context, opts models.ListOptions) ([]models.SessionSummary, int64, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, &ValidationError{Msg: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.sessions.List(ctx, opts)
}

func (s *sessionService) LoadCode(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.find(ctx, id); err != nil {
		return "", err
	}
	code, err := s.store.GetCode(ctx, id)
	if errors.Is(err, codestore.ErrNotFound) {
		return "", fmt.Errorf("code for session %s is missing", id)
	}
	return code, err
}

func (s *sessionService) RecordCodeBlocks(ctx context.Context, id string, blocks []models.CodeBlock) ([]models.CodeBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	for i := range blocks {
		blocks[i].SessionID = id
	}
	if err := s.blocks.CreateBatch(ctx, blocks); err != nil {
		return nil, fmt.Errorf("persist code blocks: %w", err)
	}
	return blocks, nil
}

func (s *sessionService) SaveAnalysis(ctx context.Context, id string, analysis *models.Analysis) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	analysis.SessionID = id
	if err := s.analyses.Save(ctx, analysis); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (s *sessionService) RecordArtifact(ctx context.Context, id string, block int, stage string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	return s.store.PutArtifact(ctx, id, block, stage, data)
}

// ListArtifacts returns the raw stage responses of a terminal session ordered by block
// and pipeline stage. A session that is still running gets an empty list.
func (s *sessionService) ListArtifacts(ctx context.Context, id string) (*models.ArtifactList, error) {
	sess, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &models.ArtifactList{SessionID: id, Status: sess.Status, Artifacts: []models.Artifact{}}
	if !sess.Status.IsTerminal() {
		return out, nil
	}
	out.Visible = true

	raw, err := s.store.ListArtifacts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	for name, data := range raw {
		block, stage, err := codestore.ParseArtifactName(name)
		if err != nil {
			s.log.Warn().Ctx(ctx).Err(err).Msg("skipping artifact")
			continue
		}
		out.Artifacts = append(out.Artifacts, models.Artifact{BlockIndex: block, Stage: stage, Response: string(data)})
	}
	sort.Slice(out.Artifacts, func(i, j int) bool {
		a, b := out.Artifacts[i], out.Artifacts[j]
		if a.BlockIndex != b.BlockIndex {
			return a.BlockIndex < b.BlockIndex
		}
		return stageOrder(a.Stage) < stageOrder(b.Stage)
	})
	return out, nil
}

func stageOrder(stage string) int {
	switch stage {
	case "detect":
		return 0
	case "remediate":
		return 1
	case "verify":
		return 2
	}
	return 3
}

// Recover re-enqueues pending sessions and fails sessions that were mid-processing
// when the process stopped. It returns the number of sessions re-enqueued.
func (s *sessionService) Recover(ctx context.Context) (int, error) {
	processing, err := s.sessions.ListByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing sessions: %w", err)
	}
	for _, sess := range processing {
		if err := s.Transition(ctx, sess.ID, models.StatusFailed, interruptedMessage); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID).Msg("fail interrupted session")
		}
	}

	pending, err := s.sessions.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending sessions: %w", err)
	}
	requeued := 0
	for _, sess := range pending {
		if err := s.queue.Enqueue(sess.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("re-enqueue pending session")
			continue
		}
		requeued++
	}
	s.log.Info().
		Int("requeued", requeued).
		Int("interrupted", len(processing)).
		Msg("session recovery finished")
	return requeued, nil
}
