package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"rustsentry/internal/models"
)

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, opts models.ListOptions) ([]models.SessionSummary, int64, error)
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	UpdateFields(ctx context.Context, id string, updates map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID returns nil, nil when no session has the given id.
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	res := r.db.WithContext(ctx).Where("id = ?", id).Take(&sess)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return &sess, nil
}

func (r *sessionRepository) List(ctx context.Context, opts models.ListOptions) ([]models.SessionSummary, int64, error) {
	filtered := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.Session{})
		if opts.Status != "" {
			q = q.Where("status = ?", opts.Status)
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.Session
	if err := filtered().Order("created_at desc").Order("id").Limit(opts.Limit).Offset(opts.Offset).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	if len(sessions) == 0 {
		return []models.SessionSummary{}, total, nil
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}

	var counts []struct {
		SessionID string
		Count     int
	}
	if err := r.db.WithContext(ctx).Model(&models.Analysis{}).
		Select("session_id, count(*) as count").
		Where("session_id IN ?", ids).
		Group("session_id").
		Scan(&counts).Error; err != nil {
		return nil, 0, err
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.SessionID] = c.Count
	}

	out := make([]models.SessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = models.SessionSummary{Session: s, AnalysisCount: byID[s.ID]}
	}
	return out, total, nil
}

// ListByStatus returns sessions in the given status, oldest first.
func (r *sessionRepository) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	var sessions []models.Session
	res := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at asc").Find(&sessions)
	if res.Error != nil {
		return nil, res.Error
	}
	return sessions, nil
}

// UpdateFields applies updates to one session and reports whether it existed.
func (r *sessionRepository) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Delete removes a session with its code blocks and analyses in one transaction.
// It reports whether the session existed.
func (r *sessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.Analysis{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.CodeBlock{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Session{})
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return nil
	})
	return found, err
}
