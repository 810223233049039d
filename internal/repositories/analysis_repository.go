package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"rustsentry/internal/models"
)

type AnalysisRepository interface {
	Save(ctx context.Context, analysis *models.Analysis) error
	ListBySession(ctx context.Context, sessionID string) ([]models.Analysis, error)
}

type analysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) AnalysisRepository {
	return &analysisRepository{db: db}
}

// Save inserts the analysis when it has no ID yet and updates every column otherwise.
func (r *analysisRepository) Save(ctx context.Context, analysis *models.Analysis) error {
	if analysis == nil {
		return fmt.Errorf("analysis is required")
	}
	if analysis.CodeBlockID == 0 {
		return fmt.Errorf("code block ID is required")
	}
	return r.db.WithContext(ctx).Save(analysis).Error
}

// ListBySession returns analyses in block extraction order.
func (r *analysisRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Analysis, error) {
	var analyses []models.Analysis
	res := r.db.WithContext(ctx).
		Joins("JOIN code_blocks ON code_blocks.id = analyses.code_block_id").
		Where("analyses.session_id = ?", sessionID).
		Order("code_blocks.block_index asc").
		Find(&analyses)
	if res.Error != nil {
		return nil, res.Error
	}
	return analyses, nil
}
