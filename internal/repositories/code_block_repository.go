package repositories

import (
	"context"

	"gorm.io/gorm"

	"rustsentry/internal/models"
)

type CodeBlockRepository interface {
	CreateBatch(ctx context.Context, blocks []models.CodeBlock) error
	ListBySession(ctx context.Context, sessionID string) ([]models.CodeBlock, error)
}

type codeBlockRepository struct {
	db *gorm.DB
}

func NewCodeBlockRepository(db *gorm.DB) CodeBlockRepository {
	return &codeBlockRepository{db: db}
}

// CreateBatch inserts blocks in order and fills in their IDs.
func (r *codeBlockRepository) CreateBatch(ctx context.Context, blocks []models.CodeBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&blocks).Error
}

func (r *codeBlockRepository) ListBySession(ctx context.Context, sessionID string) ([]models.CodeBlock, error) {
	var blocks []models.CodeBlock
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("block_index asc").Find(&blocks)
	if res.Error != nil {
		return nil, res.Error
	}
	return blocks, nil
}
