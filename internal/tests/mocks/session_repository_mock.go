package mocks

import (
	"context"
	"errors"

	"rustsentry/internal/models"
)

type SessionRepositoryMock struct {
	CreateFunc       func(ctx context.Context, session *models.Session) error
	GetByIDFunc      func(ctx context.Context, id string) (*models.Session, error)
	ListFunc         func(ctx context.Context, opts models.ListOptions) ([]models.SessionSummary, int64, error)
	ListByStatusFunc func(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	UpdateFieldsFunc func(ctx context.Context, id string, updates map[string]interface{}) (bool, error)
	DeleteFunc       func(ctx context.Context, id string) (bool, error)
}

func (m *SessionRepositoryMock) Create(ctx context.Context, session *models.Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	return nil
}

func (m *SessionRepositoryMock) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *SessionRepositoryMock) List(ctx context.Context, opts models.ListOptions) ([]models.SessionSummary, int64, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, opts)
	}
	return []models.SessionSummary{}, 0, nil
}

func (m *SessionRepositoryMock) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	if m.ListByStatusFunc != nil {
		return m.ListByStatusFunc(ctx, status)
	}
	return nil, nil
}

func (m *SessionRepositoryMock) UpdateFields(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	if m.UpdateFieldsFunc != nil {
		return m.UpdateFieldsFunc(ctx, id, updates)
	}
	return false, errors.New("UpdateFieldsFunc not set")
}

func (m *SessionRepositoryMock) Delete(ctx context.Context, id string) (bool, error) {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return false, nil
}
