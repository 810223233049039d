package services

import (
	"gorm.io/gorm"

	"rustsentry/internal/codestore"
	"rustsentry/internal/events"
	"rustsentry/internal/repositories"
)

// Services aggregates the domain services backed by the database and the code store.
type Services struct {
	Sessions SessionService
}

// NewServices constructs the service container using repositories backed by db.
func NewServices(db *gorm.DB, store codestore.Store, queue Enqueuer, emitter events.Emitter, opts SessionOptions) *Services {
	return &Services{
		Sessions: NewSessionService(
			repositories.NewSessionRepository(db),
			repositories.NewCodeBlockRepository(db),
			repositories.NewAnalysisRepository(db),
			store,
			queue,
			emitter,
			opts,
		),
	}
}
