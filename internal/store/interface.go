package store

import (
	"context"

	"klinecast/internal/store/model"
)

// RunRepository handles prediction run persistence.
type RunRepository interface {
	// Save persists one prediction run.
	Save(ctx context.Context, run *model.PredictionRunModel) error
	// FindByID returns a run by its id, or nil when no run matches.
	FindByID(ctx context.Context, id string) (*model.PredictionRunModel, error)
	// ListRecent returns the most recent runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.PredictionRunModel, error)
}

// Store is the entry point for run-log database access.
type Store interface {
	// Runs returns the prediction run repository.
	Runs() RunRepository
	// Close closes the store connection.
	Close() error
}
