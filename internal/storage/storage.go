// Package storage defines the persistence interface for reference cases.
package storage

import (
	"context"

	"github.com/hyperjump/dermamatch/internal/models"
)

// Storage defines reference case persistence operations.
type Storage interface {
	GetCase(ctx context.Context, id string) (*models.ReferenceCase, error)
	DeleteCase(ctx context.Context, id string) error
	ListCases(ctx context.Context, offset, limit int) ([]*models.ReferenceCase, error)

	// AllCases returns every case in insertion order.
	AllCases(ctx context.Context) ([]*models.ReferenceCase, error)

	// Batch operations
	BatchUpsertCases(ctx context.Context, cases []*models.ReferenceCase) error

	// Stats
	CountCases(ctx context.Context) (int64, error)

	Close() error
}
