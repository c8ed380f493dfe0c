// Package repository persists predictions and official results.
package repository

import (
	"context"
	"time"

	"github.com/okian/prode/internal/domain/model"
)

// PredictionStore keeps one prediction per normalised email.
type PredictionStore interface {
	// Upsert stores p under its normalised email. A new prediction gets an ID
	// and CreatedAt; an existing one keeps both. UpdatedAt is set on every
	// call and the prediction is flagged as pending sync. The stored copy is
	// returned.
	Upsert(ctx context.Context, p *model.Prediction) (model.Prediction, error)

	// GetByEmail returns ErrNotFound if no prediction exists for email.
	GetByEmail(ctx context.Context, email string) (model.Prediction, error)

	// List returns every prediction in creation order. Records that cannot
	// be decoded are returned with Row.Err set.
	List(ctx context.Context) ([]model.Row, error)

	Count(ctx context.Context) (int, error)

	// MarkSynced clears the pending flag if the stored revision still has
	// the given UpdatedAt. It reports whether the flag was cleared.
	MarkSynced(ctx context.Context, email string, updatedAt time.Time) (bool, error)

	// ListSyncPending returns the predictions still waiting for delivery.
	ListSyncPending(ctx context.Context) ([]model.Prediction, error)

	// DeleteWhere removes every prediction for which match returns true and
	// reports how many were removed.
	DeleteWhere(ctx context.Context, match func(*model.Prediction) bool) (int, error)
}

// ResultStore keeps official results.
type ResultStore interface {
	// SaveResult stores o as a new result. Published results without a
	// PublishedAt get the current time.
	SaveResult(ctx context.Context, o *model.OfficialResult) (model.OfficialResult, error)

	// CurrentPublished returns the published result with the latest
	// PublishedAt, ties going to the latest CreatedAt. It returns nil and no
	// error when nothing is published.
	CurrentPublished(ctx context.Context) (*model.OfficialResult, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	PredictionStore
	ResultStore
	Close() error
}

// newer reports whether a should be preferred over b as the current result.
func newer(a, b *model.OfficialResult) bool {
	switch {
	case b == nil:
		return true
	case a.PublishedAt.After(*b.PublishedAt):
		return true
	case a.PublishedAt.Equal(*b.PublishedAt):
		return a.CreatedAt.After(b.CreatedAt)
	default:
		return false
	}
}
