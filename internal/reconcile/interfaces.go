package reconcile

import (
	"context"

	"listing_sync/internal/domain"
)

type ListingStore interface {
	ExistingExternalIDs(ctx context.Context, accountID string, ids []string) (map[string]struct{}, error)
	Insert(ctx context.Context, row *domain.StoreRow) error
	Update(ctx context.Context, row *domain.StoreRow) error
}

type CategoryStore interface {
	UpsertBatch(ctx context.Context, categories []domain.Category) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type FailureRecorder interface {
	RecordFailure(ctx context.Context, ev domain.FailureEvent)
}
