package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"listing_sync/internal/domain"
)

type AccountStore interface {
	GetByUserID(ctx context.Context, userID string) ([]domain.Account, error)
}

type TokenProvider interface {
	Refresh(ctx context.Context, account domain.Account) (domain.AccessToken, error)
}

type ListingFetcher interface {
	ID() string
	FetchPage(ctx context.Context, token domain.AccessToken, pageNumber, pageSize int) (*domain.Page, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, accountID string, listings []domain.Listing) (*domain.ReconcileResult, error)
}

type SyncStateStore interface {
	Record(ctx context.Context, state *domain.AccountSyncState, synced int64) error
}

type TelemetrySink interface {
	RecordFailure(ctx context.Context, ev domain.FailureEvent)
	RecordRun(ctx context.Context, run *domain.SyncRunResult)
}
