//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_sync/internal/domain"
)

// Read-side helpers the integration suite uses to seed and inspect tables.
// The syncer itself never reads these back.

func (s *AccountStore) Save(ctx context.Context, account domain.Account) error {
	query := `
		INSERT INTO marketplace_accounts (user_id, marketplace_account_id, marketplace_id, refresh_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (marketplace_account_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			marketplace_id = EXCLUDED.marketplace_id,
			refresh_token = EXCLUDED.refresh_token`

	_, err := s.db.ExecContext(ctx, query,
		account.UserID,
		account.ID,
		account.MarketplaceID,
		account.RefreshCredential,
	)
	return err
}

func (s *ListingStore) Get(ctx context.Context, accountID, externalID string) (*domain.StoreRow, error) {
	query := `
		SELECT id, account_id, external_id, status, title, category_id,
			price_amount, price_currency, primary_image_url, view_url,
			cost_amount, researcher, owner_user_id,
			first_synced_at, last_synced_at, updated_at
		FROM listings
		WHERE account_id = $1 AND external_id = $2`

	var row domain.StoreRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, accountID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *ListingStore) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count,
		"SELECT COUNT(*) FROM listings WHERE account_id = $1", accountID)
	return count, err
}

func (s *CategoryStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, name FROM categories WHERE id = ANY($1) ORDER BY id`
	var result []domain.Category
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, pq.Array(ids))
	return result, err
}

// Get returns an empty state for an account that was never synced.
func (s *SyncStateStore) Get(ctx context.Context, accountID string) (*domain.AccountSyncState, error) {
	var state domain.AccountSyncState
	query := `
		SELECT account_id, last_synced_at, last_state, total_synced
		FROM account_sync_state
		WHERE account_id = $1`

	err := s.db.GetContext(ctx, &state, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.AccountSyncState{AccountID: accountID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
