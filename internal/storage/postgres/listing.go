package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_sync/internal/domain"
)

var ErrListingNotFound = domain.ErrListingNotFound

type ListingStore struct {
	db *sqlx.DB
}

func NewListingStore(db *sqlx.DB) *ListingStore {
	return &ListingStore{db: db}
}

// ExistingExternalIDs returns which of ids already have a row for the account.
func (s *ListingStore) ExistingExternalIDs(ctx context.Context, accountID string, ids []string) (map[string]struct{}, error) {
	result := make(map[string]struct{})
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT external_id FROM listings WHERE account_id = $1 AND external_id = ANY($2)`

	rows, err := GetExecutor(ctx, s.db).QueryContext(ctx, query, accountID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var extID string
		if err := rows.Scan(&extID); err != nil {
			return nil, err
		}
		result[extID] = struct{}{}
	}

	return result, rows.Err()
}

// Insert creates the row. A concurrent insert of the same key degrades to an
// update of the sync-owned columns, so the write is an atomic upsert.
func (s *ListingStore) Insert(ctx context.Context, row *domain.StoreRow) error {
	query := `
		INSERT INTO listings (
			account_id, external_id, status, title, category_id,
			price_amount, price_currency, primary_image_url, view_url,
			first_synced_at, last_synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10
		)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			category_id = EXCLUDED.category_id,
			price_amount = EXCLUDED.price_amount,
			price_currency = EXCLUDED.price_currency,
			primary_image_url = EXCLUDED.primary_image_url,
			view_url = EXCLUDED.view_url,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
		RETURNING id`

	return GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		row.AccountID,
		row.ExternalID,
		row.Status,
		row.Title,
		row.CategoryID,
		row.PriceAmount,
		row.PriceCurrency,
		row.PrimaryImageURL,
		row.ViewURL,
		row.LastSyncedAt,
	).Scan(&row.ID)
}

// Update rewrites the sync-owned columns only. cost_amount, researcher and
// owner_user_id are left untouched.
func (s *ListingStore) Update(ctx context.Context, row *domain.StoreRow) error {
	query := `
		UPDATE listings SET
			status = $3,
			title = $4,
			category_id = $5,
			price_amount = $6,
			price_currency = $7,
			primary_image_url = $8,
			view_url = $9,
			last_synced_at = $10,
			updated_at = NOW()
		WHERE account_id = $1 AND external_id = $2
		RETURNING id`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		row.AccountID,
		row.ExternalID,
		row.Status,
		row.Title,
		row.CategoryID,
		row.PriceAmount,
		row.PriceCurrency,
		row.PrimaryImageURL,
		row.ViewURL,
		row.LastSyncedAt,
	).Scan(&row.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrListingNotFound
	}
	return err
}
