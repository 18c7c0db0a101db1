package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"listing_sync/internal/domain"
)

// AccountStore is the credential store: seller accounts and their refresh tokens.
type AccountStore struct {
	db *sqlx.DB
}

func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetByUserID(ctx context.Context, userID string) ([]domain.Account, error) {
	query := `
		SELECT user_id, marketplace_account_id, marketplace_id, refresh_token
		FROM marketplace_accounts
		WHERE user_id = $1
		ORDER BY id`

	var accounts []domain.Account
	if err := s.db.SelectContext(ctx, &accounts, query, userID); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &domain.NotFoundError{Resource: "marketplace accounts", ID: userID}
	}
	return accounts, nil
}
