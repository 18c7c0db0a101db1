package domain

import "time"

// Account is a seller account linked to one of our users.
type Account struct {
	UserID            string `db:"user_id"`
	ID                string `db:"marketplace_account_id"`
	MarketplaceID     string `db:"marketplace_id"`
	RefreshCredential string `db:"refresh_token"`
}

// AccessToken authorizes marketplace calls for one account during one run.
type AccessToken struct {
	Value     string
	AccountID string
	ExpiresAt time.Time
}

type AccountSyncState struct {
	AccountID    string    `db:"account_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	LastState    string    `db:"last_state"`
	TotalSynced  int64     `db:"total_synced"`
}
