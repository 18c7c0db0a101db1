package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"listing_sync/internal/domain"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// Record stores the outcome of one account pass, adding synced to the running total.
func (s *SyncStateStore) Record(ctx context.Context, state *domain.AccountSyncState, synced int64) error {
	query := `
		INSERT INTO account_sync_state (account_id, last_synced_at, last_state, total_synced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_state = EXCLUDED.last_state,
			total_synced = account_sync_state.total_synced + EXCLUDED.total_synced`

	_, err := s.db.ExecContext(ctx, query,
		state.AccountID,
		state.LastSyncedAt,
		state.LastState,
		synced,
	)
	return err
}
