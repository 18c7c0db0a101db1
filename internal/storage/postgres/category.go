package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_sync/internal/domain"
)

type CategoryStore struct {
	db *sqlx.DB
}

func NewCategoryStore(db *sqlx.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

// UpsertBatch writes all categories in one statement. An empty name never
// blanks out a known one, in the batch or in the table.
func (s *CategoryStore) UpsertBatch(ctx context.Context, categories []domain.Category) error {
	ids, names := collapseCategories(categories)
	if len(ids) == 0 {
		return nil
	}

	query := `
		INSERT INTO categories (id, name)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), categories.name)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, pq.Array(ids), pq.Array(names))
	return err
}

// collapseCategories merges repeated ids, since ON CONFLICT cannot touch the
// same row twice in one statement.
func collapseCategories(categories []domain.Category) (ids, names []string) {
	index := make(map[string]int, len(categories))
	for _, c := range categories {
		if c.ID == "" {
			continue
		}
		if i, ok := index[c.ID]; ok {
			if c.Name != "" {
				names[i] = c.Name
			}
			continue
		}
		index[c.ID] = len(ids)
		ids = append(ids, c.ID)
		names = append(names, c.Name)
	}
	return ids, names
}
