// Package reconcile merges fetched listings into the store of record.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"listing_sync/internal/domain"
	"listing_sync/internal/retry"
)

type Config struct {
	Provider    string
	WritePolicy retry.Policy
}

// Engine decides insert vs update per listing by (account, external id) and
// applies each write on its own, so one failing row never costs its siblings.
type Engine struct {
	listings   ListingStore
	categories CategoryStore
	txManager  TransactionManager
	recorder   FailureRecorder
	policy     retry.Policy
	provider   string
	now        func() time.Time
	logger     *slog.Logger
}

func NewEngine(
	listings ListingStore,
	categories CategoryStore,
	txManager TransactionManager,
	recorder FailureRecorder,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	return &Engine{
		listings:   listings,
		categories: categories,
		txManager:  txManager,
		recorder:   recorder,
		policy:     cfg.WritePolicy,
		provider:   cfg.Provider,
		now:        time.Now,
		logger:     logger.With("component", "reconcile"),
	}
}

// Reconcile writes one batch for one account. It only returns an error for
// unusable input; per-row failures are counted, recorded and returned in the
// result. Writes run detached from ctx cancellation so a batch that has
// started is finished.
func (e *Engine) Reconcile(ctx context.Context, accountID string, listings []domain.Listing) (*domain.ReconcileResult, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, domain.ErrMissingAccountID
	}

	result := &domain.ReconcileResult{}
	if len(listings) == 0 {
		return result, nil
	}

	wctx := context.WithoutCancel(ctx)
	batch, invalid := dedupe(listings)
	for range invalid {
		e.fail(wctx, result, accountID, "", &domain.WriteError{
			AccountID: accountID,
			Op:        "validate",
			Err:       errors.New("listing without external id"),
		})
	}

	if len(batch) == 0 {
		return result, nil
	}

	existing, err := e.lookupExisting(wctx, accountID, batch)
	if err != nil {
		existing = nil
		e.logger.Warn("batch lookup failed, falling back to per-row lookup",
			"account_id", accountID,
			"batch_size", len(batch),
			"error", err,
		)
	}

	syncedAt := e.now().UTC()
	for _, listing := range batch {
		row := domain.NewStoreRow(accountID, listing, syncedAt)

		var inserted bool
		writeErr := e.policy.DoNotify(wctx, func(ctx context.Context) error {
			var werr error
			inserted, werr = e.writeRow(ctx, row, listing, existing)
			return werr
		}, func(err error, attempt int, next time.Duration) {
			e.logger.Warn("listing write failed, retrying",
				"account_id", accountID,
				"external_id", listing.ExternalID,
				"attempt", attempt,
				"backoff", next,
				"error", err,
			)
		})

		switch {
		case writeErr != nil:
			e.fail(wctx, result, accountID, listing.ExternalID, writeErr)
		case inserted:
			result.Inserted++
		default:
			result.Updated++
		}
	}

	e.logger.Info("batch reconciled",
		"account_id", accountID,
		"received", len(listings),
		"unique", len(batch),
		"inserted", result.Inserted,
		"updated", result.Updated,
		"failed", result.Failed,
	)

	return result, nil
}

func (e *Engine) lookupExisting(ctx context.Context, accountID string, batch []domain.Listing) (map[string]struct{}, error) {
	ids := make([]string, len(batch))
	for i, l := range batch {
		ids[i] = l.ExternalID
	}

	var existing map[string]struct{}
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var lerr error
		existing, lerr = e.listings.ExistingExternalIDs(ctx, accountID, ids)
		if lerr != nil {
			return &domain.WriteError{AccountID: accountID, Op: "lookup", Err: lerr}
		}
		return nil
	})
	return existing, err
}

// writeRow upserts the category and writes the listing in one transaction.
// A nil existing map means the batch lookup failed and the row looks itself up.
func (e *Engine) writeRow(ctx context.Context, row *domain.StoreRow, listing domain.Listing, existing map[string]struct{}) (bool, error) {
	var inserted bool
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		known := existing
		if known == nil {
			found, err := e.listings.ExistingExternalIDs(txCtx, row.AccountID, []string{row.ExternalID})
			if err != nil {
				return &domain.WriteError{AccountID: row.AccountID, ExternalID: row.ExternalID, Op: "lookup", Err: err}
			}
			known = found
		}

		if listing.CategoryID != "" {
			category := domain.Category{ID: listing.CategoryID, Name: listing.CategoryName}
			if err := e.categories.UpsertBatch(txCtx, []domain.Category{category}); err != nil {
				return &domain.WriteError{AccountID: row.AccountID, ExternalID: row.ExternalID, Op: "category", Err: err}
			}
		}

		if _, ok := known[row.ExternalID]; ok {
			err := e.listings.Update(txCtx, row)
			if err == nil {
				inserted = false
				return nil
			}
			if !errors.Is(err, domain.ErrListingNotFound) {
				return &domain.WriteError{AccountID: row.AccountID, ExternalID: row.ExternalID, Op: "update", Err: err}
			}
			// deleted since the batch lookup
		}

		if err := e.listings.Insert(txCtx, row); err != nil {
			return &domain.WriteError{AccountID: row.AccountID, ExternalID: row.ExternalID, Op: "insert", Err: err}
		}
		inserted = true
		return nil
	})
	if err != nil {
		var writeErr *domain.WriteError
		if !errors.As(err, &writeErr) {
			err = &domain.WriteError{AccountID: row.AccountID, ExternalID: row.ExternalID, Op: "transaction", Err: err}
		}
		return false, err
	}
	return inserted, nil
}

func (e *Engine) fail(ctx context.Context, result *domain.ReconcileResult, accountID, externalID string, err error) {
	ev := domain.NewFailureEvent(e.provider, accountID, err)
	if externalID != "" {
		ev.ExternalID = externalID
	}
	if ev.ExternalID == "" {
		ev.ErrorCode = domain.CodeInvalidListing
		ev.Category = domain.CategoryInput
		ev.Retryable = false
	}

	e.logger.Error("listing write failed",
		"account_id", accountID,
		"external_id", externalID,
		"error_code", ev.ErrorCode,
		"error", err,
	)

	result.Failed++
	result.Failures = append(result.Failures, ev)
	if e.recorder != nil {
		e.recorder.RecordFailure(ctx, ev)
	}
}

// dedupe keeps the last occurrence of every external id, at the position of
// its first occurrence. Listings without an id are returned separately.
func dedupe(listings []domain.Listing) (batch []domain.Listing, invalid []domain.Listing) {
	index := make(map[string]int, len(listings))
	batch = make([]domain.Listing, 0, len(listings))

	for _, l := range listings {
		l.ExternalID = strings.TrimSpace(l.ExternalID)
		if l.ExternalID == "" {
			invalid = append(invalid, l)
			continue
		}
		if i, ok := index[l.ExternalID]; ok {
			batch[i] = l
			continue
		}
		index[l.ExternalID] = len(batch)
		batch = append(batch, l)
	}

	return batch, invalid
}
