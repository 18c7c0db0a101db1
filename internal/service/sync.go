package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"listing_sync/internal/config"
	"listing_sync/internal/domain"
	"listing_sync/internal/retry"
)

const (
	// DefaultMaxPages bounds the page loop of one account no matter what the
	// marketplace says about further pages.
	DefaultMaxPages = 100

	DefaultMaxConsecutivePageFailures = 3
)

type SyncService struct {
	accounts   AccountStore
	tokens     TokenProvider
	fetcher    ListingFetcher
	reconciler Reconciler
	syncState  SyncStateStore
	telemetry  TelemetrySink
	pagePolicy retry.Policy
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
	config     config.SyncConfig
}

func NewSyncService(
	accounts AccountStore,
	tokens TokenProvider,
	fetcher ListingFetcher,
	reconciler Reconciler,
	syncState SyncStateStore,
	telemetry TelemetrySink,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	if cfg.MaxPagesPerSync <= 0 {
		cfg.MaxPagesPerSync = DefaultMaxPages
	}
	if cfg.MaxConsecutivePageFailures <= 0 {
		cfg.MaxConsecutivePageFailures = DefaultMaxConsecutivePageFailures
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &SyncService{
		accounts:   accounts,
		tokens:     tokens,
		fetcher:    fetcher,
		reconciler: reconciler,
		syncState:  syncState,
		telemetry:  telemetry,
		pagePolicy: cfg.PageRetry.Policy(),
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     logger.With("source", fetcher.ID()),
		config:     cfg,
	}
}

// Sync runs one pass over every account of userID. Account and page level
// failures are recorded and the run goes on; only a failure to load the
// accounts aborts it. When ctx is done between pages or accounts the partial
// result is returned together with ctx.Err(), or context.DeadlineExceeded
// when the deadline was too close to send the next page request.
func (s *SyncService) Sync(ctx context.Context, userID string) (*domain.SyncRunResult, error) {
	run := &domain.SyncRunResult{
		RunID:     s.newID(),
		UserID:    userID,
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With("run_id", run.RunID, "user_id", userID)

	accounts, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	logger.Info("starting sync",
		"accounts", len(accounts),
		"max_pages", s.config.MaxPagesPerSync,
		"page_size", s.config.PageSize,
		"concurrency", s.config.Concurrency,
	)

	results := make([]domain.AccountResult, len(accounts))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.config.Concurrency)

	for i, account := range accounts {
		g.Go(func() error {
			// checked once a worker slot is free, i.e. between accounts
			if ctx.Err() != nil {
				skipped := domain.NewAccountResult(account.ID)
				skipped.State = domain.StateCanceled
				results[i] = *skipped
				return nil
			}

			result, failures := s.syncAccount(ctx, logger, account)
			results[i] = *result

			mu.Lock()
			run.Failures = append(run.Failures, failures...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	run.Accounts = results
	for _, r := range results {
		run.TotalItems += r.Fetched
		if r.State == domain.StateCanceled {
			run.Canceled = true
		}
	}
	run.FinishedAt = s.now().UTC()

	fetched, inserted, updated, failed := run.Totals()
	logger.Info("sync completed",
		"fetched", fetched,
		"inserted", inserted,
		"updated", updated,
		"failed", failed,
		"failures", len(run.Failures),
		"canceled", run.Canceled,
		"duration", run.Duration(),
	)

	s.telemetry.RecordRun(ctx, run)

	if run.Canceled {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		// an account ran out of time before ctx itself expired
		return run, context.DeadlineExceeded
	}
	return run, nil
}

// syncAccount drives one account through its state machine. Pages are
// fetched strictly in order.
func (s *SyncService) syncAccount(ctx context.Context, runLogger *slog.Logger, account domain.Account) (*domain.AccountResult, []domain.FailureEvent) {
	result := domain.NewAccountResult(account.ID)
	logger := runLogger.With("account_id", account.ID)
	var failures []domain.FailureEvent

	fail := func(page int, err error) {
		ev := domain.NewFailureEvent(s.fetcher.ID(), account.ID, err)
		if ev.PageNumber == 0 {
			ev.PageNumber = page
		}
		failures = append(failures, ev)
		s.telemetry.RecordFailure(ctx, ev)
	}

	defer func() {
		s.recordState(ctx, logger, result)
	}()

	token, err := s.tokens.Refresh(ctx, account)
	if err != nil {
		if ctx.Err() != nil {
			result.State = domain.StateCanceled
			return result, failures
		}
		logger.Error("token refresh failed", "error", err)
		fail(0, err)
		result.State = domain.StateAccountFailed
		result.Error = err.Error()
		return result, failures
	}
	s.transition(logger, result, domain.StateTokenAcquired)
	s.transition(logger, result, domain.StatePageFetching)

	var (
		succeeded           bool
		consecutiveFailures int
		totalPages          int
	)

	for page := 1; ; page++ {
		if page > s.config.MaxPagesPerSync {
			logger.Warn("page ceiling reached", "max_pages", s.config.MaxPagesPerSync)
			break
		}
		if ctx.Err() != nil {
			result.State = domain.StateCanceled
			return result, failures
		}

		fetched, err := s.fetchPage(ctx, logger, token, page)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrOutOfTime) {
				logger.Warn("no time left for the next page", "page", page, "error", err)
				result.State = domain.StateCanceled
				return result, failures
			}

			logger.Error("page fetch failed", "page", page, "error", err)
			fail(page, err)

			if domain.IsUnauthorized(err) {
				result.State = domain.StateAccountFailed
				result.Error = err.Error()
				return result, failures
			}

			consecutiveFailures++
			if !succeeded && consecutiveFailures >= s.config.MaxConsecutivePageFailures {
				result.State = domain.StateAccountFailed
				result.Error = fmt.Sprintf("first %d pages failed: %v", consecutiveFailures, err)
				return result, failures
			}
			if totalPages > 0 && page >= totalPages {
				break
			}
			continue
		}

		succeeded = true
		consecutiveFailures = 0
		totalPages = fetched.TotalPages

		rec, err := s.reconciler.Reconcile(ctx, account.ID, fetched.Listings)
		if err != nil {
			logger.Error("reconcile rejected batch", "page", page, "error", err)
			fail(page, err)
			result.State = domain.StateAccountFailed
			result.Error = err.Error()
			return result, failures
		}
		for i := range rec.Failures {
			if rec.Failures[i].PageNumber == 0 {
				rec.Failures[i].PageNumber = page
			}
		}
		failures = append(failures, rec.Failures...)
		result.AddPage(fetched.Listings, rec)

		logger.Debug("page synced",
			"page", page,
			"listings", len(fetched.Listings),
			"inserted", rec.Inserted,
			"updated", rec.Updated,
			"failed", rec.Failed,
			"has_more", fetched.HasMoreItems,
		)

		if !fetched.HasMoreItems {
			break
		}
	}

	s.transition(logger, result, domain.StateDone)
	logger.Info("account synced",
		"pages", result.Pages,
		"fetched", result.Fetched,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"failed", result.Failed,
	)
	return result, failures
}

func (s *SyncService) fetchPage(ctx context.Context, logger *slog.Logger, token domain.AccessToken, page int) (*domain.Page, error) {
	var fetched *domain.Page
	err := s.pagePolicy.DoNotify(ctx, func(ctx context.Context) error {
		p, err := s.fetcher.FetchPage(ctx, token, page, s.config.PageSize)
		if err != nil {
			return err
		}
		fetched = p
		return nil
	}, func(err error, attempt int, next time.Duration) {
		logger.Warn("page fetch failed, retrying",
			"page", page,
			"attempt", attempt,
			"backoff", next,
			"error", err,
		)
	})
	return fetched, err
}

func (s *SyncService) transition(logger *slog.Logger, result *domain.AccountResult, to domain.AccountState) {
	logger.Debug("account state", "from", result.State, "to", to)
	result.State = to
}

// recordState is best effort; a lost checkpoint only costs a log line.
func (s *SyncService) recordState(ctx context.Context, logger *slog.Logger, result *domain.AccountResult) {
	if s.syncState == nil {
		return
	}

	state := &domain.AccountSyncState{
		AccountID:    result.AccountID,
		LastSyncedAt: s.now().UTC(),
		LastState:    string(result.State),
	}
	synced := int64(result.Inserted + result.Updated)

	if err := s.syncState.Record(context.WithoutCancel(ctx), state, synced); err != nil {
		logger.Error("failed to record sync state", "error", err)
	}
}
