package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"listing_sync/internal/domain"
)

const DefaultRunTimeout = 20 * time.Minute

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context, userID string) (*domain.SyncRunResult, error)
}

type Config struct {
	Interval   time.Duration
	RunTimeout time.Duration
	UserIDs    []string
}

type Scheduler struct {
	syncer     Syncer
	interval   time.Duration
	runTimeout time.Duration
	userIDs    []string
	logger     *slog.Logger
}

func NewScheduler(syncer Syncer, cfg Config, logger *slog.Logger) *Scheduler {
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}
	return &Scheduler{
		syncer:     syncer,
		interval:   cfg.Interval,
		runTimeout: runTimeout,
		userIDs:    cfg.UserIDs,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "users", len(s.userIDs))

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every configured user in turn and reports how many runs
// ended in an error.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	failed := 0
	for _, userID := range s.userIDs {
		if ctx.Err() != nil {
			return failed
		}
		if err := s.runSync(ctx, userID); err != nil {
			failed++
		}
	}
	return failed
}

func (s *Scheduler) runSync(ctx context.Context, userID string) error {
	syncCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	run, err := s.syncer.Sync(syncCtx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.logger.Warn("sync run timed out, partial result kept",
			"user_id", userID,
			"timeout", s.runTimeout,
			"accounts", accountsIn(run),
		)
	default:
		s.logger.Error("sync failed", "user_id", userID, "error", err)
	}
	return err
}

func accountsIn(run *domain.SyncRunResult) int {
	if run == nil {
		return 0
	}
	return len(run.Accounts)
}
