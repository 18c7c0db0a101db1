// Package telemetry receives recovered failures and run summaries. Nothing
// here ever fails a sync: publish errors are logged and dropped.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"listing_sync/internal/domain"
)

const (
	DefaultTimeout = 2 * time.Second

	RoutingKeyRun = "sync.run"
)

// FailureRoutingKey is "sync.failure.<category>" so consumers can bind to one
// category or to all of them.
func FailureRoutingKey(ev domain.FailureEvent) string {
	return "sync.failure." + string(ev.Category)
}

type Config struct {
	Timeout time.Duration
}

type FailureMessage struct {
	MessageID string              `json:"message_id"`
	Event     domain.FailureEvent `json:"event"`
}

type RunMessage struct {
	MessageID string                `json:"message_id"`
	Run       *domain.SyncRunResult `json:"run"`
}

// Recorder fans events out to the log, metrics and, when configured, the
// message broker. Publisher and metrics may be nil.
type Recorder struct {
	publisher Publisher
	metrics   *Metrics
	timeout   time.Duration
	newID     func() string
	logger    *slog.Logger
}

func NewRecorder(publisher Publisher, metrics *Metrics, logger *slog.Logger, cfg Config) *Recorder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Recorder{
		publisher: publisher,
		metrics:   metrics,
		timeout:   timeout,
		newID:     uuid.NewString,
		logger:    logger.With("component", "telemetry"),
	}
}

func (r *Recorder) RecordFailure(ctx context.Context, ev domain.FailureEvent) {
	r.logger.Warn("sync failure",
		"error_code", ev.ErrorCode,
		"category", ev.Category,
		"provider", ev.Provider,
		"account_id", ev.AccountID,
		"page", ev.PageNumber,
		"external_id", ev.ExternalID,
		"retryable", ev.Retryable,
		"message", ev.Message,
	)

	if r.metrics != nil {
		r.metrics.ObserveFailure(ev)
	}

	id := r.newID()
	r.publish(ctx, FailureRoutingKey(ev), id, FailureMessage{MessageID: id, Event: ev})
}

func (r *Recorder) RecordRun(ctx context.Context, run *domain.SyncRunResult) {
	if run == nil {
		return
	}

	fetched, inserted, updated, failed := run.Totals()
	r.logger.Info("sync run recorded",
		"run_id", run.RunID,
		"user_id", run.UserID,
		"accounts", len(run.Accounts),
		"fetched", fetched,
		"inserted", inserted,
		"updated", updated,
		"failed", failed,
		"failures", len(run.Failures),
		"canceled", run.Canceled,
		"duration", run.Duration(),
	)

	if r.metrics != nil {
		r.metrics.ObserveRun(run)
	}

	id := r.newID()
	r.publish(ctx, RoutingKeyRun, id, RunMessage{MessageID: id, Run: run})
}

// publish gets its own deadline, detached from the caller's cancellation, so
// a canceled run still reports how far it got.
func (r *Recorder) publish(ctx context.Context, routingKey, id string, payload any) {
	if r.publisher == nil {
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.publisher.Publish(pctx, routingKey, id, payload); err != nil {
		r.logger.Error("failed to publish telemetry",
			"routing_key", routingKey,
			"message_id", id,
			"error", err,
		)
	}
}
