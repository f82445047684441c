// Package ports declares the interfaces the batch processor, supervisor,
// and health surface program against, so the Postgres/RabbitMQ adapters can
// be swapped for fakes in tests.
package ports

import (
	"context"
	"time"

	"github.com/outboxrelay/relay/internal/core/domain"
)

// ClaimOptions parameterises the claim-a-batch operation of spec.md §4.1.
type ClaimOptions struct {
	BatchSize      int
	ConsumerName   string
	MaxAttemptsCap int
}

// FailureReason carries the per-call context settle-failure needs to decide
// between a retry and a discard.
type FailureReason struct {
	Message    string
	Code       string
	RetryAfter time.Duration
}

// OutboxStore is C1: concurrency-safe claim/settle primitives over the
// outbox row state machine, plus aggregate statistics.
type OutboxStore interface {
	// ClaimBatch atomically transitions up to opts.BatchSize pending rows,
	// and failed rows whose next attempt time has passed, to processing,
	// incrementing Attempts, such that no two concurrent
	// callers ever observe the same row. Returns domain.ErrStorageUnavailable
	// on transport failure.
	ClaimBatch(ctx context.Context, opts ClaimOptions) ([]*domain.Event, error)

	// SettleSuccess marks rows published and idempotent-upserts the
	// consumer watermark. Rows not currently processing are ignored.
	SettleSuccess(ctx context.Context, consumerName string, rowIDs []int64) error

	// SettleFailure transitions rows to failed or discarded depending on
	// whether Attempts has reached MaxAttempts. Returns (failedCount,
	// discardedCount).
	SettleFailure(ctx context.Context, rowIDs []int64, reason FailureReason) (failed, discarded int, err error)

	// Stats returns counts grouped by status plus the pending watermarks.
	Stats(ctx context.Context) (domain.StoreStats, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}
