// Package outbox is C1: the Postgres-backed outbox table. Claiming a batch
// and settling its outcome are both done with plain database/sql and
// lib/pq, the same driver and FOR UPDATE SKIP LOCKED idiom the teacher's
// relay.go uses for its own (single-row) claim query, generalized here to a
// batch and to the full pending/processing/published/failed/discarded state
// machine spec.md §4.1 describes.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/outboxrelay/relay/internal/core/domain"
	"github.com/outboxrelay/relay/internal/core/ports"
)

// Store is the database/sql-backed ports.OutboxStore.
type Store struct {
	db    *sql.DB
	cache *WatermarkCache
}

// New wraps an already-opened *sql.DB. Callers own the pool's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewWithCache wraps db and writes through to cache on every successful
// settle. ClaimBatch consults the cache after its claim query (see
// filterAlreadyProcessed); the query's own NOT EXISTS check over
// consumer_watermarks always runs against Postgres. cache may be nil, same
// as the zero value from New.
func NewWithCache(db *sql.DB, cache *WatermarkCache) *Store {
	return &Store{db: db, cache: cache}
}

const claimQuery = `
UPDATE outbox_events AS o
SET status = 'processing', attempts = attempts + 1, updated_at = now()
FROM (
	SELECT id
	FROM outbox_events o
	WHERE status IN ('pending', 'failed')
	  AND next_attempt_at <= now()
	  AND ($2 <= 0 OR attempts < $2)
	  AND NOT EXISTS (
		SELECT 1 FROM consumer_watermarks w
		WHERE w.consumer_name = $3 AND w.event_id = o.event_id AND w.status = 'published'
	  )
	ORDER BY
		CASE priority
			WHEN 'critical' THEN 3
			WHEN 'high' THEN 2
			WHEN 'normal' THEN 1
			ELSE 0
		END DESC,
		occurred_at ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
) AS claimed
WHERE o.id = claimed.id
RETURNING
	o.id, o.event_id, o.event_type, o.event_version, o.event_domain, o.source_service,
	o.source_entity_type, o.source_entity_id, o.correlation_id, o.causation_id,
	o.parent_event_id, o.payload, o.metadata, o.content_type, o.priority,
	o.exchange, o.routing_key, o.status, o.attempts, o.max_attempts,
	o.next_attempt_at, o.occurred_at, o.created_at, o.updated_at,
	o.published_at, o.failed_at, o.error_message, o.error_code`

// ClaimBatch implements ports.OutboxStore. A batch_size of zero returns an
// empty result without touching the store, per the boundary behaviour in
// spec.md §8.
func (s *Store) ClaimBatch(ctx context.Context, opts ports.ClaimOptions) ([]*domain.Event, error) {
	if opts.BatchSize == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, claimQuery, opts.BatchSize, opts.MaxAttemptsCap, opts.ConsumerName)
	if err != nil {
		return nil, fmt.Errorf("%w: claim batch: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan claimed row: %v", domain.ErrStorageUnavailable, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate claimed rows: %v", domain.ErrStorageUnavailable, err)
	}
	return s.filterAlreadyProcessed(ctx, opts.ConsumerName, events), nil
}

// filterAlreadyProcessed catches the race the claim query's own NOT EXISTS
// check can miss: a concurrent relay instance publishing and writing its
// watermark to the cache between this query's snapshot and its commit. A
// cache hit here means the row was already published, so it's settled
// immediately instead of being handed to the caller for a duplicate
// publish. Cache misses and a nil cache both pass every row through
// unchanged — Postgres, not Redis, remains the authority.
func (s *Store) filterAlreadyProcessed(ctx context.Context, consumerName string, events []*domain.Event) []*domain.Event {
	if s.cache == nil || len(events) == 0 {
		return events
	}

	survivors := make([]*domain.Event, 0, len(events))
	var alreadyDone []int64
	for _, ev := range events {
		if s.cache.IsProcessed(ctx, consumerName, ev.EventID) {
			alreadyDone = append(alreadyDone, ev.RowID)
			continue
		}
		survivors = append(survivors, ev)
	}

	if len(alreadyDone) == 0 {
		return events
	}
	if err := s.SettleSuccess(ctx, consumerName, alreadyDone); err != nil {
		// Best effort: if closing these rows out failed, let them flow
		// through the normal publish path instead of losing track of them.
		return events
	}
	return survivors
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r scanner) (*domain.Event, error) {
	var ev domain.Event
	var metadata []byte
	var sourceEntityType, sourceEntityID sql.NullString
	var correlationID, causationID, parentEventID sql.NullString
	var errorMessage, errorCode sql.NullString
	var publishedAt, failedAt sql.NullTime

	err := r.Scan(
		&ev.RowID, &ev.EventID, &ev.EventType, &ev.EventVersion, &ev.EventDomain, &ev.SourceService,
		&sourceEntityType, &sourceEntityID, &correlationID, &causationID,
		&parentEventID, &ev.Payload, &metadata, &ev.ContentType, &ev.Priority,
		&ev.Exchange, &ev.RoutingKey, &ev.Status, &ev.Attempts, &ev.MaxAttempts,
		&ev.NextAttemptAt, &ev.OccurredAt, &ev.CreatedAt, &ev.UpdatedAt,
		&publishedAt, &failedAt, &errorMessage, &errorCode,
	)
	if err != nil {
		return nil, err
	}

	ev.SourceEntity = domain.EntityRef{Type: sourceEntityType.String, ID: sourceEntityID.String}
	ev.CorrelationID = correlationID.String
	ev.CausationID = causationID.String
	ev.ParentEventID = parentEventID.String
	ev.ErrorMessage = errorMessage.String
	ev.ErrorCode = errorCode.String
	if publishedAt.Valid {
		ev.PublishedAt = &publishedAt.Time
	}
	if failedAt.Valid {
		ev.FailedAt = &failedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &ev, nil
}

// SettleSuccess implements ports.OutboxStore. The watermark upsert is
// idempotent: replaying the same (consumer, event) pair after a crash
// between the row update and the watermark write just overwrites the row
// with the same values.
func (s *Store) SettleSuccess(ctx context.Context, consumerName string, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin settle-success tx: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE outbox_events
		SET status = 'published', published_at = now(), updated_at = now(),
		    error_message = '', error_code = ''
		WHERE id = ANY($1) AND status = 'processing'
		RETURNING id, event_id`,
		pq.Array(rowIDs),
	)
	if err != nil {
		return fmt.Errorf("%w: mark published: %v", domain.ErrStorageUnavailable, err)
	}
	published := make(map[int64]string, len(rowIDs))
	for rows.Next() {
		var id int64
		var eventID string
		if err := rows.Scan(&id, &eventID); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan published row: %v", domain.ErrStorageUnavailable, err)
		}
		published[id] = eventID
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("%w: iterate published rows: %v", domain.ErrStorageUnavailable, err)
	}
	rows.Close()

	for _, eventID := range published {
		if err := upsertWatermark(ctx, tx, consumerName, eventID, "published", "ok", "", "", 0); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit settle-success: %v", domain.ErrStorageUnavailable, err)
	}

	// Cache write failures don't undo an already-committed success; the
	// cache is an optimization, so errors here are swallowed.
	for _, eventID := range published {
		_ = s.cache.MarkProcessed(ctx, consumerName, eventID)
	}
	return nil
}

// SettleFailure implements ports.OutboxStore.
func (s *Store) SettleFailure(ctx context.Context, rowIDs []int64, reason ports.FailureReason) (failed, discarded int, err error) {
	if len(rowIDs) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin settle-failure tx: %v", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	nextAttempt := time.Now().Add(reason.RetryAfter)

	discardRows, err := tx.QueryContext(ctx, `
		UPDATE outbox_events
		SET status = CASE WHEN attempts >= max_attempts THEN 'discarded' ELSE 'failed' END,
		    next_attempt_at = $2,
		    failed_at = now(),
		    updated_at = now(),
		    error_message = $3,
		    error_code = $4
		WHERE id = ANY($1) AND status = 'processing'
		RETURNING id, status`,
		pq.Array(rowIDs), nextAttempt, truncate(reason.Message, 2000), reason.Code,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: settle failure: %v", domain.ErrStorageUnavailable, err)
	}
	defer discardRows.Close()

	for discardRows.Next() {
		var id int64
		var status string
		if err := discardRows.Scan(&id, &status); err != nil {
			return 0, 0, fmt.Errorf("%w: scan settle-failure row: %v", domain.ErrStorageUnavailable, err)
		}
		if status == string(domain.StatusDiscarded) {
			discarded++
		} else {
			failed++
		}
	}
	if err := discardRows.Err(); err != nil {
		return 0, 0, fmt.Errorf("%w: iterate settle-failure rows: %v", domain.ErrStorageUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit settle-failure: %v", domain.ErrStorageUnavailable, err)
	}
	return failed, discarded, nil
}

// Stats implements ports.OutboxStore.
func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	stats := domain.StoreStats{ByStatus: make(map[domain.Status]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("%w: stats: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("%w: scan stats row: %v", domain.ErrStorageUnavailable, err)
		}
		stats.ByStatus[domain.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("%w: iterate stats rows: %v", domain.ErrStorageUnavailable, err)
	}

	var oldest, newest sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT min(occurred_at), max(occurred_at)
		FROM outbox_events
		WHERE status = 'pending'`,
	).Scan(&oldest, &newest)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("%w: pending watermarks: %v", domain.ErrStorageUnavailable, err)
	}
	if oldest.Valid {
		stats.OldestPendingOccurredAt = &oldest.Time
	}
	if newest.Valid {
		stats.NewestPendingOccurredAt = &newest.Time
	}
	return stats, nil
}

// Ping implements ports.OutboxStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func upsertWatermark(ctx context.Context, tx *sql.Tx, consumerName, eventID, status, result, errMsg, errCode string, durationMs int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO consumer_watermarks
			(consumer_name, event_id, status, result, error_message, error_code, processing_duration_ms, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (consumer_name, event_id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error_message = EXCLUDED.error_message,
			error_code = EXCLUDED.error_code,
			processing_duration_ms = EXCLUDED.processing_duration_ms,
			processed_at = EXCLUDED.processed_at`,
		consumerName, eventID, status, result, errMsg, errCode, durationMs,
	)
	if isUniqueViolation(err) {
		// Another consumer instance raced us to the same watermark row; the
		// row already reflects a successful settle, so
		// treat the race as a no-op rather than surfacing an error.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: upsert watermark: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if err == nil {
		return false
	}
	if e, ok := err.(*pq.Error); ok {
		pqErr = e
	}
	return pqErr != nil && pqErr.Code == "23505"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
