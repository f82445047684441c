package outbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxrelay/relay/internal/adapters/outbox"
	"github.com/outboxrelay/relay/internal/core/domain"
	"github.com/outboxrelay/relay/internal/core/ports"
)

func claimRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "event_id", "event_type", "event_version", "event_domain", "source_service",
		"source_entity_type", "source_entity_id", "correlation_id", "causation_id",
		"parent_event_id", "payload", "metadata", "content_type", "priority",
		"exchange", "routing_key", "status", "attempts", "max_attempts",
		"next_attempt_at", "occurred_at", "created_at", "updated_at",
		"published_at", "failed_at", "error_message", "error_code",
	}).AddRow(
		int64(1), "evt-1", "order.created", "1", "orders", "orders-svc",
		"order", "o-1", nil, nil,
		nil, []byte(`{}`), []byte(`{"tenant":"acme"}`), "application/json", "normal",
		"orders", "order.created", "processing", 1, 3,
		now, now, now, now,
		nil, nil, nil, nil,
	)
}

func TestClaimBatch_ZeroBatchSizeTouchesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := outbox.New(db)
	events, err := store.ClaimBatch(context.Background(), ports.ClaimOptions{BatchSize: 0})
	require.NoError(t, err)
	assert.Nil(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatch_ScansReturnedRowsIntoEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE outbox_events").
		WithArgs(5, 0, "consumer-a").
		WillReturnRows(claimRow())

	store := outbox.New(db)
	events, err := store.ClaimBatch(context.Background(), ports.ClaimOptions{
		BatchSize: 5, ConsumerName: "consumer-a",
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, int64(1), ev.RowID)
	assert.Equal(t, "evt-1", ev.EventID)
	assert.Equal(t, domain.PriorityNormal, ev.Priority)
	assert.Equal(t, "acme", ev.Metadata["tenant"])
	assert.Equal(t, "order", ev.SourceEntity.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatch_QueryErrorWrapsStorageUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE outbox_events").WillReturnError(assertErr{})

	store := outbox.New(db)
	_, err = store.ClaimBatch(context.Background(), ports.ClaimOptions{BatchSize: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestSettleSuccess_UpsertsWatermarkForEachPublishedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE outbox_events").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id"}).AddRow(int64(1), "evt-1"))
	mock.ExpectExec("INSERT INTO consumer_watermarks").
		WithArgs("consumer-a", "evt-1", "published", "ok", "", "", int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := outbox.New(db)
	err = store.SettleSuccess(context.Background(), "consumer-a", []int64{1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleSuccess_EmptyRowIDsIsANoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := outbox.New(db)
	require.NoError(t, store.SettleSuccess(context.Background(), "consumer-a", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleFailure_DistinguishesFailedFromDiscarded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE outbox_events").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "boom", "transport").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow(int64(1), "failed").
			AddRow(int64(2), "discarded"))
	mock.ExpectCommit()

	store := outbox.New(db)
	failed, discarded, err := store.SettleFailure(context.Background(), []int64{1, 2}, ports.FailureReason{
		Message: "boom", Code: "transport", RetryAfter: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, discarded)
}

func TestStats_GroupsRowCountsByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT status, count").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(3)).
			AddRow("published", int64(10)))
	now := time.Now()
	mock.ExpectQuery("SELECT min\\(occurred_at\\), max\\(occurred_at\\)").
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(now, now))

	store := outbox.New(db)
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.ByStatus[domain.StatusPending])
	assert.Equal(t, int64(10), stats.ByStatus[domain.StatusPublished])
	require.NotNil(t, stats.OldestPendingOccurredAt)
}

func TestPing_WrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(assertErr{})

	store := outbox.New(db)
	err = store.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

type assertErr struct{}

func (assertErr) Error() string { return "driver error" }
