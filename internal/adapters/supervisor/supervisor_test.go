package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxrelay/relay/internal/adapters/processor"
	"github.com/outboxrelay/relay/internal/adapters/supervisor"
	"github.com/outboxrelay/relay/internal/config"
	"github.com/outboxrelay/relay/internal/core/domain"
	"github.com/outboxrelay/relay/internal/core/ports"
	"github.com/outboxrelay/relay/internal/logging"
	"github.com/outboxrelay/relay/test/mocks"
)

func newTestSupervisor(t *testing.T, store *mocks.Store, pub *mocks.Publisher, relay config.RelayConfig) *supervisor.Supervisor {
	t.Helper()
	cb := mocks.NewBreaker()
	proc := processor.New(store, pub, cb, config.RetryConfig{MaxAttempts: 3, BackoffMultiplier: 1},
		config.BatchConfig{Size: 10, Interval: 20 * time.Millisecond}, config.BrokerConfig{}, "test", 0, logging.Root)
	return supervisor.New(proc, store, pub, cb, relay, config.BatchConfig{Size: 10, Interval: 20 * time.Millisecond}, logging.Root)
}

func TestSupervisor_StartFailsWhenStoreUnreachable(t *testing.T) {
	store := mocks.NewStore()
	store.PingErr = domain.ErrStorageUnavailable
	sup := newTestSupervisor(t, store, mocks.NewPublisher(), config.RelayConfig{Mode: config.ModePolling})

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, "error", sup.State())
}

func TestSupervisor_StartToleratesUnreachableBroker(t *testing.T) {
	store := mocks.NewStore()
	pub := mocks.NewPublisher()
	pub.PingError = assertableErr{}
	sup := newTestSupervisor(t, store, pub, config.RelayConfig{Mode: config.ModePolling})

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, "running", sup.State())
}

func TestSupervisor_ProcessOnStartupRunsOneCycleBeforeRunning(t *testing.T) {
	store := mocks.NewStore()
	store.ClaimBatchFunc = func(ctx context.Context, opts ports.ClaimOptions) ([]*domain.Event, error) {
		return nil, nil
	}
	sup := newTestSupervisor(t, store, mocks.NewPublisher(), config.RelayConfig{
		Mode: config.ModePolling, ProcessOnStartup: true,
	})

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, int64(1), sup.Stats().TotalBatches)
}

func TestSupervisor_TriggerBatchRunsImmediatelyAndUpdatesStats(t *testing.T) {
	store := mocks.NewStore()
	store.ClaimBatchFunc = func(ctx context.Context, opts ports.ClaimOptions) ([]*domain.Event, error) {
		return nil, nil
	}
	sup := newTestSupervisor(t, store, mocks.NewPublisher(), config.RelayConfig{Mode: config.ModePolling})
	require.NoError(t, sup.Start(context.Background()))

	result := sup.TriggerBatch(context.Background())
	assert.Equal(t, 0, result.Claimed)
	assert.Equal(t, int64(1), sup.Stats().TotalBatches)
}

func TestSupervisor_ContinuousModeTicksAndShutsDownCleanly(t *testing.T) {
	store := mocks.NewStore()
	var claims int
	store.ClaimBatchFunc = func(ctx context.Context, opts ports.ClaimOptions) ([]*domain.Event, error) {
		claims++
		return nil, nil
	}
	pub := mocks.NewPublisher()
	sup := newTestSupervisor(t, store, pub, config.RelayConfig{
		Mode: config.ModeContinuous, GracefulShutdownTimeout: time.Second,
	})

	require.NoError(t, sup.Start(context.Background()))
	time.Sleep(70 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(ctx))

	assert.Equal(t, "stopped", sup.State())
	assert.GreaterOrEqual(t, claims, 1)
	assert.True(t, pub.Closed)
}

type assertableErr struct{}

func (assertableErr) Error() string { return "broker unreachable" }
