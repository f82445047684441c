package mocks

import (
	"context"
	"sync"

	"github.com/outboxrelay/relay/internal/core/domain"
	"github.com/outboxrelay/relay/internal/core/ports"
)

// Store implements ports.OutboxStore as an in-memory fake so the processor
// can be exercised without a database.
type Store struct {
	mu sync.RWMutex

	ClaimBatchFunc func(ctx context.Context, opts ports.ClaimOptions) ([]*domain.Event, error)

	SettledSuccess []int64
	SettleSuccessErr error

	SettledFailure []int64
	SettleFailureFailed, SettleFailureDiscarded int
	SettleFailureErr error

	StatsResult domain.StoreStats
	StatsErr    error
	PingErr     error
}

var _ ports.OutboxStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{}
}

func (m *Store) ClaimBatch(ctx context.Context, opts ports.ClaimOptions) ([]*domain.Event, error) {
	if m.ClaimBatchFunc != nil {
		return m.ClaimBatchFunc(ctx, opts)
	}
	return nil, nil
}

func (m *Store) SettleSuccess(ctx context.Context, consumerName string, rowIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettledSuccess = append(m.SettledSuccess, rowIDs...)
	return m.SettleSuccessErr
}

func (m *Store) SettleFailure(ctx context.Context, rowIDs []int64, reason ports.FailureReason) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettledFailure = append(m.SettledFailure, rowIDs...)
	if m.SettleFailureErr != nil {
		return 0, 0, m.SettleFailureErr
	}
	return m.SettleFailureFailed, m.SettleFailureDiscarded, nil
}

func (m *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	return m.StatsResult, m.StatsErr
}

func (m *Store) Ping(ctx context.Context) error {
	return m.PingErr
}
