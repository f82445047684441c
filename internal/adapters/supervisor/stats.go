package supervisor

import (
	"sync"
	"time"

	"github.com/outboxrelay/relay/internal/adapters/processor"
)

// ewmaAlpha is the smoothing factor spec.md §4.5 fixes for the per-event
// processing-time moving average.
const ewmaAlpha = 0.1

// Stats is the in-memory, mutex-guarded statistics block spec.md §4.5
// requires: everything monotonic except last_batch_result.
type Stats struct {
	mu sync.Mutex

	totalBatches              int64
	totalEventsProcessed      int64
	totalEventsPublished      int64
	totalEventsFailed         int64
	totalEventsDiscarded      int64
	avgBatchSize              float64
	avgEventProcessingSeconds float64
	lastBatchResult           processor.BatchResult
}

// Record folds one cycle's result into the running totals.
func (s *Stats) Record(result processor.BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalBatches++
	s.totalEventsProcessed += int64(result.Claimed)
	s.totalEventsPublished += int64(result.Published)
	s.totalEventsFailed += int64(result.Failed)
	s.totalEventsDiscarded += int64(result.Discarded)
	s.lastBatchResult = result

	n := float64(s.totalBatches)
	s.avgBatchSize += (float64(result.Claimed) - s.avgBatchSize) / n

	if result.Claimed > 0 {
		perEvent := result.Duration.Seconds() / float64(result.Claimed)
		if s.totalBatches == 1 {
			s.avgEventProcessingSeconds = perEvent
		} else {
			s.avgEventProcessingSeconds = ewmaAlpha*perEvent + (1-ewmaAlpha)*s.avgEventProcessingSeconds
		}
	}
}

// Snapshot is a consistent, lock-free copy of Stats for reporting.
type Snapshot struct {
	TotalBatches              int64
	TotalEventsProcessed      int64
	TotalEventsPublished      int64
	TotalEventsFailed         int64
	TotalEventsDiscarded      int64
	AverageBatchSize          float64
	AverageProcessingDuration time.Duration
	LastBatchResult           processor.BatchResult
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalBatches:              s.totalBatches,
		TotalEventsProcessed:      s.totalEventsProcessed,
		TotalEventsPublished:      s.totalEventsPublished,
		TotalEventsFailed:         s.totalEventsFailed,
		TotalEventsDiscarded:      s.totalEventsDiscarded,
		AverageBatchSize:          s.avgBatchSize,
		AverageProcessingDuration: time.Duration(s.avgEventProcessingSeconds * float64(time.Second)),
		LastBatchResult:           s.lastBatchResult,
	}
}
