package supervisor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outboxrelay/relay/internal/adapters/processor"
	"github.com/outboxrelay/relay/internal/adapters/supervisor"
)

func TestStats_RecordAccumulatesTotals(t *testing.T) {
	var s supervisor.Stats

	s.Record(processor.BatchResult{Claimed: 10, Published: 8, Failed: 1, Discarded: 1, Duration: time.Second})
	s.Record(processor.BatchResult{Claimed: 20, Published: 20, Duration: 2 * time.Second})

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.TotalBatches)
	assert.Equal(t, int64(30), snap.TotalEventsProcessed)
	assert.Equal(t, int64(28), snap.TotalEventsPublished)
	assert.Equal(t, int64(1), snap.TotalEventsFailed)
	assert.Equal(t, int64(1), snap.TotalEventsDiscarded)
	assert.InDelta(t, 15.0, snap.AverageBatchSize, 0.001)
}

func TestStats_EmptyBatchDoesNotSkewProcessingAverage(t *testing.T) {
	var s supervisor.Stats

	s.Record(processor.BatchResult{Claimed: 10, Duration: time.Second})
	first := s.Snapshot().AverageProcessingDuration

	s.Record(processor.BatchResult{Claimed: 0, Duration: 0})
	second := s.Snapshot().AverageProcessingDuration

	assert.Equal(t, first, second)
}

func TestStats_LastBatchResultReflectsMostRecentCall(t *testing.T) {
	var s supervisor.Stats
	s.Record(processor.BatchResult{Claimed: 1})
	s.Record(processor.BatchResult{Claimed: 2, Published: 2})

	assert.Equal(t, 2, s.Snapshot().LastBatchResult.Claimed)
}
