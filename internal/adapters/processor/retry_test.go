package processor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outboxrelay/relay/internal/adapters/processor"
	"github.com/outboxrelay/relay/internal/config"
)

func TestCalculateRetryDelay_ExponentialWithoutJitter(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: 500 * time.Millisecond, BackoffMultiplier: 2.0, MaxDelay: 30 * time.Second,
	}

	assert.Equal(t, 500*time.Millisecond, processor.CalculateRetryDelay(cfg, 1))
	assert.Equal(t, time.Second, processor.CalculateRetryDelay(cfg, 2))
	assert.Equal(t, 2*time.Second, processor.CalculateRetryDelay(cfg, 3))
}

func TestCalculateRetryDelay_ClampsToMaxDelay(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: time.Second, BackoffMultiplier: 10.0, MaxDelay: 5 * time.Second,
	}
	assert.Equal(t, 5*time.Second, processor.CalculateRetryDelay(cfg, 5))
}

func TestCalculateRetryDelay_JitterStaysWithinRatioBounds(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: time.Second, BackoffMultiplier: 1.0, MaxDelay: time.Minute,
		Jitter: true, JitterRatio: 0.2,
	}

	for i := 0; i < 50; i++ {
		d := processor.CalculateRetryDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestCalculateRetryDelay_AttemptBelowOneTreatedAsOne(t *testing.T) {
	cfg := config.RetryConfig{InitialDelay: time.Second, BackoffMultiplier: 2.0, MaxDelay: time.Minute}
	assert.Equal(t, processor.CalculateRetryDelay(cfg, 1), processor.CalculateRetryDelay(cfg, 0))
}
