// Package processor is C4: one claim-publish-settle cycle. The re-entrancy
// guard is an atomic.Bool try-lock (spec.md §5's "already processing" flag
// made explicit), grounded on the same try-lock shape the teacher's relay
// uses implicitly through its single-goroutine Start loop, generalized here
// to a concurrency-safe guard since C5 may invoke Process from its ticker and
// from TriggerBatch at the same time.
package processor

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/outboxrelay/relay/internal/adapters/health"
	"github.com/outboxrelay/relay/internal/adapters/messaging"
	"github.com/outboxrelay/relay/internal/config"
	"github.com/outboxrelay/relay/internal/core/domain"
	"github.com/outboxrelay/relay/internal/core/ports"
	"github.com/outboxrelay/relay/internal/logging"
)

// BatchResult summarizes the outcome of one Process call.
type BatchResult struct {
	Claimed, Published, Failed, Discarded int
	Duration                              time.Duration
	Errors                                []string
}

// Processor drives one cycle of C1 claim, C3/C2 publish, C1 settle.
type Processor struct {
	store     ports.OutboxStore
	publisher ports.Publisher
	breaker   ports.CircuitBreaker

	retryCfg  config.RetryConfig
	batchCfg  config.BatchConfig
	mandatory bool

	consumerName   string
	maxAttemptsCap int

	log logging.Logger

	running atomic.Bool
}

// New builds a Processor. maxAttemptsCap bounds claim eligibility
// independently of each row's own max_attempts (0 disables the cap).
func New(store ports.OutboxStore, publisher ports.Publisher, breaker ports.CircuitBreaker,
	retryCfg config.RetryConfig, batchCfg config.BatchConfig, broker config.BrokerConfig,
	consumerName string, maxAttemptsCap int, log logging.Logger) *Processor {
	return &Processor{
		store: store, publisher: publisher, breaker: breaker,
		retryCfg: retryCfg, batchCfg: batchCfg, mandatory: broker.Mandatory,
		consumerName: consumerName, maxAttemptsCap: maxAttemptsCap, log: log,
	}
}

// Process runs one cycle. A second concurrent call on an instance already
// mid-cycle returns an empty result immediately and does no work.
func (p *Processor) Process(ctx context.Context) BatchResult {
	if !p.running.CompareAndSwap(false, true) {
		return BatchResult{}
	}
	defer p.running.Store(false)

	start := time.Now()
	timer := health.NewTimer()
	defer timer.ObserveDuration(health.BatchDuration)
	defer p.emitQueueDepth(ctx)

	result := BatchResult{}

	events, err := p.store.ClaimBatch(ctx, ports.ClaimOptions{
		BatchSize:      p.batchCfg.Size,
		ConsumerName:   p.consumerName,
		MaxAttemptsCap: p.maxAttemptsCap,
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}

	result.Claimed = len(events)
	health.EventsClaimedTotal.WithLabelValues(p.consumerName).Add(float64(len(events)))
	health.BatchSize.Observe(float64(len(events)))

	if len(events) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	var published, failCandidates, discardCandidates []*domain.Event

	for _, ev := range events {
		evTimer := health.NewTimer()
		pubErr := p.publishWithRetry(ctx, ev)
		evTimer.ObserveDuration(health.EventProcessingDuration.WithLabelValues(ev.EventType, ev.EventDomain))

		if pubErr == nil {
			published = append(published, ev)
			health.EventsPublishedTotal.WithLabelValues(ev.EventType, ev.EventDomain, ev.Exchange, ev.RoutingKey).Inc()
			continue
		}

		result.Errors = append(result.Errors, pubErr.Error())
		health.EventsFailedTotal.WithLabelValues(ev.EventType, ev.EventDomain, ev.ErrorCode).Inc()

		// attempts was already incremented by the claim; attempts >=
		// max_attempts - 1 makes the row a discard-candidate, settled with
		// no retry delay. The store discards it only once attempts has
		// reached max_attempts; otherwise it becomes failed and due at once.
		if ev.Attempts >= ev.MaxAttempts-1 {
			discardCandidates = append(discardCandidates, ev)
		} else {
			failCandidates = append(failCandidates, ev)
		}
	}

	if len(published) > 0 {
		if err := p.store.SettleSuccess(ctx, p.consumerName, rowIDs(published)); err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Published = len(published)
		}
	}

	for _, ev := range discardCandidates {
		failed, discarded, err := p.store.SettleFailure(ctx, []int64{ev.RowID}, ports.FailureReason{
			Message: ev.ErrorMessage, Code: ev.ErrorCode, RetryAfter: 0,
		})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Failed += failed
		result.Discarded += discarded
		if discarded > 0 {
			health.EventsDiscardedTotal.WithLabelValues(ev.EventType, ev.EventDomain, "max_attempts_reached").Inc()
		}
	}

	for _, ev := range failCandidates {
		delay := CalculateRetryDelay(p.retryCfg, 1)
		failed, discarded, err := p.store.SettleFailure(ctx, []int64{ev.RowID}, ports.FailureReason{
			Message: ev.ErrorMessage, Code: ev.ErrorCode, RetryAfter: delay,
		})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Failed += failed
		result.Discarded += discarded
		health.EventsRetriedTotal.WithLabelValues(ev.EventType, ev.EventDomain, strconv.Itoa(ev.Attempts+1)).Inc()
	}

	result.Duration = time.Since(start)
	return result
}

// publishWithRetry runs the inner retry loop of spec.md §4.4: up to
// min(max_attempts - attempts, 3) tries, separated by the configured
// backoff, stopping immediately on a non-retriable error or an open
// breaker. On failure it records the last error onto ev.ErrorMessage /
// ev.ErrorCode for the caller's settle-failure call.
func (p *Processor) publishWithRetry(ctx context.Context, ev *domain.Event) error {
	maxInner := ev.MaxAttempts - ev.Attempts
	if maxInner > 3 {
		maxInner = 3
	}
	if maxInner < 1 {
		maxInner = 1
	}

	body, err := messaging.BuildEnvelope(ev)
	if err != nil {
		ev.ErrorMessage = err.Error()
		ev.ErrorCode = string(domain.KindProtocol)
		return err
	}

	contentType := ev.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	msg := ports.PublishMessage{
		Body:          body,
		Exchange:      ev.Exchange,
		RoutingKey:    ev.RoutingKey,
		MessageID:     ev.EventID,
		CorrelationID: ev.CorrelationID,
		Timestamp:     ev.OccurredAt,
		ContentType:   contentType,
		Headers:       messaging.BuildHeaders(ev),
		Persistent:    ev.Priority == domain.PriorityCritical,
		Mandatory:     p.mandatory,
	}

	var lastErr error
	for attempt := 1; attempt <= maxInner; attempt++ {
		attemptTimer := health.NewTimer()
		callErr := p.breaker.Execute(func() error {
			return p.publisher.Publish(ctx, msg)
		})
		attemptTimer.ObserveDuration(health.PublishDuration.WithLabelValues(ev.Exchange, ev.RoutingKey))
		if callErr == nil {
			return nil
		}
		lastErr = callErr
		ev.ErrorMessage = callErr.Error()

		if errors.Is(callErr, domain.ErrCircuitOpen) {
			ev.ErrorCode = "circuit_open"
			health.PublishErrorsTotal.WithLabelValues(ev.ErrorCode, "non_retriable").Inc()
			break
		}

		var pubErr *domain.PublishError
		if errors.As(callErr, &pubErr) {
			ev.ErrorCode = string(pubErr.Kind)
		} else {
			ev.ErrorCode = string(domain.KindProtocol)
		}

		retriable := domain.IsRetriable(callErr)
		errCode := "non_retriable"
		if retriable {
			errCode = "retriable"
		}
		health.PublishErrorsTotal.WithLabelValues(ev.ErrorCode, errCode).Inc()

		if !retriable {
			break
		}
		if attempt < maxInner {
			health.EventsRetriedTotal.WithLabelValues(ev.EventType, ev.EventDomain, strconv.Itoa(attempt+1)).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(CalculateRetryDelay(p.retryCfg, attempt)):
			}
		}
	}
	return lastErr
}

// emitQueueDepth refreshes the queue-depth and oldest-pending-age gauges from
// C1's aggregate stats, per spec.md §4.4 step 6's "new queue depth" metric.
// Run unconditionally at the end of every cycle, even one that claimed
// nothing or failed to claim, so the gauges never go stale while the
// processor is ticking.
func (p *Processor) emitQueueDepth(ctx context.Context) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return
	}
	for status, count := range stats.ByStatus {
		health.QueueDepth.WithLabelValues(string(status)).Set(float64(count))
	}
	if stats.OldestPendingOccurredAt != nil {
		health.OldestPendingAgeSeconds.Set(time.Since(*stats.OldestPendingOccurredAt).Seconds())
	} else {
		health.OldestPendingAgeSeconds.Set(0)
	}
}

// InFlight reports whether a cycle is currently executing, used by C5's
// shutdown poll.
func (p *Processor) InFlight() bool {
	return p.running.Load()
}

func rowIDs(events []*domain.Event) []int64 {
	ids := make([]int64, len(events))
	for i, ev := range events {
		ids[i] = ev.RowID
	}
	return ids
}
