// Package supervisor is C5: the periodic driver of C4 in continuous mode,
// the relay's lifecycle state machine, and graceful shutdown coordination.
// Grounded on the teacher's cmd/relay/main.go wiring (signal handling,
// context cancellation, timed shutdown of a background service) generalized
// from a single goroutine into an explicit state machine per spec.md §4.5.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/outboxrelay/relay/internal/adapters/processor"
	"github.com/outboxrelay/relay/internal/config"
	"github.com/outboxrelay/relay/internal/core/ports"
	"github.com/outboxrelay/relay/internal/logging"
)

// LifecycleState is one node of spec.md §4.5's state machine.
type LifecycleState string

const (
	StateStopped  LifecycleState = "stopped"
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
	StateError    LifecycleState = "error"
)

// Supervisor owns the processor's lifecycle: starting it, ticking it on a
// schedule in continuous mode, and shutting it down without abandoning an
// in-flight cycle.
type Supervisor struct {
	proc   *processor.Processor
	store  ports.OutboxStore
	pub    ports.Publisher
	cb     ports.CircuitBreaker
	relay  config.RelayConfig
	batch  config.BatchConfig
	log    logging.Logger
	stats  Stats

	mu         sync.RWMutex
	state      LifecycleState
	startedAt  time.Time
	cancelTick context.CancelFunc
	tickDone   chan struct{}
}

// New builds a Supervisor in the stopped state.
func New(proc *processor.Processor, store ports.OutboxStore, pub ports.Publisher, cb ports.CircuitBreaker,
	relay config.RelayConfig, batch config.BatchConfig, log logging.Logger) *Supervisor {
	return &Supervisor{
		proc: proc, store: store, pub: pub, cb: cb,
		relay: relay, batch: batch, log: log,
		state: StateStopped,
	}
}

// Lifecycle reports the current lifecycle state.
func (s *Supervisor) Lifecycle() LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// State implements health.Probe: the same value as Lifecycle, as a plain
// string so the health package doesn't need to import supervisor.
func (s *Supervisor) State() string {
	return string(s.Lifecycle())
}

func (s *Supervisor) setState(st LifecycleState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// StartedAt reports when Start began, used by the startup probe to decide
// whether startup_timeout_ms has elapsed.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Start transitions stopped -> starting -> running. In continuous mode it
// schedules the processor on batch.interval_ms; in polling mode it runs (or
// skips) the startup cycle and returns without scheduling anything further.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.store.Ping(ctx); err != nil {
		s.setState(StateError)
		return fmt.Errorf("supervisor start: outbox store unreachable: %w", err)
	}
	if err := s.pub.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("broker not reachable at startup, continuing: publisher will reconnect lazily")
	}

	if s.relay.ProcessOnStartup {
		result := s.proc.Process(ctx)
		s.stats.Record(result)
	}

	s.setState(StateRunning)

	if s.relay.Mode == config.ModeContinuous {
		s.startTicker()
	}
	return nil
}

func (s *Supervisor) startTicker() {
	tickCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancelTick = cancel
	s.tickDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.batch.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				if s.Lifecycle() != StateRunning {
					continue
				}
				result := s.proc.Process(tickCtx)
				s.stats.Record(result)
				for _, e := range result.Errors {
					s.log.Error().Str("error", e).Msg("batch cycle reported an error")
				}
			}
		}
	}()
}

// TriggerBatch runs one cycle immediately, regardless of mode, for
// polling-mode external drivers. (The `process` CLI subcommand runs its own
// processor directly instead.)
func (s *Supervisor) TriggerBatch(ctx context.Context) processor.BatchResult {
	result := s.proc.Process(ctx)
	s.stats.Record(result)
	return result
}

// Stats returns a consistent snapshot of the running totals.
func (s *Supervisor) Stats() Snapshot {
	return s.stats.Snapshot()
}

// StatsSnapshot implements health.StatsProvider.
func (s *Supervisor) StatsSnapshot() interface{} {
	return s.Stats()
}

// Shutdown stops the ticker, waits up to graceful_shutdown_timeout for any
// in-flight cycle to finish, then closes the publisher and reports stopped
// regardless of whether the wait timed out.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.setState(StateStopping)

	s.mu.Lock()
	cancel := s.cancelTick
	done := s.tickDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.relay.GracefulShutdownTimeout):
			s.log.Warn().Msg("graceful shutdown timeout elapsed before ticker goroutine exited")
		}
	}

	deadline := time.Now().Add(s.relay.GracefulShutdownTimeout)
	for s.proc.InFlight() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if s.proc.InFlight() {
		s.log.Warn().Msg("shutdown proceeding while a cycle is still in flight")
	}

	var errs []error
	if err := s.pub.Close(); err != nil {
		errs = append(errs, err)
	}

	s.setState(StateStopped)
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %v", errs[0])
	}
	return nil
}
