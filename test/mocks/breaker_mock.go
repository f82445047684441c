package mocks

import "github.com/outboxrelay/relay/internal/core/ports"

// Breaker implements ports.CircuitBreaker as a pass-through, or forces a
// fixed error when ForceErr is set (e.g. domain.ErrCircuitOpen).
type Breaker struct {
	ForceErr  error
	StateVal  ports.BreakerState
	ResetCount int
}

var _ ports.CircuitBreaker = (*Breaker)(nil)

func NewBreaker() *Breaker {
	return &Breaker{}
}

func (b *Breaker) Execute(fn func() error) error {
	if b.ForceErr != nil {
		return b.ForceErr
	}
	return fn()
}

func (b *Breaker) State() ports.BreakerState {
	return b.StateVal
}

func (b *Breaker) Reset() {
	b.ResetCount++
	b.StateVal = ports.BreakerClosed
}
