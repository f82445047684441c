// Package mocks provides hand-rolled fakes for the core ports, in the
// sync.RWMutex-guarded, error-injectable, call-counting shape the relay's
// own test suite uses throughout instead of a generated mocking library.
package mocks

import (
	"context"
	"sync"

	"github.com/outboxrelay/relay/internal/core/ports"
)

// Publisher implements ports.Publisher for testing the processor and
// supervisor without a real broker connection.
type Publisher struct {
	mu sync.RWMutex

	Published    []ports.PublishMessage
	PublishError error
	PublishCount int

	PingError error
	Closed    bool
}

var _ ports.Publisher = (*Publisher)(nil)

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (m *Publisher) Publish(ctx context.Context, msg ports.PublishMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCount++
	if m.PublishError != nil {
		return m.PublishError
	}
	m.Published = append(m.Published, msg)
	return nil
}

func (m *Publisher) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PingError
}

func (m *Publisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Messages returns a copy of everything published so far.
func (m *Publisher) Messages() []ports.PublishMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.PublishMessage, len(m.Published))
	copy(out, m.Published)
	return out
}

func (m *Publisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = nil
	m.PublishError = nil
	m.PublishCount = 0
	m.PingError = nil
	m.Closed = false
}
