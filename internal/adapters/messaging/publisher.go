// Package messaging is C2: a single RabbitMQ connection/channel that
// publishes one message at a time on behalf of the batch processor. The
// connect/reconnect shape, publisher-confirm handling, and mutex-guarded
// connection state are grounded on the pack's RabbitMQ publisher (connect,
// handleReconnect watching NotifyClose, ch.Confirm(false) +
// PublishWithDeferredConfirmWithContext). Mandatory-publish handling via
// NotifyReturn, correlated by MessageId, has no single example to copy from
// and is this package's own synthesis of the amqp091-go API.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/outboxrelay/relay/internal/adapters/health"
	"github.com/outboxrelay/relay/internal/config"
	"github.com/outboxrelay/relay/internal/core/domain"
	"github.com/outboxrelay/relay/internal/core/ports"
	"github.com/outboxrelay/relay/internal/logging"
)

// Publisher implements ports.Publisher over a single amqp091-go connection.
type Publisher struct {
	cfg config.BrokerConfig
	log logging.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	ch          *amqp.Channel
	connected   bool
	closed      bool
	notifyClose chan *amqp.Error

	returnsMu sync.Mutex
	pending   map[string]chan *amqp.Return
}

// New dials the broker once and starts the close watcher. It returns an
// error only if the first dial fails; subsequent connectivity problems are
// handled by reconnect-on-publish: the watcher only marks the publisher
// disconnected, and the next Publish call makes one fresh dial attempt.
func New(cfg config.BrokerConfig, log logging.Logger) (*Publisher, error) {
	p := &Publisher{
		cfg:     cfg,
		log:     log,
		pending: make(map[string]chan *amqp.Return),
	}
	if err := p.connect(); err != nil {
		return nil, domain.NewPublishError(domain.KindTransport, err)
	}
	return p, nil
}

func (p *Publisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := amqp.DialConfig(p.cfg.URL, amqp.Config{Heartbeat: p.cfg.Heartbeat})
	if err != nil {
		health.ReconnectsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		health.ReconnectsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("open channel: %w", err)
	}

	if p.cfg.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			health.ReconnectsTotal.WithLabelValues("failure").Inc()
			return fmt.Errorf("enable confirms: %w", err)
		}
	}

	notifyClose := make(chan *amqp.Error, 1)
	ch.NotifyClose(notifyClose)

	notifyReturn := make(chan amqp.Return, 16)
	ch.NotifyReturn(notifyReturn)

	p.conn = conn
	p.ch = ch
	p.connected = true
	p.notifyClose = notifyClose

	go p.watchReturns(notifyReturn)
	go p.watchClose(notifyClose)

	health.ReconnectsTotal.WithLabelValues("success").Inc()
	return nil
}

// watchClose marks the publisher disconnected the moment the channel drops,
// so the next Publish call knows to reconnect instead of writing to a dead
// channel. It does not itself retry — that happens lazily, on demand.
func (p *Publisher) watchClose(notifyClose chan *amqp.Error) {
	err, ok := <-notifyClose
	if !ok || err == nil {
		return
	}
	p.mu.Lock()
	if p.notifyClose == notifyClose {
		p.connected = false
	}
	p.mu.Unlock()
	p.log.Warn().Err(err).Msg("broker channel closed")
}

// watchReturns delivers each NotifyReturn to the pending Publish call
// waiting on that message, keyed by MessageId. A return with no waiter
// (the Publish call already gave up, or the message was not mandatory) is
// dropped.
func (p *Publisher) watchReturns(notifyReturn chan amqp.Return) {
	for ret := range notifyReturn {
		ret := ret
		p.returnsMu.Lock()
		waiter, ok := p.pending[ret.MessageId]
		if ok {
			delete(p.pending, ret.MessageId)
		}
		p.returnsMu.Unlock()
		if ok {
			waiter <- &ret
		}
	}
}

func (p *Publisher) registerReturn(messageID string) chan *amqp.Return {
	ch := make(chan *amqp.Return, 1)
	p.returnsMu.Lock()
	p.pending[messageID] = ch
	p.returnsMu.Unlock()
	return ch
}

func (p *Publisher) unregisterReturn(messageID string) {
	p.returnsMu.Lock()
	delete(p.pending, messageID)
	p.returnsMu.Unlock()
}

// Publish implements ports.Publisher.
func (p *Publisher) Publish(ctx context.Context, msg ports.PublishMessage) error {
	p.mu.RLock()
	closed := p.closed
	connected := p.connected
	p.mu.RUnlock()

	if closed {
		return domain.NewPublishError(domain.KindProtocol, fmt.Errorf("publisher is closed"))
	}
	if !connected {
		if err := p.connect(); err != nil {
			return domain.NewPublishError(domain.KindTransport, err)
		}
	}

	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()

	deliveryMode := amqp.Transient
	if msg.Persistent {
		deliveryMode = amqp.Persistent
	}

	publishing := amqp.Publishing{
		DeliveryMode:  deliveryMode,
		ContentType:   msg.ContentType,
		Body:          msg.Body,
		Timestamp:     msg.Timestamp,
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Headers:       amqp.Table(msg.Headers),
	}

	var returnCh chan *amqp.Return
	if msg.Mandatory {
		returnCh = p.registerReturn(msg.MessageID)
		defer p.unregisterReturn(msg.MessageID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	deferredConfirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		msg.Exchange, msg.RoutingKey, msg.Mandatory, false, publishing)
	if err != nil {
		p.markDisconnected()
		return domain.NewPublishError(domain.ClassifyTransport(err), err)
	}

	if !p.cfg.PublisherConfirms {
		return p.waitForReturn(ctx, returnCh)
	}

	confirmed := make(chan bool, 1)
	go func() { confirmed <- deferredConfirm.Wait() }()

	select {
	case <-ctx.Done():
		return domain.NewPublishError(domain.KindTimeout, ctx.Err())
	case ack := <-confirmed:
		if !ack {
			return domain.NewPublishError(domain.KindProtocol, fmt.Errorf("broker nacked message %s", msg.MessageID))
		}
		return p.waitForReturn(ctx, returnCh)
	}
}

// returnGracePeriod bounds how long waitForReturn blocks for a basic.return
// frame. The broker sends a mandatory-unroutable return essentially
// synchronously with the publish, well before request_timeout elapses, so a
// short fixed grace period catches it without stalling every mandatory
// publish for the full confirm timeout.
const returnGracePeriod = 250 * time.Millisecond

// waitForReturn blocks up to returnGracePeriod (or until ctx is done,
// whichever is sooner) for a NotifyReturn delivered to returnCh. A message
// that was never mandatory (returnCh == nil) returns immediately.
func (p *Publisher) waitForReturn(ctx context.Context, returnCh chan *amqp.Return) error {
	if returnCh == nil {
		return nil
	}
	timer := time.NewTimer(returnGracePeriod)
	defer timer.Stop()
	select {
	case ret := <-returnCh:
		return domain.NewPublishError(domain.KindReturned,
			fmt.Errorf("message returned by broker: %d %s", ret.ReplyCode, ret.ReplyText))
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return nil
	}
}

func (p *Publisher) markDisconnected() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// Ping implements ports.Publisher.
func (p *Publisher) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || !p.connected || p.conn == nil || p.conn.IsClosed() {
		return domain.NewPublishError(domain.KindTransport, fmt.Errorf("not connected"))
	}
	return nil
}

// Close implements ports.Publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.connected = false
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// BackoffDelay returns the delay before the nth reconnect attempt
// (1-indexed), doubling from cfg.RetryDelayBase and capped at 1 minute.
func BackoffDelay(cfg config.BrokerConfig, attempt int) time.Duration {
	delay := cfg.RetryDelayBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > time.Minute {
			return time.Minute
		}
	}
	return delay
}
