package ports

import (
	"context"
	"time"
)

// PublishMessage is the fully-resolved set of attributes C4 hands to C2/C3
// for a single publish attempt, per spec.md §4.2/§6.
type PublishMessage struct {
	Body          []byte
	Exchange      string
	RoutingKey    string
	MessageID     string
	CorrelationID string
	Timestamp     time.Time
	ContentType   string
	Headers       map[string]interface{}
	Persistent    bool
	Mandatory     bool
}

// Publisher is C2: a single broker connection/channel that publishes one
// message with (optionally) publisher-confirm semantics.
type Publisher interface {
	// Publish completes when the broker acks the message (confirms on),
	// the local channel accepts the frame (confirms off), or a timeout /
	// broker return occurs — whichever is decisive. Errors are
	// *domain.PublishError.
	Publish(ctx context.Context, msg PublishMessage) error

	// Ping reports whether the connection is currently usable.
	Ping(ctx context.Context) error

	Close() error
}
