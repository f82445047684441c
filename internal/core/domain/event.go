// Package domain holds the types shared across the outbox relay: the event
// row, its status/priority enums, and the consumer watermark record.
package domain

import "time"

// Priority controls publish ordering within a batch and the AMQP delivery
// mode. Only Critical forces persistent delivery.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities for the claim query (descending: critical first).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Status is the outbox row state. Published and Discarded are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusDiscarded  Status = "discarded"
)

func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusDiscarded
}

// Event is one outbox row, addressed internally by RowID and identified to
// the outside world by EventID (stable across retries, used by consumers
// for dedup).
type Event struct {
	RowID int64

	EventID       string
	EventType     string
	EventVersion  string
	EventDomain   string
	SourceService string
	SourceEntity  EntityRef

	CorrelationID string
	CausationID   string
	ParentEventID string

	// Payload and Metadata are opaque: stored and transmitted as bytes,
	// never interpreted by the relay beyond flattening Metadata keys into
	// broker headers.
	Payload  []byte
	Metadata map[string]string

	ContentType string
	Priority    Priority
	Exchange    string
	RoutingKey  string

	Status      Status
	Attempts    int
	MaxAttempts int

	NextAttemptAt time.Time
	OccurredAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   *time.Time
	FailedAt      *time.Time

	ErrorMessage string
	ErrorCode    string
}

// EntityRef identifies the origin entity of an event.
type EntityRef struct {
	Type string
	ID   string
}

// Envelope is the canonical JSON wire body published to the broker, per
// spec.md §6.
type Envelope struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Version       string            `json:"version"`
	Domain        string            `json:"domain"`
	Source        EnvelopeSource    `json:"source"`
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	ParentEventID string            `json:"parentEventId,omitempty"`
	Payload       RawPayload        `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// EnvelopeSource mirrors Event.SourceService/SourceEntity in the wire shape.
type EnvelopeSource struct {
	Service    string `json:"service"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// RawPayload passes the opaque payload bytes through json.Marshal verbatim
// (it is already a JSON document produced by the writer service) instead of
// re-encoding it as a base64 string.
type RawPayload []byte

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// Watermark records that a consumer has processed a given event_id — the
// idempotency key for downstream dedup and for the claim query's
// NOT EXISTS check.
type Watermark struct {
	ConsumerName        string
	EventID             string
	Status              string
	Result              string
	ProcessingDurationMs int64
	ErrorMessage         string
	ErrorCode            string
	ProcessedAt          time.Time
}

// StoreStats is the aggregate view returned by the statistics operation.
type StoreStats struct {
	ByStatus                map[Status]int64
	OldestPendingOccurredAt *time.Time
	NewestPendingOccurredAt *time.Time
}
