package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/outboxrelay/relay/internal/core/domain"
)

// BuildEnvelope renders ev into the canonical wire envelope: payload is
// carried as-is (domain.RawPayload passes the bytes through a MarshalJSON
// that never re-parses them), metadata flows into headers verbatim.
func BuildEnvelope(ev *domain.Event) ([]byte, error) {
	correlationID := ev.CorrelationID
	if correlationID == "" {
		// No correlation id means this event didn't originate from a
		// traced request; mint one so the envelope always carries one.
		// Each call mints a fresh id, so it is unique to this envelope.
		correlationID = uuid.NewString()
	}

	env := domain.Envelope{
		ID:      ev.EventID,
		Type:    ev.EventType,
		Version: ev.EventVersion,
		Domain:  ev.EventDomain,
		Source: domain.EnvelopeSource{
			Service:    ev.SourceService,
			EntityType: ev.SourceEntity.Type,
			EntityID:   ev.SourceEntity.ID,
		},
		CorrelationID: correlationID,
		CausationID:   ev.CausationID,
		ParentEventID: ev.ParentEventID,
		Payload:       domain.RawPayload(ev.Payload),
		Metadata:      ev.Metadata,
		Timestamp:     ev.OccurredAt,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope for event %s: %w", ev.EventID, err)
	}
	return body, nil
}

// BuildHeaders flattens ev's metadata and routing identifiers into AMQP
// headers. Values are copied verbatim — the relay never interprets them.
func BuildHeaders(ev *domain.Event) map[string]interface{} {
	headers := make(map[string]interface{}, len(ev.Metadata)+4)
	for k, v := range ev.Metadata {
		headers[k] = v
	}
	headers["event_id"] = ev.EventID
	headers["event_type"] = ev.EventType
	headers["event_domain"] = ev.EventDomain
	headers["event_version"] = ev.EventVersion
	headers["source_service"] = ev.SourceService
	headers["source_entity_type"] = ev.SourceEntity.Type
	headers["source_entity_id"] = ev.SourceEntity.ID
	headers["attempts"] = int64(ev.Attempts)
	headers["priority"] = string(ev.Priority)
	if ev.CorrelationID != "" {
		headers["correlation_id"] = ev.CorrelationID
	}
	if ev.CausationID != "" {
		headers["causation_id"] = ev.CausationID
	}
	if ev.ParentEventID != "" {
		headers["parent_event_id"] = ev.ParentEventID
	}
	return headers
}
