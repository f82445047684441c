package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxrelay/relay/internal/core/domain"
)

func TestEnvelope_MarshalsRawPayloadVerbatim(t *testing.T) {
	env := domain.Envelope{
		ID:        "evt-1",
		Type:      "order.created",
		Version:   "1",
		Domain:    "orders",
		Payload:   domain.RawPayload(`{"order_id":"o-1"}`),
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, map[string]interface{}{"order_id": "o-1"}, decoded["payload"])
}

func TestRawPayload_EmptyMarshalsNull(t *testing.T) {
	var p domain.RawPayload
	out, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
