package kafka

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/eventing"
)

func TestMessagesAreKeyedByOrderingKey(t *testing.T) {
	env, err := eventing.EnvelopeFor(alerts.Event{
		ID: "evt-1", Type: alerts.EventAlertResolved, AlertID: "alert-1",
		OrganizationID: "org-a", UnitID: "unit-u", RuleID: "rule-1",
		OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	msg, err := encode(env)
	require.NoError(t, err)
	assert.Equal(t, "unit-u|rule-1", string(msg.Key))

	decoded, err := decode(msg)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, env.EventType, decoded.EventType)

	payload, err := eventing.NewAlertRegistry().DecodePayload(decoded)
	require.NoError(t, err)
	assert.Equal(t, "alert-1", payload.(alerts.Event).AlertID)
}

func TestNewProducerValidatesConfig(t *testing.T) {
	_, err := NewProducer(nil, "topic", testLogger())
	assert.Error(t, err)
	_, err = NewProducer([]string{"localhost:9092"}, "", testLogger())
	assert.Error(t, err)
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
