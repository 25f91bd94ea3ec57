package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
)

type badPayload struct {
	Sequence int `json:"sequence"`
}

func (badPayload) EventType() event.Type { return "bad" }

func TestEnvelope_FlatWireForm(t *testing.T) {
	fields, err := event.Fields(event.RFQStatusChanged{RFQID: "r1", Status: "awarded"})
	require.NoError(t, err)

	env := event.Envelope{
		Event:         event.TypeRFQStatusChanged,
		SchemaVersion: event.SchemaVersion,
		Sequence:      3,
		Timestamp:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		PrevHash:      "aa",
		Hash:          "bb",
		Fields:        fields,
	}
	line, err := json.Marshal(env)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(line, &flat))
	assert.Equal(t, "r1", flat["rfq_id"])
	assert.Equal(t, "rfq_status_changed", flat["event"])
	assert.Equal(t, float64(1), flat["schema_version"])
	assert.Equal(t, "bb", flat["hash_chain"])

	var back event.Envelope
	require.NoError(t, json.Unmarshal(line, &back))
	assert.Equal(t, int64(3), back.Sequence)
	assert.Equal(t, "awarded", back.Field("status"))
	assert.True(t, back.Timestamp.Equal(env.Timestamp))
	_, leaked := back.Fields["sequence"]
	assert.False(t, leaked, "envelope fields must not stay in payload fields")
}

func TestEnvelope_CanonicalBodyExcludesHash(t *testing.T) {
	env := event.Envelope{Event: "x", Hash: "one", Fields: map[string]json.RawMessage{}}
	a, err := env.CanonicalBody()
	require.NoError(t, err)
	env.Hash = "two"
	b, err := env.CanonicalBody()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotContains(t, string(a), "hash_chain")
}

func TestFields_RejectsReservedNames(t *testing.T) {
	_, err := event.Fields(badPayload{Sequence: 1})
	assert.Error(t, err)
}

func TestFields_DecimalAsString(t *testing.T) {
	fields, err := event.Fields(event.PartialFillStarted{RFQID: "r", TotalAwarded: decimal.RequireFromString("1500000.50")})
	require.NoError(t, err)
	assert.Equal(t, `"1500000.5"`, string(fields["total_awarded"]))
}

func TestParseDomain(t *testing.T) {
	d, err := event.ParseDomain("partial_fill")
	require.NoError(t, err)
	assert.Equal(t, event.DomainPartialFill, d)

	_, err = event.ParseDomain("nope")
	assert.Error(t, err)
}
