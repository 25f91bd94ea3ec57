package stream_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/stream"
)

// ============================================================================
// Outbound
// ============================================================================

type published struct {
	subject string
	data    []byte
}

type fakeJS struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (f *fakeJS) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("nats down")
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{Stream: stream.EventsStream, Sequence: uint64(len(f.msgs))}, nil
}

func envelope(seq int64) event.Envelope {
	return event.Envelope{
		Domain:        event.DomainSettlement,
		Event:         event.TypeSettlementEscalated,
		SchemaVersion: 1,
		Sequence:      seq,
		Timestamp:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Fields:        map[string]json.RawMessage{"settlement_id": json.RawMessage(`"s1"`)},
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "usdt.events.settlement.settlement_escalated", stream.Subject(envelope(1)))
}

func TestOutboundPublisher_PublishesUntilClosed(t *testing.T) {
	js := &fakeJS{}
	in := make(chan event.Envelope, 2)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	in <- envelope(1)
	in <- envelope(2)
	close(in)

	err := stream.NewOutboundPublisher(js, in, metrics, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, js.msgs, 2)
	assert.Equal(t, "usdt.events.settlement.settlement_escalated", js.msgs[0].subject)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.msgs[1].data, &decoded))
	assert.Equal(t, "s1", decoded["settlement_id"])
	assert.EqualValues(t, 2, decoded["sequence"])
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PublishedEvents))
}

func TestOutboundPublisher_FailuresAreNonFatal(t *testing.T) {
	js := &fakeJS{fail: true}
	in := make(chan event.Envelope, 1)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	in <- envelope(1)
	close(in)

	require.NoError(t, stream.NewOutboundPublisher(js, in, metrics, zerolog.Nop()).Run(context.Background()))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.PublishErrors))
}

func TestOutboundPublisher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := stream.NewOutboundPublisher(&fakeJS{}, make(chan event.Envelope), nil, zerolog.Nop()).Run(ctx)
	assert.NoError(t, err)
}

// ============================================================================
// Inbound quotes
// ============================================================================

func TestParseQuote(t *testing.T) {
	req, err := stream.ParseQuote("usdt.quotes.rfq-9", []byte(`{"provider_id":42,"unit_price":"615000.50","capacity":"2000000"}`))
	require.NoError(t, err)
	assert.Equal(t, "rfq-9", req.RFQID)
	assert.Equal(t, int64(42), req.ProviderID)
	assert.True(t, req.UnitPrice.Equal(decimal.RequireFromString("615000.50")))

	req, err = stream.ParseQuote("usdt.quotes.x", []byte(`{"rfq_id":"rfq-1","provider_id":1,"unit_price":"1","capacity":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "rfq-1", req.RFQID, "body wins over subject")

	_, err = stream.ParseQuote("usdt.quotes.r", []byte(`{"unit_price":"abc","capacity":"1"}`))
	assert.Error(t, err)
	_, err = stream.ParseQuote("usdt.quotes.r", []byte(`not json`))
	assert.Error(t, err)
}

// fakeMsg overrides the jetstream.Msg methods Handle uses.
type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
	headers nats.Header
	outcome string
	err     error
}

func (m *fakeMsg) Headers() nats.Header { return m.headers }
func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.outcome = "ack"; return m.err }
func (m *fakeMsg) Nak() error      { m.outcome = "nak"; return m.err }
func (m *fakeMsg) Term() error     { m.outcome = "term"; return m.err }

type fakeSubmitter struct {
	err   error
	calls *int
}

func (f fakeSubmitter) Submit(req quote.SubmitRequest) (quote.Quote, error) {
	if f.calls != nil {
		*f.calls++
	}
	return quote.Quote{QuoteID: "q1", RFQID: req.RFQID}, f.err
}

func TestQuoteSubscriber_Handle(t *testing.T) {
	body := []byte(`{"provider_id":1,"unit_price":"1","capacity":"1"}`)
	cases := []struct {
		name string
		data []byte
		err  error
		want string
	}{
		{"accepted", body, nil, "ack"},
		{"domain rejection", body, core.Errorf(core.ErrRateLimited, "slow down"), "term"},
		{"transient", body, errors.New("boom"), "nak"},
		{"malformed", []byte(`{`), nil, "term"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &fakeMsg{subject: "usdt.quotes.rfq-1", data: tc.data}
			stream.NewQuoteSubscriber(fakeSubmitter{err: tc.err}, zerolog.Nop()).Handle(msg)
			assert.Equal(t, tc.want, msg.outcome)
		})
	}
}

func TestQuoteSubscriber_SkipsRedelivery(t *testing.T) {
	calls := 0
	sub := stream.NewQuoteSubscriber(fakeSubmitter{calls: &calls}, zerolog.Nop())
	body := []byte(`{"provider_id":1,"unit_price":"1","capacity":"1"}`)

	for i := 0; i < 2; i++ {
		msg := &fakeMsg{subject: "usdt.quotes.rfq-1", data: body, headers: nats.Header{nats.MsgIdHdr: []string{"m-1"}}}
		sub.Handle(msg)
		assert.Equal(t, "ack", msg.outcome)
	}
	assert.Equal(t, 1, calls)

	// Without a message id every delivery is applied.
	for i := 0; i < 2; i++ {
		sub.Handle(&fakeMsg{subject: "usdt.quotes.rfq-1", data: body})
	}
	assert.Equal(t, 3, calls)
}

func TestQuoteSubscriber_TransientFailureIsRetried(t *testing.T) {
	calls := 0
	sub := stream.NewQuoteSubscriber(fakeSubmitter{err: errors.New("boom"), calls: &calls}, zerolog.Nop())
	body := []byte(`{"provider_id":1,"unit_price":"1","capacity":"1"}`)
	hdr := nats.Header{nats.MsgIdHdr: []string{"m-2"}}

	sub.Handle(&fakeMsg{subject: "usdt.quotes.rfq-1", data: body, headers: hdr})
	sub.Handle(&fakeMsg{subject: "usdt.quotes.rfq-1", data: body, headers: hdr})
	assert.Equal(t, 2, calls, "nak'd messages are not remembered")
}

func TestQuoteSubscriber_LogsSettleFailure(t *testing.T) {
	var buf bytes.Buffer
	sub := stream.NewQuoteSubscriber(fakeSubmitter{}, zerolog.New(&buf).Level(zerolog.WarnLevel))
	body := []byte(`{"provider_id":1,"unit_price":"1","capacity":"1"}`)

	msg := &fakeMsg{subject: "usdt.quotes.rfq-1", data: body, err: nats.ErrConnectionClosed}
	sub.Handle(msg)

	assert.Equal(t, "ack", msg.outcome)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "quote settle failed", line["message"])
	assert.Equal(t, "ack", line["outcome"])
	assert.Equal(t, nats.ErrConnectionClosed.Error(), line["error"])
}
