package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/quote"
)

const (
	quoteConsumer = "usdtd-quotes"

	// recentQuoteIDs bounds the redelivery filter.
	recentQuoteIDs = 10000
)

// QuoteSubmitter is implemented by quote.Registry.
type QuoteSubmitter interface {
	Submit(req quote.SubmitRequest) (quote.Quote, error)
}

// quoteJSON is the wire format provider bots publish. Amounts travel as
// strings so no float rounding happens on the way in.
type quoteJSON struct {
	RFQID      string `json:"rfq_id"`
	ProviderID int64  `json:"provider_id"`
	UnitPrice  string `json:"unit_price"`
	Capacity   string `json:"capacity"`
}

// ParseQuote decodes a quote message. The RFQ id comes from the body, or
// from the last subject token when the body omits it.
func ParseQuote(subject string, data []byte) (quote.SubmitRequest, error) {
	var j quoteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return quote.SubmitRequest{}, fmt.Errorf("parse quote: %w", err)
	}
	if j.RFQID == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 && i < len(subject)-1 {
			j.RFQID = subject[i+1:]
		}
	}
	if j.RFQID == "" || j.RFQID == ">" {
		return quote.SubmitRequest{}, fmt.Errorf("parse quote: missing rfq_id")
	}
	price, err := decimal.NewFromString(j.UnitPrice)
	if err != nil {
		return quote.SubmitRequest{}, fmt.Errorf("parse unit_price: %w", err)
	}
	capacity, err := decimal.NewFromString(j.Capacity)
	if err != nil {
		return quote.SubmitRequest{}, fmt.Errorf("parse capacity: %w", err)
	}
	return quote.SubmitRequest{RFQID: j.RFQID, ProviderID: j.ProviderID, UnitPrice: price, Capacity: capacity}, nil
}

// QuoteSubscriber feeds provider quotes from JetStream into the quote
// registry. Malformed messages and domain rejections are terminated, since
// redelivery cannot change the outcome; anything else is nak'd.
//
// Messages carrying a Nats-Msg-Id header are applied at most once per
// subscriber lifetime. A redelivered quote would otherwise be stored a
// second time as a rate-limited rejection.
type QuoteSubscriber struct {
	quotes   QuoteSubmitter
	logger   zerolog.Logger
	seen     *core.RecentKeys
	consumer jetstream.ConsumeContext
}

func NewQuoteSubscriber(quotes QuoteSubmitter, logger zerolog.Logger) *QuoteSubscriber {
	return &QuoteSubscriber{quotes: quotes, logger: logger, seen: core.NewRecentKeys(recentQuoteIDs)}
}

// Subscribe creates a durable consumer on the quotes stream and starts
// consuming. Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (qs *QuoteSubscriber) Subscribe(ctx context.Context, js StreamManager) error {
	consumer, err := js.CreateOrUpdateConsumer(ctx, QuotesStream, jetstream.ConsumerConfig{
		Durable:       quoteConsumer,
		FilterSubject: QuotesSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", quoteConsumer, err)
	}
	cc, err := consumer.Consume(qs.Handle)
	if err != nil {
		return fmt.Errorf("consume %s: %w", quoteConsumer, err)
	}
	qs.consumer = cc
	qs.logger.Info().Str("subject", QuotesSubjects).Str("consumer", quoteConsumer).Msg("subscribed")
	return nil
}

// Handle processes one message.
func (qs *QuoteSubscriber) Handle(msg jetstream.Msg) {
	var msgID string
	if h := msg.Headers(); h != nil {
		msgID = h.Get(nats.MsgIdHdr)
	}
	if msgID != "" && qs.seen.Contains(msgID) {
		qs.logger.Debug().Str("msg_id", msgID).Msg("duplicate quote skipped")
		qs.settle(msg, "ack", msg.Ack)
		return
	}

	req, err := ParseQuote(msg.Subject(), msg.Data())
	if err != nil {
		qs.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed quote")
		qs.settle(msg, "term", msg.Term)
		return
	}

	q, err := qs.quotes.Submit(req)
	var domainErr *core.Error
	switch {
	case err == nil:
		qs.logger.Debug().Str("quote_id", q.QuoteID).Str("rfq_id", q.RFQID).Msg("quote ingested")
		qs.remember(msgID)
		qs.settle(msg, "ack", msg.Ack)
	case errors.As(err, &domainErr):
		qs.logger.Info().Err(err).Str("rfq_id", req.RFQID).Int64("provider_id", req.ProviderID).Msg("quote refused")
		qs.remember(msgID)
		qs.settle(msg, "term", msg.Term)
	default:
		qs.logger.Error().Err(err).Str("rfq_id", req.RFQID).Msg("quote ingest failed")
		qs.settle(msg, "nak", msg.Nak)
	}
}

// settle reports the outcome to the broker. A lost ack only means a
// redelivery, which the msg id filter absorbs.
func (qs *QuoteSubscriber) settle(msg jetstream.Msg, outcome string, fn func() error) {
	if err := fn(); err != nil {
		qs.logger.Warn().Err(err).
			Str("subject", msg.Subject()).
			Str("outcome", outcome).
			Msg("quote settle failed")
	}
}

func (qs *QuoteSubscriber) remember(msgID string) {
	if msgID != "" {
		qs.seen.Add(msgID)
	}
}

// Stop stops the consumer.
func (qs *QuoteSubscriber) Stop() {
	if qs.consumer != nil {
		qs.consumer.Stop()
	}
	qs.logger.Info().Msg("quote subscriber stopped")
}
