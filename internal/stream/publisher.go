package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
)

// JetStreamPublisher is the publish half of jetstream.JetStream.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher forwards envelopes from an event log sink to NATS.
// Envelopes are published only after the local append succeeded; a failed
// publish is logged and skipped since the JSONL log stays authoritative.
type OutboundPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan event.Envelope
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js JetStreamPublisher, inputChan <-chan event.Envelope, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, metrics: metrics, logger: logger}
}

// Subject returns usdt.events.<domain>.<event>.
func Subject(env event.Envelope) string {
	return fmt.Sprintf("usdt.events.%s.%s", env.Domain, env.Event)
}

// Run publishes until ctx is done or the sink is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				op.logger.Warn().Err(err).
					Str("domain", string(env.Domain)).
					Int64("sequence", env.Sequence).
					Msg("outbound publish failed")
				continue
			}
			if op.metrics != nil {
				op.metrics.PublishedEvents.Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	// The domain and sequence identify a line uniquely, so JetStream can
	// drop redeliveries after a reconnect.
	msgID := fmt.Sprintf("%s-%d", env.Domain, env.Sequence)
	_, err = op.js.Publish(ctx, Subject(env), data, jetstream.WithMsgID(msgID))
	return err
}
