package ingestion

import (
	"SynthVault/internal/observability"
	"SynthVault/internal/vault"
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher is the slice of jetstream.JetStream the outbound side needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed vault events to
// vault.events.{type}. The engine's publish channel is best-effort, so
// downstream consumers needing completeness read the journal instead.
type OutboundPublisher struct {
	js      Publisher
	input   <-chan vault.Event
	metrics *observability.Metrics
}

func NewOutboundPublisher(js Publisher, input <-chan vault.Event, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{js: js, input: input, metrics: metrics}
}

// Run publishes until ctx is cancelled or the input is closed. Publish
// failures are logged and counted, never retried.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-p.input:
			if !ok {
				return nil
			}
			result := "ok"
			if err := p.publish(ctx, evt); err != nil {
				result = "error"
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.WithLabelValues(string(evt.Type), result).Inc()
			}
		}
	}
}

// EventSubject is the subject an event is published on.
func EventSubject(evt vault.Event) string {
	subject := fmt.Sprintf("%s.%s", EventSubjectRoot, evt.Type)
	if evt.Signal != "" {
		subject = fmt.Sprintf("%s.%s", subject, evt.Signal)
	}
	return subject
}

func (p *OutboundPublisher) publish(ctx context.Context, evt vault.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The event id doubles as the JetStream dedupe id.
	_, err = p.js.Publish(ctx, EventSubject(evt), data, jetstream.WithMsgID(evt.ID.String()))
	return err
}
