// Package ingestion connects the vault to NATS JetStream: FX rates flow in
// to the feed oracles, committed vault events flow out.
package ingestion

import (
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	RateSubjectPrefix = "fx.rates."
	RateStream        = "FX_RATES"
	EventSubjectRoot  = "vault.events"
	EventStream       = "VAULT_EVENTS"
)

// RateSink accepts ordered rate updates for one pair. *oracle.FeedOracle
// implements it; replays must be reported with oracle.ErrOutOfOrder.
type RateSink interface {
	Pair() string
	Update(rate int64, publishedAt time.Time, sequence int64) error
}

// Disposition is what the subscriber does with a message after handling.
type Disposition int

const (
	Ack  Disposition = iota // applied, or a replay that is safe to drop
	Nak                     // transient, redeliver
	Term                    // malformed, never redeliver
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

// RateSubscriber feeds fx.rates.{PAIR} messages into the matching sinks.
type RateSubscriber struct {
	js       jetstream.JetStream
	consumer string
	metrics  *observability.Metrics

	mu        sync.RWMutex
	sinks     map[string]RateSink
	consumers []jetstream.ConsumeContext
}

func NewRateSubscriber(js jetstream.JetStream, consumer string, metrics *observability.Metrics, sinks ...RateSink) *RateSubscriber {
	s := &RateSubscriber{
		js:       js,
		consumer: consumer,
		metrics:  metrics,
		sinks:    make(map[string]RateSink, len(sinks)),
	}
	for _, sink := range sinks {
		s.sinks[strings.ToUpper(sink.Pair())] = sink
	}
	return s
}

// Handle applies one message and says how to acknowledge it.
func (s *RateSubscriber) Handle(subject string, data []byte) Disposition {
	upd, err := ParseRateUpdate(subject, data)
	if err != nil {
		s.count("unknown", "malformed")
		log.Printf("WARN: dropping malformed rate on %s: %v", subject, err)
		return Term
	}

	s.mu.RLock()
	sink, ok := s.sinks[upd.Pair]
	s.mu.RUnlock()
	if !ok {
		s.count(upd.Pair, "unrouted")
		return Ack
	}

	if err := sink.Update(upd.Rate, upd.PublishedAt, upd.Sequence); err != nil {
		if errors.Is(err, oracle.ErrOutOfOrder) {
			s.count(upd.Pair, "out_of_order")
			if s.metrics != nil {
				s.metrics.RateOutOfOrder.Inc()
			}
			return Ack
		}
		s.count(upd.Pair, "rejected")
		log.Printf("WARN: rate rejected pair=%s seq=%d: %v", upd.Pair, upd.Sequence, err)
		return Term
	}
	s.count(upd.Pair, "applied")
	return Ack
}

func (s *RateSubscriber) count(pair, result string) {
	if s.metrics != nil {
		s.metrics.RatesReceived.WithLabelValues(pair, result).Inc()
	}
}

// Subscribe creates one durable consumer per registered pair. Consumers use
// explicit ACK, max_deliver=5, ack_wait=30s, and start from the newest
// message: only the latest quote matters after a restart.
func (s *RateSubscriber) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pair := range s.sinks {
		name := fmt.Sprintf("%s-%s", s.consumer, strings.ToLower(pair))
		subject := RateSubjectPrefix + pair
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, RateStream, jetstream.ConsumerConfig{
			Durable:       name,
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverLastPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", name, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			switch s.Handle(msg.Subject(), msg.Data()) {
			case Ack:
				msg.Ack()
			case Nak:
				msg.Nak()
			case Term:
				msg.Term()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", name, err)
		}
		s.consumers = append(s.consumers, cc)
		log.Printf("INFO: subscribed to %s (consumer=%s)", subject, name)
	}
	return nil
}

// Stop stops every consumer.
func (s *RateSubscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.consumers = nil
	log.Println("INFO: rate subscribers stopped")
}

// EnsureStreams creates the inbound rate stream and the outbound event
// stream if they do not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:              RateStream,
			Subjects:          []string{RateSubjectPrefix + ">"},
			Storage:           jetstream.FileStorage,
			Retention:         jetstream.LimitsPolicy,
			MaxAge:            24 * time.Hour,
			MaxMsgsPerSubject: 1_000,
			Replicas:          1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubjectRoot + ".>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
