// Package redpanda publishes scored-submission events to Redpanda/Kafka.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// DefaultTopic receives one record per scored submission.
const DefaultTopic = "submission-scored"

// producer is the subset of *kgo.Client used by Publisher.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher implements domain.EventPublisher.
type Publisher struct {
	client producer
	topic  string
}

// NewPublisher connects to brokers and makes sure topic exists. Topic creation
// failures are logged only; the broker may auto-create or forbid admin calls.
func NewPublisher(ctx context.Context, brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kt := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.WithHooks(kt.Hooks()...),
		kgo.RequestRetries(5),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("failed to ensure events topic", slog.String("topic", topic), slog.Any("error", err))
	}
	slog.Info("redpanda publisher ready", slog.Any("brokers", brokers), slog.String("topic", topic))
	return newPublisher(client, topic), nil
}

func newPublisher(client producer, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Publish writes ev as JSON, keyed by participant email so one participant's
// events stay ordered within a partition.
func (p *Publisher) Publish(ctx domain.Context, ev domain.SubmissionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=redpanda.Publisher.Publish: %w", err)
	}
	key := ev.Email
	if key == "" {
		key = ev.ID
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "module", Value: []byte(ev.Module)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Timestamp: ev.SubmittedAt,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.Publisher.Publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
