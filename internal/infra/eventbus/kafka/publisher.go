// Package kafka publishes analysis task events to Kafka.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/domain/events"
	"github.com/ahrav/analysis-armada/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/analysis-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

// Config contains settings for connecting to Kafka brokers and routing events.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// TaskEventsTopic receives every task lifecycle event.
	TaskEventsTopic string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
	// DialTimeout bounds each broker connection attempt. Zero keeps sarama's default.
	DialTimeout time.Duration
}

var _ events.EventPublisher = (*Publisher)(nil)

// Publisher implements events.EventPublisher with a sarama SyncProducer.
type Publisher struct {
	producer sarama.SyncProducer
	client   sarama.Client

	// Maps domain event types to Kafka topic names.
	topics map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PublisherMetrics
}

// NewPublisher wraps an existing producer. metrics may be nil.
func NewPublisher(
	producer sarama.SyncProducer,
	cfg *Config,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) *Publisher {
	return &Publisher{
		producer: producer,
		topics: map[events.EventType]string{
			analysis.EventTypeTaskStarted:    cfg.TaskEventsTopic,
			analysis.EventTypeTaskProgressed: cfg.TaskEventsTopic,
			analysis.EventTypeTaskFinished:   cfg.TaskEventsTopic,
		},
		logger:  logger.With("component", "kafka_publisher"),
		tracer:  tracer,
		metrics: metrics,
	}
}

// Publish sends an event to the topic mapped to its type. The event key is
// used for partition routing so all events of one object stay ordered.
func (p *Publisher) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := p.topics[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	event = events.Apply(event, opts...)
	ctx, span := tracing.StartProducerSpan(ctx, topic, event, p.tracer)
	defer span.End()

	msgBytes, err := serialization.SerializeEventEnvelope(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialization failed")
		p.incPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	for k, v := range event.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		p.incPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	if p.metrics != nil {
		p.metrics.IncMessagePublished(ctx, topic)
	}
	span.SetStatus(codes.Ok, "")
	p.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"event_type", string(event.Type),
		"key", event.Key,
	)
	return nil
}

func (p *Publisher) incPublishError(ctx context.Context, topic string) {
	if p.metrics != nil {
		p.metrics.IncPublishError(ctx, topic)
	}
}

// Close shuts down the producer and, when the publisher owns it, the client.
func (p *Publisher) Close() error {
	err := p.producer.Close()
	if p.client != nil {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
