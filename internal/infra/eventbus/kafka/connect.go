package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

// ConnectWithRetry attempts to establish a Kafka producer with exponential backoff.
// It will retry failed connection attempts for up to maxElapsed, starting with
// 5 second intervals. A zero maxElapsed uses five minutes. Canceling ctx stops
// retrying.
func ConnectWithRetry(
	ctx context.Context,
	cfg *Config,
	maxElapsed time.Duration,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*Publisher, error) {
	if maxElapsed == 0 {
		maxElapsed = 5 * time.Minute
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = 5 * time.Second

	var publisher *Publisher
	operation := func() error {
		client, err := NewClient(&ClientConfig{Brokers: cfg.Brokers, ClientID: cfg.ClientID, DialTimeout: cfg.DialTimeout})
		if err != nil {
			logger.Warn(ctx, "failed to connect to kafka, will retry", "error", err)
			return err
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		publisher = NewPublisher(producer, cfg, logger, metrics, tracer)
		publisher.client = client
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}
	return publisher, nil
}
