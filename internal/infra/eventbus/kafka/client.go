package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// ClientConfig holds the broker connection settings for NewClient.
type ClientConfig struct {
	Brokers     []string
	ClientID    string
	DialTimeout time.Duration
}

// newSaramaConfig returns the producer configuration used for task events.
// The producer is idempotent so broker-side retries never duplicate an event
// within a partition.
func newSaramaConfig(cfg *ClientConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Version = sarama.V3_6_0_0

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Net.MaxOpenRequests = 1

	if cfg.DialTimeout > 0 {
		config.Net.DialTimeout = cfg.DialTimeout
	}
	return config
}

// NewClient connects to the brokers in cfg.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	return sarama.NewClient(cfg.Brokers, newSaramaConfig(cfg))
}
