package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSaramaConfig(t *testing.T) {
	t.Parallel()

	cfg := newSaramaConfig(&ClientConfig{ClientID: "analysisctl", DialTimeout: 3 * time.Second})
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "analysisctl", cfg.ClientID)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 3*time.Second, cfg.Net.DialTimeout)

	assert.Equal(t, sarama.NewConfig().Net.DialTimeout, newSaramaConfig(&ClientConfig{}).Net.DialTimeout)
}
