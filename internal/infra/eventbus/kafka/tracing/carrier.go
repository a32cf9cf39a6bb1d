package tracing

import (
	"slices"

	"github.com/IBM/sarama"
)

// MessageCarrier adapts sarama record headers to propagation.TextMapCarrier.
// Set replaces an existing header of the same key, so injecting twice into a
// retried message leaves one traceparent.
type MessageCarrier struct {
	Headers []sarama.RecordHeader
}

func (mc *MessageCarrier) index(key string) int {
	return slices.IndexFunc(mc.Headers, func(h sarama.RecordHeader) bool { return string(h.Key) == key })
}

func (mc *MessageCarrier) Get(key string) string {
	if i := mc.index(key); i >= 0 {
		return string(mc.Headers[i].Value)
	}
	return ""
}

func (mc *MessageCarrier) Set(key, value string) {
	if i := mc.index(key); i >= 0 {
		mc.Headers[i].Value = []byte(value)
		return
	}
	mc.Headers = append(mc.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (mc *MessageCarrier) Keys() []string {
	keys := make([]string, 0, len(mc.Headers))
	for _, h := range mc.Headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}
