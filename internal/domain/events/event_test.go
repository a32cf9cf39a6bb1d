package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type tick struct{ at time.Time }

func (tick) EventType() EventType    { return "Tick" }
func (t tick) OccurredAt() time.Time { return t.at }

func TestNewEnvelope(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope(tick{at: at}, WithKey("sample-1"), WithHeaders(map[string]string{"origin": "cli"}))

	assert.Equal(t, EventType("Tick"), env.Type)
	assert.Equal(t, "sample-1", env.Key)
	assert.Equal(t, map[string]string{"origin": "cli"}, env.Headers)
	assert.Equal(t, at, env.Timestamp)
	assert.Equal(t, tick{at: at}, env.Payload)
}

func TestApply(t *testing.T) {
	t.Parallel()

	base := EventEnvelope{Type: "Tick", Key: "a", Headers: map[string]string{"x": "1"}}

	tests := []struct {
		name string
		opts []PublishOption
		want EventEnvelope
	}{
		{name: "no options", want: base},
		{
			name: "key override",
			opts: []PublishOption{WithKey("b")},
			want: EventEnvelope{Type: "Tick", Key: "b", Headers: map[string]string{"x": "1"}},
		},
		{
			name: "empty key keeps envelope key",
			opts: []PublishOption{WithKey("")},
			want: base,
		},
		{
			name: "headers replaced",
			opts: []PublishOption{WithHeaders(map[string]string{"y": "2"})},
			want: EventEnvelope{Type: "Tick", Key: "a", Headers: map[string]string{"y": "2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Apply(base, tt.opts...))
		})
	}
}
