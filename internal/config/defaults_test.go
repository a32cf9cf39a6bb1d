package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Validate(defaultConfig(t)))
}

func TestValidate_Events(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enabled bool
		brokers []string
		wantErr bool
	}{
		{name: "disabled without brokers", enabled: false, brokers: []string{}},
		{name: "enabled with empty broker list", enabled: true, brokers: []string{}, wantErr: true},
		{name: "enabled with nil broker list", enabled: true, brokers: nil, wantErr: true},
		{name: "enabled with broker", enabled: true, brokers: []string{"localhost:9092"}},
		{name: "enabled with malformed broker", enabled: true, brokers: []string{"kafka"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := defaultConfig(t)
			cfg.Events.Enabled = tt.enabled
			cfg.Events.Brokers = tt.brokers

			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
