package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ANALYSIS_STORAGE_DRIVER.
const EnvPrefix = "ANALYSIS"

// SetDefaults registers the default value of every key on v. Viper only
// consults the environment for keys it knows about, so every key is listed.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("environment.default_mode", "thread")
	v.SetDefault("environment.username", "analyst")
	v.SetDefault("environment.notify_rate", 0)
	v.SetDefault("environment.notify_burst", 1)
	v.SetDefault("environment.worker_args", []string{})
	v.SetDefault("environment.run_timeout", time.Duration(0))

	v.SetDefault("plugins.dirs", []string{})
	v.SetDefault("plugins.policy", "all")

	v.SetDefault("storage.driver", string(StorageMemory))
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.migrate", true)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "analysis-task-events")
	v.SetDefault("events.client_id", "analysis-armada")
	v.SetDefault("events.connect_timeout", 30*time.Second)
	v.SetDefault("events.dial_timeout", 10*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "analysis-armada")
	v.SetDefault("telemetry.exporter_endpoint", "")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.insecure", true)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateEvents, EventsConfig{})
	return v
}

// validateEvents requires at least one broker once publishing is on. An
// empty, non-nil slice satisfies required_if.
func validateEvents(sl validator.StructLevel) {
	ev, ok := sl.Current().Interface().(EventsConfig)
	if !ok {
		return
	}
	if ev.Enabled && len(ev.Brokers) == 0 {
		sl.ReportError(ev.Brokers, "Brokers", "brokers", "required_when_enabled", "")
	}
}

// Validate checks cfg against its struct constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
