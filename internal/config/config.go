// Package config defines the runtime configuration of the analysis services
// and the loaders that produce it.
package config

import "time"

// StorageDriver enumerates the supported task and record stores.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// Config represents the top-level configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Events      EventsConfig      `mapstructure:"events"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// EnvironmentConfig controls how service runs are dispatched.
type EnvironmentConfig struct {
	// DefaultMode is used when a run does not name a dispatch mode.
	DefaultMode string `mapstructure:"default_mode" validate:"oneof=local thread process"`

	// Username is recorded on tasks started without an explicit analyst.
	Username string `mapstructure:"username" validate:"required"`

	// NotifyRate is the maximum number of intermediate task updates per
	// second a single run may push. Zero disables the limit.
	NotifyRate  float64 `mapstructure:"notify_rate" validate:"gte=0"`
	NotifyBurst int     `mapstructure:"notify_burst" validate:"gte=0"`

	// WorkerArgs are appended to the worker subcommand in process mode.
	WorkerArgs []string `mapstructure:"worker_args"`

	// RunTimeout bounds a single CLI invocation. Zero means no timeout.
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"gte=0"`
}

// PluginsConfig controls service discovery.
type PluginsConfig struct {
	// Dirs are plugin roots. Without roots every compiled-in service loads.
	Dirs []string `mapstructure:"dirs" validate:"dive,required"`

	// Policy decides which services are enabled: "all" or "record".
	Policy string `mapstructure:"policy" validate:"oneof=all record"`
}

// StorageConfig selects the task and record store.
type StorageConfig struct {
	Driver      StorageDriver `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string        `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string        `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
	MaxConns    int32         `mapstructure:"max_conns" validate:"gte=1"`
	// Migrate applies pending schema migrations on startup.
	Migrate bool `mapstructure:"migrate"`
}

// EventsConfig controls publication of task lifecycle events.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers" validate:"dive,hostname_port"`
	Topic          string        `mapstructure:"topic" validate:"required_if=Enabled true"`
	ClientID       string        `mapstructure:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
}

// TelemetryConfig controls trace and metric export.
type TelemetryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ServiceName      string  `mapstructure:"service_name" validate:"required"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint" validate:"required_if=Enabled true"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	Insecure         bool    `mapstructure:"insecure"`
}
